package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/deusflow/crisiswatch/internal/news"
)

// Source fetches feeds with gofeed, capping each at Limit entries.
type Source struct {
	parser *gofeed.Parser
	limit  int
}

func NewSource(userAgent string, timeout time.Duration, limit int) *Source {
	p := gofeed.NewParser()
	p.UserAgent = userAgent
	p.Client = &http.Client{Timeout: timeout}
	return &Source{parser: p, limit: limit}
}

// Fetch downloads and parses one feed, returning entries in feed order.
func (s *Source) Fetch(ctx context.Context, feedURL string) ([]news.Entry, error) {
	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	items := feed.Items
	if s.limit > 0 && len(items) > s.limit {
		items = items[:s.limit]
	}
	entries := make([]news.Entry, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		summary := it.Description
		if summary == "" {
			summary = it.Content
		}
		entries = append(entries, news.Entry{Title: plainText(it.Title), Link: it.Link, Summary: plainText(summary)})
	}
	return entries, nil
}

// plainText drops markup that many feeds embed in titles and descriptions.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
