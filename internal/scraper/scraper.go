package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/deusflow/crisiswatch/internal/cache"
)

const (
	minReadableChars = 200
	maxBodyChars     = 4000
	maxPageBytes     = 4 << 20
)

// Resolver turns an article URL into plain text. It never fails: an empty
// string means the caller should fall back to the feed summary.
type Resolver struct {
	client    *http.Client
	userAgent string
	cache     *cache.Cache[string]
	log       *slog.Logger
}

func NewResolver(userAgent string, timeout, cacheTTL time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		cache:     cache.New[string](cacheTTL, 1000),
		log:       log.With("component", "scraper"),
	}
}

func (r *Resolver) Resolve(ctx context.Context, pageURL string) string {
	if text, ok := r.cache.Get(pageURL); ok {
		return text
	}
	text, err := r.extract(ctx, pageURL)
	if err != nil {
		r.log.Debug("body extraction failed", "url", pageURL, "error", err)
		return ""
	}
	r.cache.Set(pageURL, text)
	return text
}

func (r *Resolver) extract(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	if article, err := readability.FromReader(bytes.NewReader(page), u); err == nil {
		if text := collapse(article.TextContent); len(text) > minReadableChars {
			return clip(text, maxBodyChars), nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("error parsing HTML: %w", err)
	}
	return clip(extractGenericContent(doc), maxBodyChars), nil
}

// extractGenericContent takes paragraphs from the first selector that
// yields any, falling back to all visible page text.
func extractGenericContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	selectors := []string{
		"article p",
		".article-body p",
		".article p",
		".content p",
		".post-content p",
		".entry-content p",
		"main p",
		"#content p",
	}
	for _, selector := range selectors {
		var paragraphs []string
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			if text := collapse(s.Text()); len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > 0 {
			return strings.Join(paragraphs, " ")
		}
	}
	return collapse(doc.Find("body").Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clip cuts s to at most n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
