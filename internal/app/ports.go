package app

import (
	"context"
	"time"

	"github.com/deusflow/crisiswatch/internal/news"
)

// Store is the persistence surface the pipeline needs. Both storage.SQLStore
// and storage.FileStore satisfy it.
type Store interface {
	InsertSent(ctx context.Context, rec news.SentRecord) (bool, error)
	SentURL(ctx context.Context, url string) (bool, error)
	TitleHashSeen(ctx context.Context, hash string, since time.Time) (bool, error)
	CountSent(ctx context.Context, from, to time.Time) (int, error)
	RecentTitles(ctx context.Context, since time.Time, limit int) ([]string, error)
	Scalar(ctx context.Context, name string) (string, bool, error)
	SetScalar(ctx context.Context, name, value string) error
	Close() error
}

// FeedSource fetches the entries of one feed.
type FeedSource interface {
	Fetch(ctx context.Context, feedURL string) ([]news.Entry, error)
}

// BodyResolver returns the article text behind url, or "" when none could be
// extracted.
type BodyResolver interface {
	Resolve(ctx context.Context, url string) string
}

// Summarizer always returns a usable summary.
type Summarizer interface {
	Summarize(ctx context.Context, title, text string) string
}

// Notifier delivers a rendered alert.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// lastNonCriticalKey holds the cooldown anchor as Unix seconds.
const lastNonCriticalKey = "last_noncritical_send"
