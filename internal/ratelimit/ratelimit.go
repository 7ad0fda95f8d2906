package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrExhausted is returned by Take once the day's budget is spent.
var ErrExhausted = errors.New("daily budget exhausted")

// DailyBudget limits calls to a paid service per UTC day.
type DailyBudget struct {
	mu       sync.Mutex
	name     string
	limit    int
	used     int
	rejected int
	day      time.Time
	now      func() time.Time
}

// NewDailyBudget allows limit calls per day; a limit of zero means unlimited.
func NewDailyBudget(name string, limit int) *DailyBudget {
	b := &DailyBudget{name: name, limit: limit, now: time.Now}
	b.day = utcDay(b.now())
	return b
}

// Take consumes one call from today's budget.
func (b *DailyBudget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	if b.limit > 0 && b.used >= b.limit {
		b.rejected++
		return fmt.Errorf("%s: %w (%d/%d)", b.name, ErrExhausted, b.used, b.limit)
	}
	b.used++
	slog.Debug("budget usage", "service", b.name, "used", b.used, "limit", b.limit)
	return nil
}

// Remaining returns calls left today, or -1 when unlimited.
func (b *DailyBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	if b.limit <= 0 {
		return -1
	}
	return b.limit - b.used
}

func (b *DailyBudget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"service":  b.name,
		"used":     b.used,
		"limit":    b.limit,
		"rejected": b.rejected,
		"day":      b.day.Format("2006-01-02"),
	}
}

// checkReset starts a fresh budget on a new UTC day.
func (b *DailyBudget) checkReset() {
	today := utcDay(b.now())
	if today.After(b.day) {
		slog.Info("resetting daily budget", "service", b.name, "used", b.used, "rejected", b.rejected)
		b.day = today
		b.used = 0
		b.rejected = 0
	}
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
