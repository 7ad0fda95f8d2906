// Package dedupe suppresses repeated stories with two layers: an exact hash of
// the normalized title inside a trailing window, and greedy fuzzy clustering
// against a bounded list of recently accepted titles.
package dedupe

import (
	"context"
	"fmt"
	"time"
)

// IsDuplicate reports whether title is at least threshold-similar to any of recent.
func IsDuplicate(title string, recent []string, threshold float64) bool {
	for _, r := range recent {
		if TokenSetRatio(title, r) >= threshold {
			return true
		}
	}
	return false
}

// ClusterSize counts the recent titles at least threshold-similar to title.
func ClusterSize(title string, recent []string, threshold float64) int {
	n := 0
	for _, r := range recent {
		if TokenSetRatio(title, r) >= threshold {
			n++
		}
	}
	return n
}

// HashStore answers exact-title lookups against persisted history.
type HashStore interface {
	TitleHashSeen(ctx context.Context, hash string, since time.Time) (bool, error)
}

type Config struct {
	Window        time.Duration
	Threshold     float64
	MaxPerCluster int
	Capacity      int
}

// Verdict is the result of the fuzzy layer for one title.
type Verdict struct {
	ClusterSize int
	Reject      bool
}

// Tracker holds the dedupe working set for a single poll cycle.
type Tracker struct {
	cfg       Config
	store     HashStore
	recent    *Recent
	runHashes map[string]struct{}
}

// NewTracker seeds the fuzzy layer with recent titles, most-recent-first.
func NewTracker(cfg Config, store HashStore, recent []string) *Tracker {
	return &Tracker{
		cfg:       cfg,
		store:     store,
		recent:    NewRecent(cfg.Capacity, recent),
		runHashes: make(map[string]struct{}),
	}
}

// SeenTitleHash reports whether hash was recorded within the window ending at
// now, counting hashes remembered earlier in this run.
func (t *Tracker) SeenTitleHash(ctx context.Context, hash string, now time.Time) (bool, error) {
	if _, ok := t.runHashes[hash]; ok {
		return true, nil
	}
	if t.store == nil {
		return false, nil
	}
	seen, err := t.store.TitleHashSeen(ctx, hash, now.Add(-t.cfg.Window))
	if err != nil {
		return false, fmt.Errorf("title hash lookup: %w", err)
	}
	return seen, nil
}

// Check runs the fuzzy layer. A story is accepted while fewer than
// MaxPerCluster recent titles already belong to it.
func (t *Tracker) Check(title string) Verdict {
	size := 0
	t.recent.each(func(r string) bool {
		if TokenSetRatio(title, r) >= t.cfg.Threshold {
			size++
		}
		return true
	})
	return Verdict{ClusterSize: size, Reject: size >= t.cfg.MaxPerCluster}
}

// Remember makes an accepted title visible to later candidates of the same run.
func (t *Tracker) Remember(title, hash string) {
	t.recent.Push(title)
	if hash != "" {
		t.runHashes[hash] = struct{}{}
	}
}

// Recent returns the current working set, most-recent-first.
func (t *Tracker) Recent() []string { return t.recent.Titles() }
