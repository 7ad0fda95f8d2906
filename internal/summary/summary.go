// Package summary produces the short text shown under an alert headline.
// A remote model is used when configured; every failure path falls back to
// a local extractive heuristic, so callers always get a usable string.
package summary

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Summarizer is a remote text -> summary service.
type Summarizer interface {
	Summarize(ctx context.Context, title, text string) (string, error)
}

// Budget gates remote calls, e.g. a daily quota.
type Budget interface {
	Take() error
}

// Observer is told which strategy produced each summary.
type Observer interface {
	Summary(strategy string)
}

const (
	StrategyRemote     = "remote"
	StrategyExtractive = "extractive"
)

// Strategy tries the remote summarizer under a timeout and budget, then the
// extractive heuristic.
type Strategy struct {
	remote   Summarizer
	budget   Budget
	timeout  time.Duration
	maxChars int
	observer Observer
	log      *slog.Logger
}

type Option func(*Strategy)

func WithRemote(s Summarizer, timeout time.Duration) Option {
	return func(st *Strategy) {
		st.remote = s
		st.timeout = timeout
	}
}

func WithBudget(b Budget) Option { return func(st *Strategy) { st.budget = b } }
func WithObserver(o Observer) Option { return func(st *Strategy) { st.observer = o } }
func WithLogger(l *slog.Logger) Option { return func(st *Strategy) { st.log = l } }

func New(maxChars int, opts ...Option) *Strategy {
	st := &Strategy{maxChars: maxChars, log: slog.Default()}
	for _, opt := range opts {
		opt(st)
	}
	st.log = st.log.With("component", "summary")
	return st
}

// Summarize never fails and never blocks past the configured timeout.
func (st *Strategy) Summarize(ctx context.Context, title, text string) string {
	if st.remote != nil && strings.TrimSpace(text) != "" {
		out, err := st.tryRemote(ctx, title, text)
		if err == nil {
			st.observe(StrategyRemote)
			return out
		}
		st.log.Debug("remote summary unavailable", "title", title, "error", err)
	}
	st.observe(StrategyExtractive)
	return Extract(text, st.maxChars)
}

var errEmpty = errors.New("empty summary")

func (st *Strategy) tryRemote(ctx context.Context, title, text string) (string, error) {
	if st.budget != nil {
		if err := st.budget.Take(); err != nil {
			return "", err
		}
	}
	if st.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.timeout)
		defer cancel()
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := st.remote.Summarize(ctx, title, text)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		out := collapse(r.out)
		if out == "" {
			return "", errEmpty
		}
		return clipWords(out, st.maxChars), nil
	}
}

func (st *Strategy) observe(strategy string) {
	if st.observer != nil {
		st.observer.Summary(strategy)
	}
}

// Extract keeps whole leading sentences while they fit in maxChars. A first
// sentence longer than the budget is cut at a word boundary and ends in "…".
func Extract(text string, maxChars int) string {
	text = collapse(text)
	if text == "" || maxChars <= 0 {
		return text
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	var b strings.Builder
	for _, s := range sentences(text) {
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(s)+1 > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	if b.Len() > 0 {
		return b.String()
	}
	return clipWords(text, maxChars)
}

func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ') {
			out = append(out, strings.TrimSpace(string(runes[start:i+1])))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

// clipWords cuts s to at most n runes including a trailing ellipsis,
// preferring the last word boundary.
func clipWords(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	cut := string(r[:n-1])
	if idx := strings.LastIndex(cut, " "); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:-") + "…"
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
