package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/deusflow/crisiswatch/internal/dedupe"
	"github.com/deusflow/crisiswatch/internal/news"
	"github.com/deusflow/crisiswatch/internal/quota"
	"github.com/deusflow/crisiswatch/internal/rss"
	"github.com/deusflow/crisiswatch/internal/severity"
	"github.com/deusflow/crisiswatch/internal/storage"
)

const (
	quakeTitle    = "Magnitude 7.1 earthquake hits coastal city, dozens feared dead"
	footballTitle = "Local football club wins regional cup"
	strikeTitle   = "Deadly missile strike kills dozens of troops, hundreds wounded; curfew declared"
)

type fakeFeeds struct {
	entries map[string][]news.Entry
	fail    map[string]bool
	calls   []string
}

func (f *fakeFeeds) Fetch(_ context.Context, feedURL string) ([]news.Entry, error) {
	f.calls = append(f.calls, feedURL)
	if f.fail[feedURL] {
		return nil, errors.New("connection refused")
	}
	return f.entries[feedURL], nil
}

type noBodies struct{}

func (noBodies) Resolve(context.Context, string) string { return "" }

type firstWords struct{}

func (firstWords) Summarize(_ context.Context, _, text string) string { return summaryOf(text) }

func summaryOf(text string) string {
	if len(text) > 40 {
		return text[:40]
	}
	return text
}

type fakeSink struct {
	fail bool
	sent []string
}

func (s *fakeSink) Send(_ context.Context, text string) error {
	if s.fail {
		return errors.New("telegram API error: status 502")
	}
	s.sent = append(s.sent, text)
	return nil
}

type harness struct {
	p      *Pipeline
	feeds  *fakeFeeds
	sink   *fakeSink
	store  *storage.FileStore
	sleeps []time.Duration
	now    time.Time
}

func entry(title, link string) news.Entry {
	return news.Entry{Title: title, Link: link}
}

func defaultLimits() quota.Limits {
	return quota.Limits{MaxPerRun: 6, MaxPerDay: 18, MaxPerSourceRun: 2, NonCriticalCooldown: 0}
}

func defaultSettings() Settings {
	return Settings{
		MinGap:            90 * time.Second,
		SeverityThreshold: 5,
		CriticalThreshold: 8,
		Dedupe:            dedupe.Config{Window: 72 * time.Hour, Threshold: 86, MaxPerCluster: 2, Capacity: 500},
	}
}

func newHarness(t *testing.T, groups []rss.Group, feeds map[string][]news.Entry, limits quota.Limits, s Settings) *harness {
	t.Helper()
	store, err := storage.OpenFileStore("")
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	return newHarnessWithStore(groups, feeds, limits, s, store)
}

func newHarnessWithStore(groups []rss.Group, feeds map[string][]news.Entry, limits quota.Limits, s Settings, store *storage.FileStore) *harness {
	h := &harness{
		feeds: &fakeFeeds{entries: feeds, fail: map[string]bool{}},
		sink:  &fakeSink{},
		store: store,
		now:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	h.p = NewPipeline(Deps{
		Groups:     groups,
		Feeds:      h.feeds,
		Bodies:     noBodies{},
		Summarizer: firstWords{},
		Sink:       h.sink,
		Store:      store,
		Scorer:     severity.New(),
		Governor:   quota.NewGovernor(limits),
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, s)
	h.p.now = func() time.Time { return h.now }
	h.p.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func oneGroup(feeds ...string) []rss.Group {
	return []rss.Group{{Region: "GLOBAL", Feeds: feeds}}
}

func TestPollCycle_SendsQuakeSkipsFootball(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {
			{Title: quakeTitle, Link: "https://www.reuters.com/world/quake", Summary: "Rescue teams are searching collapsed buildings."},
			entry(footballTitle, "https://sport.example.com/cup"),
		},
	}, defaultLimits(), defaultSettings())

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 1 || len(h.sink.sent) != 1 {
		t.Fatalf("sent = %d (sink %d), want 1", rep.Sent, len(h.sink.sent))
	}
	msg := h.sink.sent[0]
	for _, want := range []string{"<b>" + quakeTitle + "</b>", "<i>Region:</i> Global", "<i>Source:</i> reuters.com", "Rescue teams", "Full report"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if rep.Seen != 2 || rep.Scored != 2 || rep.Passed != 1 || rep.Suppressed["below_threshold"] != 1 {
		t.Errorf("report = %+v", rep)
	}

	ctx := context.Background()
	if ok, _ := h.store.SentURL(ctx, "https://www.reuters.com/world/quake"); !ok {
		t.Error("quake not recorded")
	}
	if ok, _ := h.store.SentURL(ctx, "https://sport.example.com/cup"); ok {
		t.Error("football recorded")
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != 90*time.Second {
		t.Errorf("sleeps = %v, want one 90s pause", h.sleeps)
	}
}

func TestPollCycle_ClusterCapAdmitsFirstTwo(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {
			entry(quakeTitle, "https://a.example.com/1"),
			entry(quakeTitle+", officials say", "https://b.example.com/2"),
			entry("Officials: "+quakeTitle, "https://c.example.com/3"),
		},
	}, defaultLimits(), defaultSettings())

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 2 || rep.Suppressed["cluster_cap"] != 1 {
		t.Fatalf("sent = %d, suppressed = %v", rep.Sent, rep.Suppressed)
	}
	if ok, _ := h.store.SentURL(context.Background(), "https://c.example.com/3"); ok {
		t.Error("third report of the story was sent")
	}
}

func TestPollCycle_ExactTitleSeenEarlier(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(quakeTitle+" | BBC", "https://bbc.example.com/q")},
	}, defaultLimits(), defaultSettings())
	earlier := news.Item{Title: quakeTitle + " | Reuters", URL: "https://reuters.example.com/q"}.Score(6, 8)
	if _, err := h.store.InsertSent(context.Background(), earlier.Record(h.now.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 0 || rep.Suppressed["title_hash"] != 1 {
		t.Fatalf("sent = %d, suppressed = %v", rep.Sent, rep.Suppressed)
	}
}

func TestPollCycle_QuietHoursProcessNothing(t *testing.T) {
	s := defaultSettings()
	qh, err := quota.ParseQuietHours("22-06")
	if err != nil {
		t.Fatal(err)
	}
	s.QuietHours = qh
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(quakeTitle, "https://a.example.com/1")},
	}, defaultLimits(), s)
	h.now = time.Date(2026, 3, 10, 23, 15, 0, 0, time.UTC)

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if !rep.Quiet || len(h.feeds.calls) != 0 || len(h.sink.sent) != 0 {
		t.Fatalf("quiet = %v, fetches = %d, sent = %d", rep.Quiet, len(h.feeds.calls), len(h.sink.sent))
	}
}

func TestPollCycle_QuietHoursHeartbeat(t *testing.T) {
	s := defaultSettings()
	qh, err := quota.ParseQuietHours("22-06")
	if err != nil {
		t.Fatal(err)
	}
	s.QuietHours = qh
	s.Heartbeat = true
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(quakeTitle, "https://a.example.com/1")},
	}, defaultLimits(), s)
	h.now = time.Date(2026, 3, 10, 23, 15, 0, 0, time.UTC)

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if !rep.Quiet || len(h.feeds.calls) != 0 {
		t.Fatalf("quiet = %v, fetches = %d", rep.Quiet, len(h.feeds.calls))
	}
	if len(h.sink.sent) != 1 || !strings.HasPrefix(h.sink.sent[0], "Heartbeat: quiet hours") {
		t.Fatalf("sent = %v", h.sink.sent)
	}
}

func TestPollCycle_DistinctStoriesSharingDateline(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {
			entry("Sudan - RSF shelling leaves 40 dead in El Fasher market", "https://a.example.com/1"),
			entry("Sudan - Floods displace thousands, dozens dead in Kassala", "https://b.example.com/2"),
		},
	}, defaultLimits(), defaultSettings())

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 2 || rep.Suppressed["title_hash"] != 0 {
		t.Fatalf("sent = %d, suppressed = %v", rep.Sent, rep.Suppressed)
	}
}

func TestPollCycle_LogsFiredRulesAndWorkingSet(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(quakeTitle, "https://a.example.com/1")},
	}, defaultLimits(), defaultSettings())
	var buf bytes.Buffer
	h.p.Log = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if _, err := h.p.PollCycle(context.Background()); err != nil {
		t.Fatalf("PollCycle: %v", err)
	}

	var scored, done string
	for _, line := range strings.Split(buf.String(), "\n") {
		switch {
		case strings.Contains(line, "msg=scored"):
			scored = line
		case strings.Contains(line, `msg="cycle done"`):
			done = line
		}
	}
	cases := []struct {
		line, want string
	}{
		{scored, "natural-disaster"},
		{scored, "casualties"},
		{scored, "severity="},
		{done, "recent_titles=1"},
	}
	for _, c := range cases {
		if !strings.Contains(c.line, c.want) {
			t.Fatalf("log line %q missing %q\nfull log:\n%s", c.line, c.want, buf.String())
		}
	}
}

func TestPollCycle_SendFailureLeavesStateForRetry(t *testing.T) {
	feeds := map[string][]news.Entry{"feed-a": {entry(quakeTitle, "https://a.example.com/1")}}
	h := newHarness(t, oneGroup("feed-a"), feeds, defaultLimits(), defaultSettings())
	h.sink.fail = true
	ctx := context.Background()

	rep, err := h.p.PollCycle(ctx)
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 0 || rep.SendFailed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if n, _ := h.store.CountSent(ctx, h.now.Add(-time.Hour), h.now.Add(time.Hour)); n != 0 {
		t.Fatalf("stored %d records after failed send", n)
	}
	if _, ok, _ := h.store.Scalar(ctx, lastNonCriticalKey); ok {
		t.Fatal("cooldown anchor moved after failed send")
	}
	if len(h.sleeps) != 0 {
		t.Fatalf("paused after failed send: %v", h.sleeps)
	}

	h.sink.fail = false
	rep, err = h.p.PollCycle(ctx)
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 1 {
		t.Fatalf("retry cycle sent %d, want 1", rep.Sent)
	}
}

func TestPollCycle_StopsAtRunCap(t *testing.T) {
	limits := defaultLimits()
	limits.MaxPerRun = 1
	groups := []rss.Group{
		{Region: "GLOBAL", Feeds: []string{"feed-a", "feed-b"}},
		{Region: "ASIA", Feeds: []string{"feed-c"}},
	}
	h := newHarness(t, groups, map[string][]news.Entry{
		"feed-a": {entry(quakeTitle, "https://a.example.com/1"), entry(strikeTitle, "https://a.example.com/2")},
		"feed-b": {entry(strikeTitle, "https://b.example.com/1")},
		"feed-c": {entry(strikeTitle, "https://c.example.com/1")},
	}, limits, defaultSettings())

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 1 || rep.Seen != 1 {
		t.Fatalf("sent = %d, seen = %d", rep.Sent, rep.Seen)
	}
	if len(h.feeds.calls) != 1 {
		t.Fatalf("fetched %v after the run cap was hit", h.feeds.calls)
	}
}

func TestPollCycle_DayCapFromStore(t *testing.T) {
	limits := defaultLimits()
	limits.MaxPerDay = 2
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(strikeTitle, "https://a.example.com/new")},
	}, limits, defaultSettings())
	ctx := context.Background()
	for _, u := range []string{"https://x.example.com/1", "https://x.example.com/2"} {
		rec := news.Item{Title: "earlier " + u, URL: u}.Score(9, 8).Record(h.now.Add(-time.Hour))
		if _, err := h.store.InsertSent(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := h.p.PollCycle(ctx)
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 0 || len(h.feeds.calls) != 0 || rep.SentToday != 2 {
		t.Fatalf("sent = %d, fetches = %d, sent today = %d", rep.Sent, len(h.feeds.calls), rep.SentToday)
	}

	// the next UTC day starts from zero
	h.now = h.now.Add(24 * time.Hour)
	rep, err = h.p.PollCycle(ctx)
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 1 {
		t.Fatalf("sent on new day = %d, want 1", rep.Sent)
	}
}

func TestPollCycle_PausesOnlyAfterNonCritical(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {
			entry(strikeTitle, "https://a.example.com/strike"),
			entry(quakeTitle, "https://b.example.com/quake"),
		},
	}, defaultLimits(), defaultSettings())

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 2 {
		t.Fatalf("sent = %d, want 2", rep.Sent)
	}
	if len(h.sleeps) != 1 {
		t.Fatalf("sleeps = %v, want exactly one after the non-critical send", h.sleeps)
	}
}

func TestPollCycle_CooldownSurvivesRestart(t *testing.T) {
	limits := defaultLimits()
	limits.NonCriticalCooldown = 1500 * time.Second
	store, err := storage.OpenFileStore("")
	if err != nil {
		t.Fatal(err)
	}
	h := newHarnessWithStore(oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(quakeTitle, "https://a.example.com/quake")},
	}, limits, defaultSettings(), store)
	if rep, err := h.p.PollCycle(context.Background()); err != nil || rep.Sent != 1 {
		t.Fatalf("first cycle: sent = %d, err = %v", rep.Sent, err)
	}

	later := newHarnessWithStore(oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {
			entry("Floods displace thousands as river bursts banks, several dead", "https://b.example.com/floods"),
			entry(strikeTitle, "https://b.example.com/strike"),
		},
	}, limits, defaultSettings(), store)
	later.now = h.now.Add(100 * time.Second)

	rep, err := later.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 1 || rep.Suppressed[string(quota.ReasonCooldown)] != 1 {
		t.Fatalf("sent = %d, suppressed = %v", rep.Sent, rep.Suppressed)
	}
	if ok, _ := store.SentURL(context.Background(), "https://b.example.com/strike"); !ok {
		t.Fatal("critical item was held back by the cooldown")
	}
}

func TestPollCycle_FeedFailureIsSkipped(t *testing.T) {
	h := newHarness(t, oneGroup("feed-bad", "feed-a"), map[string][]news.Entry{
		"feed-a": {entry(quakeTitle, "https://a.example.com/1")},
	}, defaultLimits(), defaultSettings())
	h.feeds.fail["feed-bad"] = true

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.FeedsPolled != 2 || rep.FeedsFailed != 1 || rep.Sent != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPollCycle_SkipsMalformedAndAlreadySent(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {
			entry("", "https://a.example.com/no-title"),
			entry(quakeTitle, ""),
			entry(strikeTitle, "https://a.example.com/old"),
		},
	}, defaultLimits(), defaultSettings())
	old := news.Item{Title: "something else entirely", URL: "https://a.example.com/old"}.Score(9, 8)
	if _, err := h.store.InsertSent(context.Background(), old.Record(h.now.Add(-240*time.Hour))); err != nil {
		t.Fatal(err)
	}

	rep, err := h.p.PollCycle(context.Background())
	if err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if rep.Sent != 0 || rep.Scored != 0 || rep.Suppressed["sent_url"] != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPollCycle_CancelledContextStops(t *testing.T) {
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(quakeTitle, "https://a.example.com/1")},
	}, defaultLimits(), defaultSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.p.PollCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(h.sink.sent) != 0 {
		t.Fatal("sent after cancellation")
	}
}

func TestPollCycle_HeartbeatInDebug(t *testing.T) {
	s := defaultSettings()
	s.Heartbeat = true
	h := newHarness(t, oneGroup("feed-a"), map[string][]news.Entry{
		"feed-a": {entry(footballTitle, "https://a.example.com/1")},
	}, defaultLimits(), s)

	if _, err := h.p.PollCycle(context.Background()); err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
	if len(h.sink.sent) != 1 || !strings.HasPrefix(h.sink.sent[0], "Heartbeat: polled 1 feeds, saw 1 items") {
		t.Fatalf("sent = %v", h.sink.sent)
	}
}

func TestShuffled_CopiesBeforeShuffling(t *testing.T) {
	in := []string{"a", "b", "c"}
	reverse := func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	out := shuffled(in, reverse)
	if strings.Join(out, "") != "cba" || strings.Join(in, "") != "abc" {
		t.Fatalf("in = %v, out = %v", in, out)
	}
	if got := shuffled(in, nil); &got[0] != &in[0] {
		t.Fatal("nil shuffle should return the input")
	}
}
