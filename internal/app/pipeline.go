package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/deusflow/crisiswatch/internal/dedupe"
	"github.com/deusflow/crisiswatch/internal/metrics"
	"github.com/deusflow/crisiswatch/internal/news"
	"github.com/deusflow/crisiswatch/internal/quota"
	"github.com/deusflow/crisiswatch/internal/rss"
	"github.com/deusflow/crisiswatch/internal/severity"
)

// Settings are the per-cycle knobs of the pipeline.
type Settings struct {
	Shuffle           bool
	MinGap            time.Duration
	QuietHours        quota.QuietHours
	SeverityThreshold int
	CriticalThreshold int
	Dedupe            dedupe.Config
	Heartbeat         bool
}

// Deps are the collaborators of the pipeline. Metrics and Log may be nil.
type Deps struct {
	Groups     []rss.Group
	Feeds      FeedSource
	Bodies     BodyResolver
	Summarizer Summarizer
	Sink       Notifier
	Store      Store
	Scorer     *severity.Scorer
	Governor   *quota.Governor
	Metrics    *metrics.Metrics
	Log        *slog.Logger
}

// Report summarizes one poll cycle for the operator.
type Report struct {
	CycleID     string
	Quiet       bool
	FeedsPolled int
	FeedsFailed int
	Seen        int
	Scored      int
	Passed      int
	Sent        int
	SendFailed  int
	SentToday   int
	Suppressed  map[string]int
	Duration    time.Duration
}

// Pipeline drives candidates through scoring, dedupe and the governor, one at
// a time, and dispatches what survives.
type Pipeline struct {
	Deps
	settings Settings

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	shuffle func(n int, swap func(i, j int))
}

func NewPipeline(deps Deps, s Settings) *Pipeline {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Pipeline{
		Deps:     deps,
		settings: s,
		now:      time.Now,
		sleep:    sleepCtx,
		shuffle:  rand.Shuffle,
	}
}

// cycle is the mutable state of one PollCycle call.
type cycle struct {
	log     *slog.Logger
	run     *quota.RunState
	day     *quota.DayState
	tracker *dedupe.Tracker
	report  *Report
}

// PollCycle runs one pass over every feed group. Feed and item failures are
// logged and skipped; an error is returned only when state cannot be loaded
// or ctx is cancelled.
func (p *Pipeline) PollCycle(ctx context.Context) (Report, error) {
	start := p.now()
	rep := Report{CycleID: ulid.Make().String(), Suppressed: make(map[string]int)}
	log := p.Log.With("cycle", rep.CycleID)

	if p.settings.QuietHours.Contains(start) {
		log.Info("quiet hours, skipping cycle", "window", p.settings.QuietHours.String())
		rep.Quiet = true
		if p.settings.Heartbeat {
			if err := p.Sink.Send(ctx, rep.heartbeat()); err != nil {
				log.Warn("heartbeat failed", "error", err)
			}
		}
		return rep, nil
	}

	day, err := p.loadDay(ctx, start)
	if err != nil {
		return rep, err
	}
	recent, err := p.Store.RecentTitles(ctx, start.Add(-p.settings.Dedupe.Window), p.settings.Dedupe.Capacity)
	if err != nil {
		return rep, fmt.Errorf("load recent titles: %w", err)
	}

	groups := shuffled(p.Groups, p.shuffler())
	c := &cycle{
		log:     log,
		run:     quota.NewRunState(rss.Regions(groups)),
		day:     day,
		tracker: dedupe.NewTracker(p.settings.Dedupe, p.Store, recent),
		report:  &rep,
	}

	limits := p.Governor.Limits()
	log.Info("cycle started",
		"max_per_run", limits.MaxPerRun,
		"max_per_day", limits.MaxPerDay,
		"sent_today", day.SentToday,
		"severity_threshold", p.settings.SeverityThreshold,
		"recent_titles", len(recent))

	err = p.pollGroups(ctx, c, groups)

	rep.SentToday = day.SentToday
	rep.Duration = p.now().Sub(start)
	log.Info("cycle done",
		"sent", rep.Sent,
		"sent_today", rep.SentToday,
		"max_per_day", limits.MaxPerDay,
		"feeds_polled", rep.FeedsPolled,
		"feeds_failed", rep.FeedsFailed,
		"seen", rep.Seen,
		"scored", rep.Scored,
		"passed", rep.Passed,
		"send_failed", rep.SendFailed,
		"recent_titles", len(c.tracker.Recent()),
		"duration", rep.Duration)
	if err != nil {
		return rep, err
	}

	if p.settings.Heartbeat {
		if err := p.Sink.Send(ctx, rep.heartbeat()); err != nil {
			log.Warn("heartbeat failed", "error", err)
		}
	}
	return rep, nil
}

func (p *Pipeline) pollGroups(ctx context.Context, c *cycle, groups []rss.Group) error {
	for _, g := range groups {
		if p.exhausted(c) {
			return nil
		}
		for _, feedURL := range shuffled(g.Feeds, p.shuffler()) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.exhausted(c) {
				return nil
			}

			entries, err := p.Feeds.Fetch(ctx, feedURL)
			c.report.FeedsPolled++
			p.Metrics.FeedPolled(g.Region, err == nil)
			if err != nil {
				c.report.FeedsFailed++
				c.log.Warn("feed failed", "region", g.Region, "feed", feedURL, "error", err)
				continue
			}

			for _, e := range entries {
				if err := ctx.Err(); err != nil {
					return err
				}
				if p.exhausted(c) {
					return nil
				}
				if err := p.processItem(ctx, c, news.NewItem(e, g.Region)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// processItem runs one candidate through the pipeline. Only cancellation
// during the inter-send pause is returned as an error.
func (p *Pipeline) processItem(ctx context.Context, c *cycle, item news.Item) error {
	c.report.Seen++
	p.Metrics.Stage("seen")
	if !item.Valid() {
		return nil
	}
	log := c.log.With("region", item.Region, "title", clipTitle(item.Title))

	sent, err := p.Store.SentURL(ctx, item.URL)
	if err != nil {
		log.Warn("sent lookup failed, skipping item", "error", err)
		return nil
	}
	if sent {
		p.suppress(c, "sent_url")
		return nil
	}

	hash := news.TitleHash(item.Title)
	seen, err := c.tracker.SeenTitleHash(ctx, hash, p.now())
	if err != nil {
		log.Warn("title hash lookup failed, skipping item", "error", err)
		return nil
	}
	if seen {
		p.suppress(c, "title_hash")
		return nil
	}

	if v := c.tracker.Check(item.Title); v.Reject {
		log.Debug("cluster full", "cluster_size", v.ClusterSize)
		p.suppress(c, "cluster_cap")
		return nil
	}

	item.Body = p.Bodies.Resolve(ctx, item.URL)
	if item.Body == "" {
		item.Body = item.Summary
	}

	score, fired := p.Scorer.Explain(item.Title, item.Body, item.Region)
	log.Debug("scored", "severity", score, "fired", fired)
	c.report.Scored++
	p.Metrics.Stage("scored")
	p.Metrics.Severity(score)
	if score < p.settings.SeverityThreshold {
		p.suppress(c, "below_threshold")
		return nil
	}
	c.report.Passed++
	p.Metrics.Stage("passed")

	cand := item.Score(score, p.settings.CriticalThreshold)
	if !p.Governor.SourceAllowed(cand.SourceDomain, c.run) {
		p.suppress(c, string(quota.ReasonSourceCap))
		return nil
	}
	if d := p.Governor.Admit(cand, c.run, c.day, p.now()); !d.Allow {
		log.Debug("not admitted", "decision", d.String(), "severity", score)
		p.suppress(c, string(d.Reason))
		return nil
	}

	msg := formatAlert(cand, p.Summarizer.Summarize(ctx, cand.Title, cand.Body))
	if err := p.Sink.Send(ctx, msg); err != nil {
		c.report.SendFailed++
		log.Error("send failed", "error", err)
		return nil
	}

	p.commit(ctx, c, cand, hash)
	log.Info("alert sent", "severity", score, "critical", cand.Critical, "source", cand.SourceDomain)

	if !cand.Critical && p.settings.MinGap > 0 {
		return p.sleep(ctx, p.settings.MinGap)
	}
	return nil
}

// commit applies a successful dispatch. Counters move even if the store
// write fails, since the alert already went out.
func (p *Pipeline) commit(ctx context.Context, c *cycle, cand news.Scored, hash string) {
	at := p.now()
	if _, err := p.Store.InsertSent(ctx, cand.Record(at)); err != nil {
		c.log.Error("record sent failed", "url", cand.URL, "error", err)
	}
	p.Governor.Record(cand, c.run, c.day, at)
	if !cand.Critical {
		if err := p.Store.SetScalar(ctx, lastNonCriticalKey, strconv.FormatInt(c.day.LastNonCritical.Unix(), 10)); err != nil {
			c.log.Error("persist cooldown failed", "error", err)
		}
	}
	c.tracker.Remember(cand.Title, hash)

	c.report.Sent++
	p.Metrics.Stage("sent")
	p.Metrics.Sent(cand.Region, cand.Critical)
}

func (p *Pipeline) loadDay(ctx context.Context, now time.Time) (*quota.DayState, error) {
	from := quota.StartOfDay(now)
	sentToday, err := p.Store.CountSent(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count sent today: %w", err)
	}

	var last time.Time
	raw, ok, err := p.Store.Scalar(ctx, lastNonCriticalKey)
	if err != nil {
		return nil, fmt.Errorf("load cooldown: %w", err)
	}
	if ok {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			p.Log.Warn("ignoring malformed cooldown value", "value", raw)
		} else {
			last = time.Unix(secs, 0).UTC()
		}
	}
	return quota.NewDayState(now, sentToday, last), nil
}

func (p *Pipeline) exhausted(c *cycle) bool {
	return p.Governor.Exhausted(c.run, c.day, p.now())
}

func (p *Pipeline) suppress(c *cycle, reason string) {
	c.report.Suppressed[reason]++
	p.Metrics.Suppressed(reason)
}

// shuffled returns a shuffled copy of s, or s itself when shuffle is nil.
func shuffled[T any](s []T, shuffle func(n int, swap func(i, j int))) []T {
	if shuffle == nil || len(s) < 2 {
		return s
	}
	out := append([]T(nil), s...)
	shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (p *Pipeline) shuffler() func(n int, swap func(i, j int)) {
	if !p.settings.Shuffle {
		return nil
	}
	return p.shuffle
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clipTitle(s string) string {
	r := []rune(s)
	if len(r) > 80 {
		return string(r[:80])
	}
	return s
}
