package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/deusflow/crisiswatch/internal/config"
	"github.com/deusflow/crisiswatch/internal/dedupe"
	"github.com/deusflow/crisiswatch/internal/gemini"
	"github.com/deusflow/crisiswatch/internal/metrics"
	"github.com/deusflow/crisiswatch/internal/quota"
	"github.com/deusflow/crisiswatch/internal/ratelimit"
	"github.com/deusflow/crisiswatch/internal/rss"
	"github.com/deusflow/crisiswatch/internal/scheduler"
	"github.com/deusflow/crisiswatch/internal/scraper"
	"github.com/deusflow/crisiswatch/internal/severity"
	"github.com/deusflow/crisiswatch/internal/storage"
	"github.com/deusflow/crisiswatch/internal/summary"
	"github.com/deusflow/crisiswatch/internal/telegram"
)

// App owns the long-lived collaborators and runs poll cycles.
type App struct {
	cfg      *config.Config
	pipeline *Pipeline
	store    Store
	sink     Notifier
	gemini   *gemini.Client
	budget   *ratelimit.DailyBudget
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New wires the pipeline from cfg. m may be nil.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (*App, error) {
	table := rss.DefaultFeeds
	if cfg.FeedsFile != "" {
		t, err := rss.LoadFeeds(cfg.FeedsFile)
		if err != nil {
			return nil, fmt.Errorf("load feeds: %w", err)
		}
		table = t
	}
	groups := rss.BuildGroups(cfg.Regions, table, cfg.CustomFeeds)
	if len(groups) == 0 {
		return nil, errors.New("no feed groups: none of the configured regions has feeds")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		store:   store,
		sink:    telegram.NewClient(cfg.TelegramBaseURL, cfg.TelegramToken, cfg.TelegramChatID, cfg.RequestTimeout, log),
		metrics: m,
		log:     log,
	}

	opts := []summary.Option{summary.WithObserver(m), summary.WithLogger(log)}
	if cfg.GeminiAPIKey != "" {
		g, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.SummaryMaxChars)
		if err != nil {
			log.Warn("gemini unavailable, using extractive summaries", "error", err)
		} else {
			a.gemini = g
			a.budget = ratelimit.NewDailyBudget("gemini", cfg.MaxGeminiRequests)
			opts = append(opts,
				summary.WithRemote(g, cfg.SummaryTimeout),
				summary.WithBudget(a.budget))
		}
	}

	a.pipeline = NewPipeline(Deps{
		Groups:     groups,
		Feeds:      rss.NewSource(cfg.UserAgent, cfg.RequestTimeout, cfg.PollLimit),
		Bodies:     scraper.NewResolver(cfg.UserAgent, cfg.RequestTimeout, cfg.BodyCacheTTL, log),
		Summarizer: summary.New(cfg.SummaryMaxChars, opts...),
		Sink:       a.sink,
		Store:      store,
		Scorer:     severity.New(severity.WithBoostRegions(cfg.BoostRegions)),
		Governor:   quota.NewGovernor(cfg.Limits()),
		Metrics:    m,
		Log:        log,
	}, settingsFrom(cfg))

	log.Info("pipeline ready",
		"regions", strings.Join(rss.Regions(groups), ","),
		"quiet_hours", cfg.QuietHours.String(),
		"remote_summaries", a.gemini != nil)
	return a, nil
}

func settingsFrom(cfg *config.Config) Settings {
	return Settings{
		Shuffle:           cfg.ShuffleFeed,
		MinGap:            cfg.MinGap,
		QuietHours:        cfg.QuietHours,
		SeverityThreshold: cfg.SeverityThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
		Dedupe: dedupe.Config{
			Window:        cfg.DedupeWindow,
			Threshold:     cfg.SimThreshold,
			MaxPerCluster: cfg.MaxPerCluster,
			Capacity:      cfg.RecentTitlesLimit,
		},
		Heartbeat: cfg.Debug,
	}
}

// openStore picks PostgreSQL when DATABASE_URL is set, a JSON file store for
// a *.json DB_PATH, and SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	case strings.HasSuffix(cfg.DBPath, ".json"):
		s, err := storage.OpenFileStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return s, nil
	default:
		s, err := storage.OpenSQLite(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	}
}

// Ping announces startup in debug mode. Failure is only logged.
func (a *App) Ping(ctx context.Context) {
	if !a.cfg.Debug {
		return
	}
	if err := a.sink.Send(ctx, "🟢 CrisisWatch connected. Starting poller…"); err != nil {
		a.log.Warn("startup ping failed", "error", err)
	}
}

// RunCycle runs one poll cycle. Errors and panics are logged and recorded in
// metrics; they never escape, so a schedule keeps going.
func (a *App) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
			a.metrics.SetError(fmt.Sprintf("panic: %v", r))
		}
	}()

	rep, err := a.pipeline.PollCycle(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		a.log.Info("cycle abandoned", "cycle", rep.CycleID, "sent", rep.Sent)
	case err != nil:
		a.log.Error("cycle failed", "cycle", rep.CycleID, "error", err)
		a.metrics.SetError(err.Error())
	case rep.Quiet:
		a.metrics.CycleDone(time.Since(start), 0, "quiet")
	default:
		a.metrics.CycleDone(time.Since(start), rep.Sent, "ok")
	}
	a.logBudget()
}

func (a *App) logBudget() {
	if a.budget == nil {
		return
	}
	stats := a.budget.GetStats()
	a.log.Info("summary budget",
		"service", stats["service"],
		"used", stats["used"],
		"rejected", stats["rejected"],
		"remaining", a.budget.Remaining())
}

// Run executes a single cycle when no poll interval is configured, otherwise
// cycles on the interval until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.Ping(ctx)
	if a.cfg.PollInterval <= 0 {
		a.RunCycle(ctx)
		return nil
	}
	return scheduler.New(a.log).Run(ctx, a.cfg.PollInterval, a.RunCycle)
}

func (a *App) Close() error {
	if a.gemini != nil {
		a.gemini.Close()
	}
	return a.store.Close()
}
