// Package scheduler runs a job on a fixed interval. A run that is still in
// progress when the next tick fires makes that tick a no-op, so runs never
// overlap, and a panicking run is logged without stopping the schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Job func(ctx context.Context)

type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func New(log *slog.Logger) *Scheduler {
	log = log.With("component", "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		// Recover sits inside SkipIfStillRunning so a panic still releases the run slot.
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl))),
		log:  log,
	}
}

// Run executes job once immediately and then every interval until ctx is
// done. It waits for an in-flight run before returning.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { job(ctx) }))
	// the first run goes through the same chain so it also blocks overlaps
	first := s.cron.Entry(id).WrappedJob
	s.log.Info("schedule started", "interval", interval, "entry", id)

	var wg sync.WaitGroup
	wg.Add(1)
	s.cron.Start()
	go func() {
		defer wg.Done()
		first.Run()
	}()

	<-ctx.Done()
	s.log.Info("schedule stopping")
	<-s.cron.Stop().Done()
	wg.Wait()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
