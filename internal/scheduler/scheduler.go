// Package scheduler reloads the plugin registry on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/persai/persai/internal/plugin"
)

// Reloader is the part of *plugin.Registry the scheduler drives.
type Reloader interface {
	Reload(ctx context.Context) plugin.LoadResult
}

var parser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

// Scheduler runs Reload whenever its schedule fires. A run that is still in
// progress when the next one is due causes that next run to be skipped.
type Scheduler struct {
	spec     string
	schedule robfigcron.Schedule
	target   Reloader
	logger   *slog.Logger
	runs     atomic.Int64
}

// New parses spec, a five-field cron expression or a descriptor such as
// "@hourly" or "@every 10m".
func New(spec string, target Reloader, logger *slog.Logger) (*Scheduler, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reload schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{spec: spec, schedule: sched, target: target, logger: logger}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.schedule.Next(t) }

// Runs returns how many reloads have completed.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Start arms the schedule and blocks until ctx is cancelled. It waits for a
// running reload to finish before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	c := robfigcron.New(
		robfigcron.WithParser(parser),
		robfigcron.WithChain(robfigcron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	c.Schedule(s.schedule, robfigcron.FuncJob(func() { s.run(ctx) }))
	c.Start()
	s.logger.Info("Plugin reload scheduled", "schedule", s.spec, "next", s.Next(time.Now()))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	res := s.target.Reload(ctx)
	s.runs.Add(1)
	s.logger.Info("Scheduled plugin reload finished",
		"result", res.String(),
		"duration", time.Since(start),
	)
	for _, f := range res.Failed() {
		s.logger.Warn("Plugin unavailable after reload", "plugin", f.ID, "err", f.Error)
	}
}

// cronLogger adapts slog to robfig's logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
