// Package scheduler runs periodic maintenance jobs for the bot on cron
// expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sebashdez96/biotecza-bot/internal/store"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. A panicking job is
// logged and does not stop the scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field expressions: minute, hour, day of month, month, day of week.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	logger := slogLogger{}
	c := cron.New(cron.WithParser(parser), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task on expr. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: gave up waiting for running jobs", "error", ctx.Err())
	}
}

// PruneDedupJob returns a job deleting dedup records older than retention.
func PruneDedupJob(repo store.DedupRepo, retention time.Duration) func() {
	return func() {
		cutoff := time.Now().Add(-retention)
		n, err := repo.PruneInbound(cutoff)
		if err != nil {
			slog.Error("scheduler.PruneDedupJob: prune failed", "error", err)
			return
		}
		slog.Info("scheduler.PruneDedupJob: pruned inbound records", "removed", n, "cutoff", cutoff.UTC())
	}
}

// slogLogger adapts cron.Logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
