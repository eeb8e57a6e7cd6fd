// Package janitor prunes old terminal jobs on its own timer, outside the
// dispatch critical path. A failed pass is logged and retried on the next
// tick; it never affects job dispatch.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes terminal jobs older than the given cutoffs.
type Pruner interface {
	PruneTerminal(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
}

// Config holds janitor configuration
type Config struct {
	Interval           time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// Janitor periodically removes old terminal jobs.
type Janitor struct {
	pruner Pruner
	logger *slog.Logger
	config Config
	now    func() time.Time
}

// New creates a new Janitor
func New(pruner Pruner, config Config, logger *slog.Logger) *Janitor {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.CompletedRetention <= 0 {
		config.CompletedRetention = 24 * time.Hour
	}
	if config.FailedRetention <= 0 {
		config.FailedRetention = 7 * 24 * time.Hour
	}

	return &Janitor{
		pruner: pruner,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Run prunes on every tick until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("Janitor started",
		slog.Duration("interval", j.config.Interval),
		slog.Duration("completed_retention", j.config.CompletedRetention),
		slog.Duration("failed_retention", j.config.FailedRetention),
	)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopped")
			return
		case <-ticker.C:
			j.prune(ctx)
		}
	}
}

func (j *Janitor) prune(ctx context.Context) {
	now := j.now()
	pruned, err := j.pruner.PruneTerminal(ctx,
		now.Add(-j.config.CompletedRetention),
		now.Add(-j.config.FailedRetention),
	)
	if err != nil {
		j.logger.Error("Failed to prune terminal jobs",
			slog.Any("error", err),
		)
		return
	}

	if pruned > 0 {
		j.logger.Info("Pruned terminal jobs",
			slog.Int64("count", pruned),
		)
	}
}
