// Package scheduler decides when a job becomes eligible for the dispatcher.
// Jobs due now are published straight to the queue backend; jobs with a
// future publish time or a retry backoff sit in a Redis delay set until a
// poller moves them over. Postgres remains the source of truth: the delay
// set is re-seeded from the job store at startup.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joetabora/CreatorCast/internal/upload/store"
)

// delayedSetKey is the sorted set holding not-yet-due job ids scored by
// their ready-at time.
const delayedSetKey = "uploads:delayed"

// DelaySet is the delayed-admission substrate (Redis sorted set).
type DelaySet interface {
	AddDelayed(ctx context.Context, key, member string, readyAt time.Time) error
	PopDue(ctx context.Context, key string, now time.Time, limit int) ([]string, error)
	Remove(ctx context.Context, key, member string) error
}

// Publisher hands a due job to the queue backend.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte) error
}

// AdmissionStore lists jobs owed to the queue, for recovery.
type AdmissionStore interface {
	ListAdmissible(ctx context.Context) ([]store.AdmissibleJob, error)
}

// Config holds scheduler configuration
type Config struct {
	BaseRetryDelay time.Duration
	PollInterval   time.Duration
	BatchSize      int
}

// Scheduler admits jobs to the queue backend immediately or after a delay.
type Scheduler struct {
	delaySet  DelaySet
	publisher Publisher
	store     AdmissionStore
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// New creates a new Scheduler
func New(delaySet DelaySet, publisher Publisher, admissionStore AdmissionStore, config Config, logger *slog.Logger) *Scheduler {
	if config.BaseRetryDelay <= 0 {
		config.BaseRetryDelay = 2 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Scheduler{
		delaySet:  delaySet,
		publisher: publisher,
		store:     admissionStore,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Backoff returns the retry delay for the given retry count:
// baseDelay × 2^(retryCount−1).
func (s *Scheduler) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return s.config.BaseRetryDelay * time.Duration(uint(1)<<uint(retryCount-1))
}

// Enqueue admits the job at readyAt. A ready-at time in the past means
// publish immediately rather than error.
func (s *Scheduler) Enqueue(ctx context.Context, jobID string, readyAt time.Time) error {
	if delay := readyAt.Sub(s.now()); delay > 0 {
		if err := s.delaySet.AddDelayed(ctx, delayedSetKey, jobID, readyAt); err != nil {
			return fmt.Errorf("failed to delay job: %w", err)
		}

		s.logger.Info("Upload job delayed",
			slog.String("job_id", jobID),
			slog.Duration("delay", delay),
		)
		return nil
	}

	return s.publish(ctx, jobID)
}

// EnqueueRetry re-admits a failed job after its exponential backoff.
func (s *Scheduler) EnqueueRetry(ctx context.Context, jobID string, retryCount int) error {
	return s.Enqueue(ctx, jobID, s.now().Add(s.Backoff(retryCount)))
}

// Forget removes a job from the delay set, e.g. after a cancellation. A job
// that already left the set is claimed against the store anyway, where the
// cancelled status makes the claim a no-op, so missing it here is harmless.
func (s *Scheduler) Forget(ctx context.Context, jobID string) error {
	return s.delaySet.Remove(ctx, delayedSetKey, jobID)
}

// Recover re-seeds the delay set from the job store. Safe to run on every
// startup: re-adding a member only refreshes its score.
func (s *Scheduler) Recover(ctx context.Context) error {
	jobs, err := s.store.ListAdmissible(ctx)
	if err != nil {
		return fmt.Errorf("failed to list admissible jobs: %w", err)
	}

	for _, job := range jobs {
		if err := s.delaySet.AddDelayed(ctx, delayedSetKey, job.ID, job.ReadyAt); err != nil {
			return fmt.Errorf("failed to re-seed job %s: %w", job.ID, err)
		}
	}

	if len(jobs) > 0 {
		s.logger.Info("Delay set re-seeded from job store",
			slog.Int("jobs", len(jobs)),
		)
	}

	return nil
}

// Run polls the delay set and publishes due jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started",
		slog.Duration("poll_interval", s.config.PollInterval),
	)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if err := s.admitDue(ctx); err != nil {
				s.logger.Error("Failed to admit due jobs",
					slog.Any("error", err),
				)
			}
		}
	}
}

// admitDue moves every due member from the delay set to the queue backend
func (s *Scheduler) admitDue(ctx context.Context) error {
	due, err := s.delaySet.PopDue(ctx, delayedSetKey, s.now(), s.config.BatchSize)
	if err != nil {
		return err
	}

	for _, jobID := range due {
		if err := s.publish(ctx, jobID); err != nil {
			// Put the job back so the next tick retries it; the member
			// is already due, so the score barely matters.
			if addErr := s.delaySet.AddDelayed(ctx, delayedSetKey, jobID, s.now()); addErr != nil {
				s.logger.Error("Failed to restore job to delay set",
					slog.String("job_id", jobID),
					slog.Any("error", addErr),
				)
			}
			return err
		}
	}

	return nil
}

func (s *Scheduler) publish(ctx context.Context, jobID string) error {
	body, err := json.Marshal(struct {
		JobID string `json:"job_id"`
	}{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to encode job message: %w", err)
	}

	if err := s.publisher.PublishWithRetry(ctx, body); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}

	s.logger.Debug("Upload job admitted to queue",
		slog.String("job_id", jobID),
	)

	return nil
}
