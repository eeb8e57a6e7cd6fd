package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/internal/upload/platform"
	"github.com/joetabora/CreatorCast/internal/upload/video"
)

// JobStore is the slice of the job store the processor mutates.
type JobStore interface {
	Claim(ctx context.Context, jobID, workerID string) (*domain.UploadJob, error)
	SaveProgress(ctx context.Context, jobID string, progress float64, results []domain.PlatformResult) (bool, error)
	Finish(ctx context.Context, jobID, status string, results []domain.PlatformResult, errorMessage string) (bool, error)
	ScheduleInfraRetry(ctx context.Context, jobID string, nextAttemptAt time.Time, errorMessage string) (bool, error)
	FailTerminal(ctx context.Context, jobID string, results []domain.PlatformResult, errorMessage string) error
}

// Adapters resolves a platform identifier to its upload adapter.
type Adapters interface {
	Get(platform string) (platform.Uploader, error)
}

// Retrier re-admits a job after an infrastructure failure.
type Retrier interface {
	Backoff(retryCount int) time.Duration
	Enqueue(ctx context.Context, jobID string, readyAt time.Time) error
}

// Processor executes one admitted job to completion: claim, resolve the
// video, fan out to the platform adapters in request order, aggregate, and
// persist the terminal status.
type Processor struct {
	store           JobStore
	videos          video.Resolver
	adapters        Adapters
	retrier         Retrier
	logger          *slog.Logger
	platformTimeout time.Duration
	now             func() time.Time
}

// NewProcessor creates a new Processor
func NewProcessor(store JobStore, videos video.Resolver, adapters Adapters, retrier Retrier, platformTimeout time.Duration, logger *slog.Logger) *Processor {
	if platformTimeout <= 0 {
		platformTimeout = 5 * time.Minute
	}

	return &Processor{
		store:           store,
		videos:          videos,
		adapters:        adapters,
		retrier:         retrier,
		logger:          logger,
		platformTimeout: platformTimeout,
		now:             time.Now,
	}
}

// Process runs the fan-out algorithm for one job. A nil return means the
// queue message should be acked; a RetryableError asks for redelivery.
func (p *Processor) Process(ctx context.Context, jobID, workerID string) error {
	job, err := p.store.Claim(ctx, jobID, workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			// Terminal or cancelled before we got here; nothing to do.
			p.logger.Warn("Upload job not claimable, skipping",
				slog.String("job_id", jobID),
			)
			return fmt.Errorf("job not claimable: %w", err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	logger := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("worker_id", workerID),
	)
	logger.Info("Processing upload job",
		slog.Int("platforms", len(job.PlatformRequests)),
		slog.Int("retry_count", job.RetryCount),
	)

	vid, err := p.videos.Resolve(ctx, job.OwnerID, job.VideoRef)
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			// The one case where a job terminates failed with zero
			// platform attempts: the video is gone, so there is
			// nothing to fan out. Results stay empty.
			logger.Warn("Video resolution failed, failing job without platform attempts")
			if _, finishErr := p.store.Finish(ctx, job.ID, domain.StatusFailed, nil, err.Error()); finishErr != nil {
				return p.handleInfraFailure(ctx, job, nil, finishErr)
			}
			return nil
		}
		return p.handleInfraFailure(ctx, job, nil, fmt.Errorf("failed to resolve video: %w", err))
	}

	// Index prior results from a redelivered run so an already-successful
	// platform is never published twice.
	prior := make(map[string]domain.PlatformResult, len(job.Results))
	for _, r := range job.Results {
		prior[r.Platform] = r
	}

	total := len(job.PlatformRequests)
	results := make([]domain.PlatformResult, 0, total)

	for i, req := range job.PlatformRequests {
		if existing, ok := prior[req.Platform]; ok && existing.Success {
			logger.Info("Skipping platform with prior successful result",
				slog.String("platform", req.Platform),
			)
			results = append(results, existing)
		} else {
			results = append(results, p.attempt(ctx, vid, req, logger))
		}

		// Progress must be visible to polling readers before the next
		// attempt starts; a write that hits zero rows means the job was
		// cancelled under us and the remaining attempts are skipped.
		// On redelivery the claimed row may already carry a higher value,
		// so clamp to it: readers never see progress go backwards.
		progress := float64(i+1) / float64(total)
		if job.Progress > progress {
			progress = job.Progress
		}
		live, err := p.store.SaveProgress(ctx, job.ID, progress, results)
		if err != nil {
			return p.handleInfraFailure(ctx, job, results, err)
		}
		if !live {
			logger.Info("Upload job cancelled mid-flight, stopping")
			return nil
		}
	}

	status := domain.AggregateStatus(results)
	finished, err := p.store.Finish(ctx, job.ID, status, results, "")
	if err != nil {
		return p.handleInfraFailure(ctx, job, results, err)
	}
	if !finished {
		logger.Info("Upload job cancelled before completion write")
		return nil
	}

	logger.Info("Upload job processed",
		slog.String("status", status),
	)

	return nil
}

// attempt invokes one platform adapter with its own timeout. An unknown
// platform or a panicking adapter yields a failed result, never an abort.
func (p *Processor) attempt(ctx context.Context, vid *video.Video, req domain.PlatformRequest, logger *slog.Logger) (result domain.PlatformResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Platform adapter panicked",
				slog.String("platform", req.Platform),
				slog.Any("panic", r),
			)
			result = domain.PlatformResult{
				Platform:    req.Platform,
				Success:     false,
				Error:       fmt.Sprintf("adapter panic: %v", r),
				AttemptedAt: p.now(),
			}
		}
	}()

	uploader, err := p.adapters.Get(req.Platform)
	if err != nil {
		return domain.PlatformResult{
			Platform:    req.Platform,
			Success:     false,
			Error:       err.Error(),
			AttemptedAt: p.now(),
		}
	}

	logger.Info("Uploading to platform",
		slog.String("platform", req.Platform),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, p.platformTimeout)
	defer cancel()

	result = uploader.Upload(attemptCtx, vid, req)

	if result.Success {
		logger.Info("Platform upload succeeded",
			slog.String("platform", req.Platform),
			slog.String("remote_id", result.RemoteID),
		)
	} else {
		logger.Warn("Platform upload failed",
			slog.String("platform", req.Platform),
			slog.String("error", result.Error),
		)
	}

	return result
}

// padResults extends a partial result slice to one entry per platform
// request. Attempts run in request order, so the missing tail is exactly
// the platforms this run never reached.
func (p *Processor) padResults(job *domain.UploadJob, results []domain.PlatformResult, cause error) []domain.PlatformResult {
	padded := make([]domain.PlatformResult, 0, len(job.PlatformRequests))
	padded = append(padded, results...)
	for _, req := range job.PlatformRequests[len(results):] {
		padded = append(padded, domain.PlatformResult{
			Platform:    req.Platform,
			Success:     false,
			Error:       "not attempted: " + cause.Error(),
			AttemptedAt: p.now(),
		})
	}
	return padded
}

// handleInfraFailure deals with store/queue failures mid-job, which are
// retried transparently with backoff until the budget runs out and the job
// becomes user-facing failed. Distinct from platform failures, which are
// absorbed into results.
func (p *Processor) handleInfraFailure(ctx context.Context, job *domain.UploadJob, results []domain.PlatformResult, cause error) error {
	logger := p.logger.With(slog.String("job_id", job.ID))
	logger.Error("Infrastructure failure during upload job",
		slog.Any("error", cause),
	)

	nextAttemptAt := p.now().Add(p.retrier.Backoff(job.RetryCount + 1))

	scheduled, err := p.store.ScheduleInfraRetry(ctx, job.ID, nextAttemptAt, cause.Error())
	if err != nil {
		// Could not even record the retry; let the queue redeliver.
		return domain.NewRetryableError(fmt.Errorf("failed to schedule retry: %w", err))
	}

	if !scheduled {
		// Terminal rows carry one result per requested platform, so the
		// platforms this run never reached get an explicit failed entry.
		padded := p.padResults(job, results, cause)
		if err := p.store.FailTerminal(ctx, job.ID, padded, cause.Error()); err != nil {
			return domain.NewRetryableError(fmt.Errorf("failed to fail job terminally: %w", err))
		}
		logger.Warn("Upload job failed after exhausting retries")
		return nil
	}

	if err := p.retrier.Enqueue(ctx, job.ID, nextAttemptAt); err != nil {
		// The row already carries next_attempt_at; scheduler recovery
		// re-seeds it on the next startup.
		logger.Error("Failed to enqueue retry, will be recovered",
			slog.Any("error", err),
		)
	}

	logger.Info("Upload job scheduled for retry",
		slog.Time("next_attempt_at", nextAttemptAt),
	)

	return nil
}
