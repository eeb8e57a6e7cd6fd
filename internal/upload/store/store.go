package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/shared/postgresql"
)

const jobColumns = `
	id, owner_id, video_ref, platform_requests, status, progress, results,
	retry_count, max_retries, error_message, scheduled_at, next_attempt_at,
	worker_id, created_at, updated_at, started_at, completed_at
`

// Store persists upload jobs. It is the single source of truth: every state
// mutation goes through a conditional UPDATE guarded by the current status,
// so concurrent API calls and workers cannot produce lost updates.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store backed by the given PostgreSQL client
func New(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// Create inserts a new upload job record
func (s *Store) Create(ctx context.Context, job *domain.UploadJob) error {
	requests, err := encodeRequests(job.PlatformRequests)
	if err != nil {
		return err
	}

	results, err := encodeResults(job.Results)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO upload_jobs (
			id, owner_id, video_ref, platform_requests, status, progress,
			results, retry_count, max_retries, scheduled_at, next_attempt_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)
	`

	_, err = s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.OwnerID,
		job.VideoRef,
		requests,
		job.Status,
		job.Progress,
		results,
		job.RetryCount,
		job.MaxRetries,
		job.ScheduledAt,
		job.NextAttemptAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create upload job: %w", err)
	}

	return nil
}

// Get retrieves a job scoped to its owner
func (s *Store) Get(ctx context.Context, ownerID, jobID string) (*domain.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE id = $1 AND owner_id = $2`

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, jobID, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get upload job: %w", err)
	}

	return row.toDomain()
}

// List returns the owner's jobs newest first, optionally filtered by status
func (s *Store) List(ctx context.Context, ownerID, status string, limit, offset int) ([]*domain.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE owner_id = $1`
	args := []interface{}{ownerID}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list upload jobs: %w", err)
	}

	jobs := make([]*domain.UploadJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Claim moves a job into processing on behalf of a worker. It accepts
// pending and scheduled jobs as well as jobs already in processing, which
// services queue redelivery after a lease expiry: the new worker takes over
// ownership and the existing results tell it which platforms are done.
func (s *Store) Claim(ctx context.Context, jobID, workerID string) (*domain.UploadJob, error) {
	query := `
		UPDATE upload_jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = COALESCE(started_at, NOW()),
		    updated_at = NOW()
		WHERE id = $3
		  AND status IN ($4, $5, $1)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		domain.StatusProcessing, workerID, jobID,
		domain.StatusPending, domain.StatusScheduled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim upload job: %w", err)
	}

	s.logger.Info("Upload job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)

	return row.toDomain()
}

// SaveProgress persists the results accumulated so far and the new progress
// value. The update is guarded by status = processing so a cancel that won
// the race turns the write into a no-op; the returned bool reports whether
// the row was still live.
func (s *Store) SaveProgress(ctx context.Context, jobID string, progress float64, results []domain.PlatformResult) (bool, error) {
	encoded, err := encodeResults(results)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE upload_jobs
		SET progress = $1,
		    results = $2,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, progress, encoded, jobID, domain.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to save progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// Finish moves a processing job to a terminal status with its full results.
// Returns false when the job was no longer processing (e.g. cancelled
// mid-flight), in which case nothing was written.
func (s *Store) Finish(ctx context.Context, jobID, status string, results []domain.PlatformResult, errorMessage string) (bool, error) {
	encoded, err := encodeResults(results)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE upload_jobs
		SET status = $1,
		    progress = 1.0,
		    results = $2,
		    error_message = $3,
		    next_attempt_at = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	res, err := s.db.ExecContext(ctx, query, status, encoded, errorMessage, jobID, domain.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to finish upload job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		s.logger.Info("Upload job finished",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
	}

	return affected > 0, nil
}

// ScheduleInfraRetry resets a processing job to pending after an
// infrastructure failure, consuming one retry. Returns false when the retry
// budget is exhausted (or the job left processing), leaving the row
// untouched so the caller can fail it terminally.
func (s *Store) ScheduleInfraRetry(ctx context.Context, jobID string, nextAttemptAt time.Time, errorMessage string) (bool, error) {
	query := `
		UPDATE upload_jobs
		SET status = $1,
		    progress = 0,
		    results = '[]',
		    retry_count = retry_count + 1,
		    error_message = $2,
		    next_attempt_at = $3,
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE id = $4
		  AND status = $5
		  AND retry_count < max_retries
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.StatusPending, errorMessage, nextAttemptAt,
		jobID, domain.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to schedule retry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// FailTerminal marks a processing job failed regardless of retry budget.
// Used when infrastructure retries are exhausted. The caller supplies one
// result per platform request so terminal rows always carry a full set.
func (s *Store) FailTerminal(ctx context.Context, jobID string, results []domain.PlatformResult, errorMessage string) error {
	encoded, err := encodeResults(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	query := `
		UPDATE upload_jobs
		SET status = $1,
		    progress = 1.0,
		    results = $2,
		    error_message = $3,
		    next_attempt_at = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	_, err = s.db.ExecContext(ctx, query, domain.StatusFailed, encoded, errorMessage, jobID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark upload job failed: %w", err)
	}

	return nil
}

// Cancel marks the owner's job cancelled. Rejected with ErrInvalidState
// unless the job is pending, scheduled, or processing. A job already being
// processed is not interrupted; the worker's subsequent writes become
// no-ops because they are guarded by status = processing.
func (s *Store) Cancel(ctx context.Context, ownerID, jobID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status,
			`SELECT status FROM upload_jobs WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
			jobID, ownerID,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrJobNotFound
			}
			return fmt.Errorf("failed to load upload job: %w", err)
		}

		if !domain.CanCancel(status) {
			return domain.ErrInvalidState
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE upload_jobs SET status = $1, next_attempt_at = NULL, updated_at = NOW() WHERE id = $2`,
			domain.StatusCancelled, jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel upload job: %w", err)
		}

		s.logger.Info("Upload job cancelled",
			slog.String("job_id", jobID),
			slog.String("owner_id", ownerID),
		)

		return nil
	})
}

// ResetForRetry resets the owner's failed job for another run: back to
// pending with one more retry consumed, empty results, zero progress. The
// retry mutates the same record; no new job is created. nextAttempt is
// called with the new retry count while the row is locked, so concurrent
// retries cannot compute the delay from a stale count.
func (s *Store) ResetForRetry(ctx context.Context, ownerID, jobID string, nextAttempt func(retryCount int) time.Time) (*domain.UploadJob, error) {
	var job *domain.UploadJob

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row jobRow
		err := tx.GetContext(ctx, &row,
			`SELECT `+jobColumns+` FROM upload_jobs WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
			jobID, ownerID,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrJobNotFound
			}
			return fmt.Errorf("failed to load upload job: %w", err)
		}

		if row.Status != domain.StatusFailed {
			return domain.ErrInvalidState
		}

		if row.RetryCount >= row.MaxRetries {
			return domain.ErrRetriesExhausted
		}

		nextAttemptAt := nextAttempt(row.RetryCount + 1)

		err = tx.GetContext(ctx, &row, `
			UPDATE upload_jobs
			SET status = $1,
			    progress = 0,
			    results = '[]',
			    retry_count = retry_count + 1,
			    error_message = '',
			    next_attempt_at = $2,
			    worker_id = NULL,
			    completed_at = NULL,
			    updated_at = NOW()
			WHERE id = $3
			RETURNING `+jobColumns,
			domain.StatusPending, nextAttemptAt, jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to reset upload job: %w", err)
		}

		job, err = row.toDomain()
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Upload job reset for retry",
		slog.String("job_id", jobID),
		slog.Int("retry_count", job.RetryCount),
	)

	return job, nil
}

// AdmissibleJob is a job awaiting admission plus the time it becomes due.
type AdmissibleJob struct {
	ID      string
	ReadyAt time.Time
}

// ListAdmissible returns pending/scheduled jobs with their ready-at times.
// The scheduler uses it at startup to re-seed the delay set, which makes
// postgres, not redis, the durable record of what is owed to the queue.
func (s *Store) ListAdmissible(ctx context.Context) ([]AdmissibleJob, error) {
	query := `
		SELECT id, COALESCE(next_attempt_at, scheduled_at, created_at) AS ready_at
		FROM upload_jobs
		WHERE status IN ($1, $2)
		ORDER BY ready_at
	`

	rows, err := s.db.QueryxContext(ctx, query, domain.StatusPending, domain.StatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("failed to list admissible jobs: %w", err)
	}
	defer rows.Close()

	var jobs []AdmissibleJob
	for rows.Next() {
		var job AdmissibleJob
		if err := rows.Scan(&job.ID, &job.ReadyAt); err != nil {
			return nil, fmt.Errorf("failed to scan admissible job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// PruneTerminal deletes old terminal jobs: completed before completedBefore;
// partial, failed, and cancelled before failedBefore, since those carry
// failure details worth keeping around longer. Returns the number of rows
// removed.
func (s *Store) PruneTerminal(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM upload_jobs
		WHERE (status = $1 AND completed_at < $2)
		   OR (status IN ($3, $4, $5) AND COALESCE(completed_at, updated_at) < $6)
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.StatusCompleted, completedBefore,
		domain.StatusPartial, domain.StatusFailed, domain.StatusCancelled, failedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune terminal jobs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction",
				slog.Any("error", rbErr),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
