package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
)

// jobRow mirrors the upload_jobs table. platform_requests and results are
// jsonb columns decoded into the domain slices.
type jobRow struct {
	ID               string         `db:"id"`
	OwnerID          string         `db:"owner_id"`
	VideoRef         string         `db:"video_ref"`
	PlatformRequests []byte         `db:"platform_requests"`
	Status           string         `db:"status"`
	Progress         float64        `db:"progress"`
	Results          []byte         `db:"results"`
	RetryCount       int            `db:"retry_count"`
	MaxRetries       int            `db:"max_retries"`
	ErrorMessage     string         `db:"error_message"`
	ScheduledAt      *time.Time     `db:"scheduled_at"`
	NextAttemptAt    *time.Time     `db:"next_attempt_at"`
	WorkerID         sql.NullString `db:"worker_id"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	StartedAt        *time.Time     `db:"started_at"`
	CompletedAt      *time.Time     `db:"completed_at"`
}

func (r *jobRow) toDomain() (*domain.UploadJob, error) {
	var requests []domain.PlatformRequest
	if err := json.Unmarshal(r.PlatformRequests, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode platform requests: %w", err)
	}

	var results []domain.PlatformResult
	if err := json.Unmarshal(r.Results, &results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}

	job := &domain.UploadJob{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		VideoRef:         r.VideoRef,
		PlatformRequests: requests,
		Status:           r.Status,
		Progress:         r.Progress,
		Results:          results,
		RetryCount:       r.RetryCount,
		MaxRetries:       r.MaxRetries,
		ErrorMessage:     r.ErrorMessage,
		ScheduledAt:      r.ScheduledAt,
		NextAttemptAt:    r.NextAttemptAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}

	if r.WorkerID.Valid {
		job.WorkerID = r.WorkerID.String
	}

	return job, nil
}

func encodeRequests(requests []domain.PlatformRequest) ([]byte, error) {
	data, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to encode platform requests: %w", err)
	}
	return data, nil
}

func encodeResults(results []domain.PlatformResult) ([]byte, error) {
	if results == nil {
		results = []domain.PlatformResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode results: %w", err)
	}
	return data, nil
}
