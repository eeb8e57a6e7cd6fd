package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
)

// JobStore is the subset of the upload store the API surface uses.
type JobStore interface {
	Create(ctx context.Context, job *domain.UploadJob) error
	Get(ctx context.Context, ownerID, jobID string) (*domain.UploadJob, error)
	List(ctx context.Context, ownerID, status string, limit, offset int) ([]*domain.UploadJob, error)
	Cancel(ctx context.Context, ownerID, jobID string) error
	ResetForRetry(ctx context.Context, ownerID, jobID string, nextAttempt func(retryCount int) time.Time) (*domain.UploadJob, error)
}

// Admitter hands accepted jobs to the queue, immediately or at a
// future ready-at time.
type Admitter interface {
	Enqueue(ctx context.Context, jobID string, readyAt time.Time) error
	Backoff(retryCount int) time.Duration
	Forget(ctx context.Context, jobID string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Store      JobStore
	Scheduler  Admitter
	MaxRetries int
}

// UploadHandler handles upload-job HTTP requests
type UploadHandler struct {
	logger     *slog.Logger
	store      JobStore
	scheduler  Admitter
	maxRetries int
	now        func() time.Time
}

// NewUploadHandler creates a new UploadHandler instance
func NewUploadHandler(deps *Dependencies) *UploadHandler {
	maxRetries := deps.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	return &UploadHandler{
		logger:     deps.Logger,
		store:      deps.Store,
		scheduler:  deps.Scheduler,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}
