package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joetabora/CreatorCast/internal/api/dto"
	"github.com/joetabora/CreatorCast/internal/upload/domain"
)

// OwnerIDKey is the gin context key the auth middleware stores the
// resolved owner under.
const OwnerIDKey = "owner_id"

func ownerID(c *gin.Context) string {
	return c.GetString(OwnerIDKey)
}

// CreateUpload handles POST /api/v1/uploads
// Accepts a new upload job and enqueues it for processing
func (h *UploadHandler) CreateUpload(c *gin.Context) {
	h.logger.Info("CreateUpload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	requests := make([]domain.PlatformRequest, len(req.Platforms))
	seen := make(map[string]bool, len(req.Platforms))
	for i, p := range req.Platforms {
		if !domain.IsKnownPlatform(p.Platform) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "unsupported platform: " + p.Platform,
			})
			return
		}
		if seen[p.Platform] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "duplicate platform: " + p.Platform,
			})
			return
		}
		seen[p.Platform] = true

		requests[i] = domain.PlatformRequest{
			Platform:    p.Platform,
			Title:       p.Title,
			Description: p.Description,
			Tags:        p.Tags,
			Private:     p.Private,
		}
	}

	// A scheduled_at in the past is not an error: the job is created
	// pending and admitted immediately, same as an unscheduled one.
	now := h.now()

	job := &domain.UploadJob{
		ID:               uuid.New().String(),
		OwnerID:          ownerID(c),
		VideoRef:         req.VideoID,
		PlatformRequests: requests,
		Status:           domain.InitialStatus(req.ScheduledAt, now),
		MaxRetries:       h.maxRetries,
		ScheduledAt:      req.ScheduledAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.store.Create(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to create upload job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create upload job",
		})
		return
	}

	readyAt := now
	if job.ScheduledAt != nil {
		readyAt = *job.ScheduledAt
	}

	// The job row is durable at this point. If admission fails the
	// scheduler's recovery pass re-seeds it, so the client still gets 201.
	if err := h.scheduler.Enqueue(c.Request.Context(), job.ID, readyAt); err != nil {
		h.logger.Error("Failed to enqueue upload job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// GetUpload handles GET /api/v1/uploads/:job_id
// Retrieves a single upload job owned by the caller
func (h *UploadHandler) GetUpload(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.Get(c.Request.Context(), ownerID(c), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Upload job not found",
			})
			return
		}
		h.logger.Error("Failed to get upload job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get upload job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListUploads handles GET /api/v1/uploads
// Lists the caller's upload jobs, newest first
func (h *UploadHandler) ListUploads(c *gin.Context) {
	var req dto.ListUploadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !domain.IsKnownStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown status: " + req.Status,
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	// Fetch one extra row to detect whether more pages exist.
	jobs, err := h.store.List(c.Request.Context(), ownerID(c), req.Status, req.Limit+1, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list upload jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list upload jobs",
		})
		return
	}

	hasMore := len(jobs) > req.Limit
	if hasMore {
		jobs = jobs[:req.Limit]
	}

	uploads := make([]dto.UploadJobDTO, len(jobs))
	for i, job := range jobs {
		uploads[i] = dto.FromJob(job)
	}

	c.JSON(http.StatusOK, dto.ListUploadsResponse{
		Uploads: uploads,
		Count:   len(uploads),
		HasMore: hasMore,
	})
}

// CancelUpload handles POST /api/v1/uploads/:job_id/cancel
// Cancels a job that has not yet reached a terminal state
func (h *UploadHandler) CancelUpload(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("CancelUpload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.store.Cancel(c.Request.Context(), ownerID(c), jobID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Upload job not found",
		})
		return
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Upload job is already in a terminal state",
		})
		return
	default:
		h.logger.Error("Failed to cancel upload job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel upload job",
		})
		return
	}

	// Best effort: a still-queued delayed admission is dropped so the
	// job is not republished after cancellation.
	if err := h.scheduler.Forget(c.Request.Context(), jobID); err != nil {
		h.logger.Warn("Failed to drop delayed admission",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.StatusCancelled,
	})
}

// RetryUpload handles POST /api/v1/uploads/:job_id/retry
// Re-enqueues a failed job if its retry budget is not exhausted
func (h *UploadHandler) RetryUpload(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("RetryUpload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	owner := ownerID(c)

	// The backoff is computed inside the reset transaction from the row's
	// own retry count, so concurrent retries cannot race on a stale read.
	job, err := h.store.ResetForRetry(c.Request.Context(), owner, jobID, func(retryCount int) time.Time {
		return h.now().Add(h.scheduler.Backoff(retryCount))
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Upload job not found",
		})
		return
	case errors.Is(err, domain.ErrRetriesExhausted):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Upload job has exhausted its retry budget",
		})
		return
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Only failed upload jobs can be retried",
		})
		return
	default:
		h.logger.Error("Failed to retry upload job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retry upload job",
		})
		return
	}

	readyAt := h.now()
	if job.NextAttemptAt != nil {
		readyAt = *job.NextAttemptAt
	}

	if err := h.scheduler.Enqueue(c.Request.Context(), job.ID, readyAt); err != nil {
		h.logger.Error("Failed to enqueue retried job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}
