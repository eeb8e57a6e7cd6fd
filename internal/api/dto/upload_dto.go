package dto

import (
	"time"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
)

type PlatformRequestDTO struct {
	Platform    string   `json:"platform" binding:"required"`
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Private     bool     `json:"private"`
}

type CreateUploadRequest struct {
	VideoID     string               `json:"video_id" binding:"required"`
	Platforms   []PlatformRequestDTO `json:"platforms" binding:"required,min=1,dive"`
	ScheduledAt *time.Time           `json:"scheduled_at"`
}

type ListUploadsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type PlatformResultDTO struct {
	Platform    string `json:"platform"`
	Success     bool   `json:"success"`
	RemoteID    string `json:"remote_id,omitempty"`
	RemoteURL   string `json:"remote_url,omitempty"`
	Error       string `json:"error,omitempty"`
	AttemptedAt string `json:"attempted_at"`
}

type UploadJobDTO struct {
	ID          string               `json:"id"`
	VideoID     string               `json:"video_id"`
	Platforms   []PlatformRequestDTO `json:"platforms"`
	Status      string               `json:"status"`
	Progress    float64              `json:"progress"`
	Results     []PlatformResultDTO  `json:"results"`
	RetryCount  int                  `json:"retry_count"`
	MaxRetries  int                  `json:"max_retries"`
	Error       string               `json:"error,omitempty"`
	ScheduledAt string               `json:"scheduled_at,omitempty"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
	CompletedAt string               `json:"completed_at,omitempty"`
}

type ListUploadsResponse struct {
	Uploads []UploadJobDTO `json:"uploads"`
	Count   int            `json:"count"`
	HasMore bool           `json:"has_more"`
}

// FromJob converts a domain job to its API representation
func FromJob(job *domain.UploadJob) UploadJobDTO {
	platforms := make([]PlatformRequestDTO, len(job.PlatformRequests))
	for i, p := range job.PlatformRequests {
		platforms[i] = PlatformRequestDTO{
			Platform:    p.Platform,
			Title:       p.Title,
			Description: p.Description,
			Tags:        p.Tags,
			Private:     p.Private,
		}
	}

	results := make([]PlatformResultDTO, len(job.Results))
	for i, r := range job.Results {
		results[i] = PlatformResultDTO{
			Platform:    r.Platform,
			Success:     r.Success,
			RemoteID:    r.RemoteID,
			RemoteURL:   r.RemoteURL,
			Error:       r.Error,
			AttemptedAt: r.AttemptedAt.Format(time.RFC3339),
		}
	}

	out := UploadJobDTO{
		ID:         job.ID,
		VideoID:    job.VideoRef,
		Platforms:  platforms,
		Status:     job.Status,
		Progress:   job.Progress,
		Results:    results,
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		Error:      job.ErrorMessage,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339),
	}

	if job.ScheduledAt != nil {
		out.ScheduledAt = job.ScheduledAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}

	return out
}
