package domain

import "time"

// Status values for an upload job. Transitions are guarded by the store's
// conditional updates; see CanCancel/CanRetry for user-facing eligibility.
const (
	StatusPending    = "pending"
	StatusScheduled  = "scheduled"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// DefaultMaxRetries bounds automatic re-submission of a failed job.
const DefaultMaxRetries = 3

// Platform identifiers form a closed set. Adding a platform means adding an
// adapter implementation, never branching on the identifier in the dispatcher.
const (
	PlatformYouTube   = "youtube"
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformX         = "x"
)

// KnownPlatforms lists every platform an upload job may target.
var KnownPlatforms = []string{
	PlatformYouTube,
	PlatformTikTok,
	PlatformInstagram,
	PlatformFacebook,
	PlatformX,
}

// IsKnownStatus reports whether s names a job status.
func IsKnownStatus(s string) bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing,
		StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsKnownPlatform reports whether p names a supported platform.
func IsKnownPlatform(p string) bool {
	for _, known := range KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// PlatformRequest is one platform's publish configuration within a job.
// The list of requests is immutable once the job is created.
type PlatformRequest struct {
	Platform    string   `json:"platform"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Private     bool     `json:"private"`
}

// PlatformResult is the outcome of one platform attempt.
type PlatformResult struct {
	Platform    string    `json:"platform"`
	Success     bool      `json:"success"`
	RemoteID    string    `json:"remote_id,omitempty"`
	RemoteURL   string    `json:"remote_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// UploadJob is the unit of work: one user request to publish a video to one
// or more platforms.
type UploadJob struct {
	ID               string
	OwnerID          string
	VideoRef         string
	PlatformRequests []PlatformRequest
	Status           string
	Progress         float64
	Results          []PlatformResult
	RetryCount       int
	MaxRetries       int
	ErrorMessage     string
	ScheduledAt      *time.Time
	NextAttemptAt    *time.Time
	WorkerID         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// IsTerminal reports whether no further automatic processing happens for s.
func IsTerminal(s string) bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanCancel reports whether a user cancel request is accepted for s.
func CanCancel(s string) bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing:
		return true
	}
	return false
}

// CanRetry reports whether a user retry request is accepted. Only a failed
// job may be retried, and only while attempts remain.
func (j *UploadJob) CanRetry() bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// AggregateStatus maps per-platform outcomes to a terminal job status:
// all succeeded is completed, a mix is partial, none succeeded is failed.
func AggregateStatus(results []PlatformResult) string {
	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}

	switch {
	case len(results) > 0 && successCount == len(results):
		return StatusCompleted
	case successCount > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// InitialStatus decides the creation status: scheduled if the publish time is
// set and still in the future, pending otherwise.
func InitialStatus(scheduledAt *time.Time, now time.Time) string {
	if scheduledAt != nil && scheduledAt.After(now) {
		return StatusScheduled
	}
	return StatusPending
}
