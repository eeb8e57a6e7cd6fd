package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job does not exist or belongs to a
	// different owner. The two cases are deliberately indistinguishable.
	ErrJobNotFound = errors.New("upload job not found")

	// ErrJobAlreadyClaimed is returned when a claim loses the conditional
	// update race, typically because another worker holds the job or it
	// reached a terminal state.
	ErrJobAlreadyClaimed = errors.New("upload job already claimed or terminal")

	// ErrInvalidState is returned when cancel or retry is requested for a
	// job whose current status does not allow it.
	ErrInvalidState = errors.New("upload job is not in an eligible state")

	// ErrRetriesExhausted is returned when a retry request exceeds the
	// job's max_retries budget.
	ErrRetriesExhausted = errors.New("upload job retries exhausted")

	// ErrVideoNotFound is returned by the video resolver when the video
	// does not exist or the owner does not match.
	ErrVideoNotFound = errors.New("video not found")

	// ErrNotConnected is returned by the credential store when the owner
	// has not connected the requested platform account.
	ErrNotConnected = errors.New("platform account not connected")

	// ErrUnsupportedPlatform is returned when a request names a platform
	// with no registered adapter.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// RetryableError wraps infrastructure failures (store or queue unavailable
// mid-job) that should re-enter the queue with backoff, as opposed to
// platform-level failures which are absorbed into the job's results.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as an infrastructure-level retryable failure.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
