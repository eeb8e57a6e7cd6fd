// Package platform contains the per-platform upload adapters. Each adapter
// performs exactly one platform's publish flow for a resolved video and a
// per-platform config, and always comes back with a PlatformResult: any
// transport, credential, or protocol error is absorbed into a failed result
// so a misbehaving platform can never abort the whole job.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/internal/upload/video"
)

// Uploader is the single capability the dispatcher fans out to.
type Uploader interface {
	// Platform returns the identifier this adapter serves.
	Platform() string

	// Upload publishes the video with the given config. The returned
	// result carries success or a human-readable failure reason; Upload
	// never panics and never needs an error return.
	Upload(ctx context.Context, v *video.Video, req domain.PlatformRequest) domain.PlatformResult
}

// Registry holds the closed set of platform adapters. The dispatcher looks
// adapters up here instead of branching on platform identity.
type Registry struct {
	uploaders map[string]Uploader
}

// NewRegistry builds a registry from the given adapters
func NewRegistry(uploaders ...Uploader) *Registry {
	m := make(map[string]Uploader, len(uploaders))
	for _, u := range uploaders {
		m[u.Platform()] = u
	}
	return &Registry{uploaders: m}
}

// Get returns the adapter for the platform, or ErrUnsupportedPlatform
func (r *Registry) Get(platform string) (Uploader, error) {
	u, ok := r.uploaders[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, platform)
	}
	return u, nil
}

// Platforms returns the registered platform identifiers
func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.uploaders))
	for p := range r.uploaders {
		platforms = append(platforms, p)
	}
	return platforms
}

// failure builds a failed result with the error message
func failure(platform string, err error) domain.PlatformResult {
	return domain.PlatformResult{
		Platform:    platform,
		Success:     false,
		Error:       err.Error(),
		AttemptedAt: time.Now(),
	}
}

// success builds a successful result pointing at the remote post
func success(platform, remoteID, remoteURL string) domain.PlatformResult {
	return domain.PlatformResult{
		Platform:    platform,
		Success:     true,
		RemoteID:    remoteID,
		RemoteURL:   remoteURL,
		AttemptedAt: time.Now(),
	}
}

// newJSONRequest builds a bearer-authenticated JSON POST request
func newJSONRequest(ctx context.Context, url, token string, payload interface{}) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return req, nil
}

// postJSON sends a JSON request and decodes the JSON response into out,
// treating any non-2xx status as an error carrying the response body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
