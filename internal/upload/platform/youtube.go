package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joetabora/CreatorCast/internal/upload/credentials"
	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/internal/upload/video"
)

const defaultYouTubeBaseURL = "https://www.googleapis.com/upload/youtube/v3"

// YouTube publishes videos through the YouTube Data API resumable upload.
type YouTube struct {
	creds   credentials.Store
	client  *http.Client
	logger  *slog.Logger
	BaseURL string
}

// NewYouTube creates the YouTube adapter
func NewYouTube(creds credentials.Store, client *http.Client, logger *slog.Logger) *YouTube {
	return &YouTube{
		creds:   creds,
		client:  client,
		logger:  logger,
		BaseURL: defaultYouTubeBaseURL,
	}
}

// Platform implements Uploader
func (y *YouTube) Platform() string {
	return domain.PlatformYouTube
}

// Upload implements Uploader
func (y *YouTube) Upload(ctx context.Context, v *video.Video, req domain.PlatformRequest) domain.PlatformResult {
	creds, err := y.creds.Get(ctx, v.OwnerID, domain.PlatformYouTube)
	if err != nil {
		return failure(domain.PlatformYouTube, err)
	}

	privacyStatus := "public"
	if req.Private {
		privacyStatus = "private"
	}

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	metadata := map[string]interface{}{
		"snippet": map[string]interface{}{
			"title":       req.Title,
			"description": req.Description,
			"tags":        tags,
			"categoryId":  "22",
		},
		"status": map[string]interface{}{
			"privacyStatus": privacyStatus,
		},
	}

	// Step 1: open a resumable upload session with the video metadata.
	sessionURL := y.BaseURL + "/videos?uploadType=resumable&part=snippet,status"
	var sessionLocation string
	if err := y.startSession(ctx, sessionURL, creds.AccessToken, metadata, &sessionLocation); err != nil {
		return failure(domain.PlatformYouTube, fmt.Errorf("failed to start upload session: %w", err))
	}

	// Step 2: send the video bytes to the session URL.
	var uploaded struct {
		ID string `json:"id"`
	}
	if err := postVideoMultipart(ctx, y.client, sessionLocation, bearer(creds.AccessToken), "video", v.FilePath, nil, &uploaded); err != nil {
		return failure(domain.PlatformYouTube, fmt.Errorf("failed to upload video: %w", err))
	}

	if uploaded.ID == "" {
		return failure(domain.PlatformYouTube, fmt.Errorf("upload response missing video id"))
	}

	y.logger.Debug("YouTube upload finished",
		slog.String("video_id", uploaded.ID),
	)

	return success(domain.PlatformYouTube, uploaded.ID, "https://www.youtube.com/watch?v="+uploaded.ID)
}

// startSession posts the metadata and captures the session Location header.
// When the API answers with a body instead of a redirect location (as the
// simple upload path does), the session URL falls back to the request URL.
func (y *YouTube) startSession(ctx context.Context, url, token string, metadata interface{}, location *string) error {
	req, err := newJSONRequest(ctx, url, token, metadata)
	if err != nil {
		return err
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		*location = loc
	} else {
		*location = url
	}

	return nil
}
