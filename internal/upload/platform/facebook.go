package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joetabora/CreatorCast/internal/upload/credentials"
	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/internal/upload/video"
)

// Facebook publishes page videos through the Graph API multipart upload.
type Facebook struct {
	creds   credentials.Store
	client  *http.Client
	logger  *slog.Logger
	BaseURL string
}

// NewFacebook creates the Facebook adapter
func NewFacebook(creds credentials.Store, client *http.Client, logger *slog.Logger) *Facebook {
	return &Facebook{
		creds:   creds,
		client:  client,
		logger:  logger,
		BaseURL: defaultGraphBaseURL,
	}
}

// Platform implements Uploader
func (f *Facebook) Platform() string {
	return domain.PlatformFacebook
}

// Upload implements Uploader
func (f *Facebook) Upload(ctx context.Context, v *video.Video, req domain.PlatformRequest) domain.PlatformResult {
	creds, err := f.creds.Get(ctx, v.OwnerID, domain.PlatformFacebook)
	if err != nil {
		return failure(domain.PlatformFacebook, err)
	}

	privacyValue := "EVERYONE"
	if req.Private {
		privacyValue = "SELF"
	}

	privacy, err := json.Marshal(map[string]string{"value": privacyValue})
	if err != nil {
		return failure(domain.PlatformFacebook, fmt.Errorf("failed to encode privacy: %w", err))
	}

	fields := map[string]string{
		"title":       req.Title,
		"description": req.Description,
		"privacy":     string(privacy),
	}

	var uploaded struct {
		ID string `json:"id"`
	}

	url := fmt.Sprintf("%s/%s/videos", f.BaseURL, creds.PageID)
	if err := postVideoMultipart(ctx, f.client, url, bearer(creds.AccessToken), "source", v.FilePath, fields, &uploaded); err != nil {
		return failure(domain.PlatformFacebook, fmt.Errorf("failed to upload video: %w", err))
	}

	if uploaded.ID == "" {
		return failure(domain.PlatformFacebook, fmt.Errorf("upload response missing video id"))
	}

	f.logger.Debug("Facebook upload finished",
		slog.String("video_id", uploaded.ID),
	)

	return success(domain.PlatformFacebook, uploaded.ID, "https://www.facebook.com/watch/?v="+uploaded.ID)
}
