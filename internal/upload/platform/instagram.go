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

const defaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// Instagram publishes Reels through the Graph API two-step flow: create a
// media container from the video's public URL, then publish it. The video
// must be publicly reachable; a video without a public URL fails up front.
type Instagram struct {
	creds   credentials.Store
	client  *http.Client
	logger  *slog.Logger
	BaseURL string
}

// NewInstagram creates the Instagram adapter
func NewInstagram(creds credentials.Store, client *http.Client, logger *slog.Logger) *Instagram {
	return &Instagram{
		creds:   creds,
		client:  client,
		logger:  logger,
		BaseURL: defaultGraphBaseURL,
	}
}

// Platform implements Uploader
func (i *Instagram) Platform() string {
	return domain.PlatformInstagram
}

// Upload implements Uploader
func (i *Instagram) Upload(ctx context.Context, v *video.Video, req domain.PlatformRequest) domain.PlatformResult {
	creds, err := i.creds.Get(ctx, v.OwnerID, domain.PlatformInstagram)
	if err != nil {
		return failure(domain.PlatformInstagram, err)
	}

	if v.PublicURL == "" {
		return failure(domain.PlatformInstagram, fmt.Errorf("video has no public URL; reels require a publicly accessible video"))
	}

	caption := req.Title
	if req.Description != "" {
		caption += "\n\n" + req.Description
	}

	// Step 1: create the media container.
	var container struct {
		ID string `json:"id"`
	}
	containerURL := fmt.Sprintf("%s/%s/media", i.BaseURL, creds.AccountID)
	containerPayload := map[string]string{
		"media_type":   "REELS",
		"video_url":    v.PublicURL,
		"caption":      caption,
		"access_token": creds.AccessToken,
	}
	if err := postJSON(ctx, i.client, containerURL, nil, containerPayload, &container); err != nil {
		return failure(domain.PlatformInstagram, fmt.Errorf("failed to create media container: %w", err))
	}

	if container.ID == "" {
		return failure(domain.PlatformInstagram, fmt.Errorf("container response missing id"))
	}

	// Step 2: publish the container.
	var published struct {
		ID string `json:"id"`
	}
	publishURL := fmt.Sprintf("%s/%s/media_publish", i.BaseURL, creds.AccountID)
	publishPayload := map[string]string{
		"creation_id":  container.ID,
		"access_token": creds.AccessToken,
	}
	if err := postJSON(ctx, i.client, publishURL, nil, publishPayload, &published); err != nil {
		return failure(domain.PlatformInstagram, fmt.Errorf("failed to publish reel: %w", err))
	}

	if published.ID == "" {
		return failure(domain.PlatformInstagram, fmt.Errorf("publish response missing id"))
	}

	i.logger.Debug("Instagram upload finished",
		slog.String("media_id", published.ID),
	)

	return success(domain.PlatformInstagram, published.ID, "https://www.instagram.com/reel/"+published.ID)
}
