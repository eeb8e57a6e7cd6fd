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

const defaultTikTokBaseURL = "https://open-api.tiktok.com"

// TikTok publishes videos through the TikTok share upload endpoint.
type TikTok struct {
	creds   credentials.Store
	client  *http.Client
	logger  *slog.Logger
	BaseURL string
}

// NewTikTok creates the TikTok adapter
func NewTikTok(creds credentials.Store, client *http.Client, logger *slog.Logger) *TikTok {
	return &TikTok{
		creds:   creds,
		client:  client,
		logger:  logger,
		BaseURL: defaultTikTokBaseURL,
	}
}

// Platform implements Uploader
func (t *TikTok) Platform() string {
	return domain.PlatformTikTok
}

// Upload implements Uploader
func (t *TikTok) Upload(ctx context.Context, v *video.Video, req domain.PlatformRequest) domain.PlatformResult {
	creds, err := t.creds.Get(ctx, v.OwnerID, domain.PlatformTikTok)
	if err != nil {
		return failure(domain.PlatformTikTok, err)
	}

	privacy := "public"
	if req.Private {
		privacy = "private"
	}

	fields := map[string]string{
		"title":       req.Title,
		"description": req.Description,
		"privacy":     privacy,
	}

	var uploaded struct {
		ShareID  string `json:"share_id"`
		ShareURL string `json:"share_url"`
	}

	url := t.BaseURL + "/share/video/upload/"
	if err := postVideoMultipart(ctx, t.client, url, bearer(creds.AccessToken), "video", v.FilePath, fields, &uploaded); err != nil {
		return failure(domain.PlatformTikTok, fmt.Errorf("failed to upload video: %w", err))
	}

	if uploaded.ShareID == "" {
		return failure(domain.PlatformTikTok, fmt.Errorf("upload response missing share id"))
	}

	t.logger.Debug("TikTok upload finished",
		slog.String("share_id", uploaded.ShareID),
	)

	return success(domain.PlatformTikTok, uploaded.ShareID, uploaded.ShareURL)
}
