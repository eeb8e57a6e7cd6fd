package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joetabora/CreatorCast/internal/upload/credentials"
	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/internal/upload/video"
)

const (
	defaultXUploadBaseURL = "https://upload.twitter.com/1.1"
	defaultXAPIBaseURL    = "https://api.twitter.com/2"

	// xChunkSize is the APPEND segment size; the media upload API caps
	// segments at 5MB.
	xChunkSize = 4 * 1024 * 1024
)

// X publishes videos as posts using the chunked media upload flow:
// INIT, APPEND per segment, FINALIZE, then create the post with the media id.
type X struct {
	creds         credentials.Store
	client        *http.Client
	logger        *slog.Logger
	UploadBaseURL string
	APIBaseURL    string
}

// NewX creates the X adapter
func NewX(creds credentials.Store, client *http.Client, logger *slog.Logger) *X {
	return &X{
		creds:         creds,
		client:        client,
		logger:        logger,
		UploadBaseURL: defaultXUploadBaseURL,
		APIBaseURL:    defaultXAPIBaseURL,
	}
}

// Platform implements Uploader
func (x *X) Platform() string {
	return domain.PlatformX
}

// Upload implements Uploader
func (x *X) Upload(ctx context.Context, v *video.Video, req domain.PlatformRequest) domain.PlatformResult {
	creds, err := x.creds.Get(ctx, v.OwnerID, domain.PlatformX)
	if err != nil {
		return failure(domain.PlatformX, err)
	}

	mediaID, err := x.uploadMedia(ctx, creds.AccessToken, v)
	if err != nil {
		return failure(domain.PlatformX, err)
	}

	text := req.Title
	if req.Description != "" {
		text += "\n\n" + req.Description
	}

	var tweet struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}

	payload := map[string]interface{}{
		"text": text,
		"media": map[string]interface{}{
			"media_ids": []string{mediaID},
		},
	}
	if err := postJSON(ctx, x.client, x.APIBaseURL+"/tweets", bearer(creds.AccessToken), payload, &tweet); err != nil {
		return failure(domain.PlatformX, fmt.Errorf("failed to create post: %w", err))
	}

	if tweet.Data.ID == "" {
		return failure(domain.PlatformX, fmt.Errorf("post response missing id"))
	}

	x.logger.Debug("X upload finished",
		slog.String("post_id", tweet.Data.ID),
	)

	return success(domain.PlatformX, tweet.Data.ID, "https://twitter.com/i/status/"+tweet.Data.ID)
}

// uploadMedia runs the INIT / APPEND / FINALIZE chunked upload
func (x *X) uploadMedia(ctx context.Context, token string, v *video.Video) (string, error) {
	file, err := os.Open(v.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to open video file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat video file: %w", err)
	}

	var initResp struct {
		MediaIDString string `json:"media_id_string"`
	}
	err = x.postForm(ctx, token, url.Values{
		"command":     {"INIT"},
		"media_type":  {"video/mp4"},
		"total_bytes": {strconv.FormatInt(info.Size(), 10)},
	}, &initResp)
	if err != nil {
		return "", fmt.Errorf("failed to init media upload: %w", err)
	}
	if initResp.MediaIDString == "" {
		return "", fmt.Errorf("init response missing media id")
	}

	buf := make([]byte, xChunkSize)
	for segment := 0; ; segment++ {
		n, readErr := io.ReadFull(file, buf)
		if n > 0 {
			err = x.postForm(ctx, token, url.Values{
				"command":       {"APPEND"},
				"media_id":      {initResp.MediaIDString},
				"segment_index": {strconv.Itoa(segment)},
				"media":         {base64.StdEncoding.EncodeToString(buf[:n])},
			}, nil)
			if err != nil {
				return "", fmt.Errorf("failed to append segment %d: %w", segment, err)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to read video file: %w", readErr)
		}
	}

	err = x.postForm(ctx, token, url.Values{
		"command":  {"FINALIZE"},
		"media_id": {initResp.MediaIDString},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to finalize media upload: %w", err)
	}

	return initResp.MediaIDString, nil
}

func (x *X) postForm(ctx context.Context, token string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.UploadBaseURL+"/media/upload.json", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := x.client.Do(req)
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

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
