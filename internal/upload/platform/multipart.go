package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// postVideoMultipart uploads the video file plus string fields as a
// multipart form. The file is streamed through a pipe so large videos are
// never buffered in memory.
func postVideoMultipart(ctx context.Context, client *http.Client, url string, headers map[string]string, fileField, filePath string, fields map[string]string, out interface{}) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open video file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		var werr error
		defer func() {
			pw.CloseWithError(werr)
		}()

		for k, v := range fields {
			if werr = writer.WriteField(k, v); werr != nil {
				return
			}
		}

		part, perr := writer.CreateFormFile(fileField, filepath.Base(filePath))
		if perr != nil {
			werr = perr
			return
		}

		if _, werr = io.Copy(part, file); werr != nil {
			return
		}

		werr = writer.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
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
