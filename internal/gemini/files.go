package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/JaapHaitsma/pdf2epub/internal/uploadcache"
)

// File is a provider-side file handle.
type File struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

type fileEnvelope struct {
	File File `json:"file"`
}

// File API states.
const (
	stateProcessing = "PROCESSING"
	stateActive     = "ACTIVE"
	stateFailedFile = "FAILED"
)

// UploadPDF uploads the PDF once per content hash: a cached handle is reused
// when the remote side still reports it usable, and invalidated when the
// remote handle reports a failed state.
func (c *Client) UploadPDF(ctx context.Context, path string) (*File, error) {
	hash, err := uploadcache.HashFile(path)
	if err != nil {
		return nil, err
	}

	if entry, ok := c.uploads.Get(hash); ok {
		file, err := c.getFile(ctx, entry.Name)
		if err == nil && file.State == stateActive {
			c.log.Debug("upload cache hit", "file", file.Name)
			return file, nil
		}
		if err := c.uploads.Delete(hash); err != nil {
			c.log.Warn("failed to drop stale upload cache entry", "error", err)
		}
		c.log.Debug("upload cache entry stale, re-uploading", "name", entry.Name)
	}

	file, err := c.uploadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	file, err = c.awaitActive(ctx, file)
	if err != nil {
		return nil, err
	}

	if err := c.uploads.Put(hash, uploadcache.Entry{Name: file.Name, UploadedAt: time.Now().UTC()}); err != nil {
		c.log.Warn("failed to record upload cache entry", "error", err)
	}
	c.log.Info("uploaded PDF", "file", file.Name, "path", filepath.Base(path))
	return file, nil
}

// uploadFile performs the two-step resumable media upload.
func (c *Client) uploadFile(ctx context.Context, path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	meta, err := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": filepath.Base(path)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload metadata: %w", err)
	}

	startURL := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(meta))
	if err != nil {
		return nil, fmt.Errorf("failed to create upload start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", fmt.Sprintf("%d", len(data)))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", "application/pdf")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload start failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload start failed (status %d)", resp.StatusCode)
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, fmt.Errorf("upload start response missing upload URL")
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	req.Header.Set("X-Goog-Upload-Offset", "0")

	resp, err = c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload failed (status %d): %s", resp.StatusCode, string(body))
	}

	var env fileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload response: %w", err)
	}
	if env.File.Name == "" {
		return nil, fmt.Errorf("upload response missing file name")
	}
	return &env.File, nil
}

// getFile fetches the current state of a remote file handle.
func (c *Client) getFile(ctx context.Context, name string) (*File, error) {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create file request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file request failed (status %d): %s", resp.StatusCode, string(body))
	}
	var f File
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file response: %w", err)
	}
	return &f, nil
}

// awaitActive polls the file handle until the remote side finishes
// processing it.
func (c *Client) awaitActive(ctx context.Context, file *File) (*File, error) {
	if file.State == stateActive || file.State == "" {
		return file, nil
	}
	var current *File
	err := retry.Do(
		func() error {
			f, err := c.getFile(ctx, file.Name)
			if err != nil {
				return err
			}
			current = f
			switch f.State {
			case stateActive:
				return nil
			case stateFailedFile:
				return retry.Unrecoverable(fmt.Errorf("remote file %s failed processing", f.Name))
			default:
				return fmt.Errorf("remote file %s still %s", f.Name, f.State)
			}
		},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("file never became active: %w", err)
	}
	return current, nil
}
