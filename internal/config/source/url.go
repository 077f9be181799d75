package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ekisa-team/retinascope/internal/config"
	"github.com/ekisa-team/retinascope/internal/xfs"
)

const defaultURLTimeout = 10 * time.Minute

// URLDownloader fetches a single artifact over HTTP(S).
type URLDownloader struct {
	client *http.Client
}

// NewURLDownloader creates a URLDownloader using the given client.
func NewURLDownloader(client *http.Client) *URLDownloader {
	if client == nil {
		client = http.DefaultClient
	}

	return &URLDownloader{client: client}
}

// Download fetches the artifact into targetDir unless it is already there.
func (d *URLDownloader) Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error) {
	source, err := modelConfig.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	urlSource, ok := source.(config.URLSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", source)
	}

	filename := strings.TrimSpace(urlSource.Filename)
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", false, fmt.Errorf("%w: invalid filename %q", ErrRetrieval, urlSource.Filename)
	}

	fullPath := filepath.Join(targetDir, filename)

	exists, err := xfs.IsFile(fullPath)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	if exists {
		slog.Info("Model already downloaded, skipping", "path", fullPath)
		return fullPath, true, nil
	}

	remote, err := resolveDownloadURL(urlSource.URL)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	timeout, err := config.ParseDuration(urlSource.Timeout, defaultURLTimeout)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", false, fmt.Errorf("%w: failed to create directory: %w", ErrRetrieval, err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			slog.Info("Retrying download", "url", remote, "attempt", attempt)
		} else {
			slog.Info("Downloading model", "url", remote, "path", fullPath)
		}

		err := d.fetch(ctx, remote, fullPath, urlSource.SHA256, timeout)
		if err != nil {
			slog.Error("Failed to download model", "url", remote, "attempt", attempt, "error", err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(urlSource.MaxRetries, 0))),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	slog.Info("Model downloaded successfully", "url", remote, "path", fullPath, "attempt", attempt)
	return fullPath, false, nil
}

// fetch performs a single download attempt. The body is streamed into a
// temporary file next to dest and renamed into place only once complete.
func (d *URLDownloader) fetch(ctx context.Context, remote, dest, checksum string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, http.NoBody)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(fmt.Errorf("download canceled: %w", err))
		}
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("request failed with status code %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	if isGoogleDrive(remote) && isHTML(resp.Header.Get("Content-Type")) {
		return backoff.Permanent(errors.New("google drive returned an HTML page instead of the artifact (quota exceeded or file not shared)"))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create temporary file: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	if checksum != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(sum, checksum) {
			return backoff.Permanent(fmt.Errorf("checksum mismatch: expected %s, got %s", strings.ToLower(checksum), sum))
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to move artifact into place: %w", err))
	}

	slog.Debug("Artifact written", "path", dest, "bytes", written)
	return nil
}

// resolveDownloadURL validates raw and rewrites Google Drive share links into
// their direct download form.
func resolveDownloadURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid url %q: unsupported scheme", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}

	if u.Hostname() != "drive.google.com" {
		return u.String(), nil
	}

	id := u.Query().Get("id")
	if parts := strings.Split(strings.Trim(u.Path, "/"), "/"); len(parts) >= 3 && parts[0] == "file" && parts[1] == "d" {
		id = parts[2]
	}
	if id == "" {
		return "", fmt.Errorf("invalid google drive url %q: missing file id", raw)
	}

	direct := url.URL{
		Scheme: "https",
		Host:   "drive.usercontent.google.com",
		Path:   "/download",
	}
	q := url.Values{}
	q.Set("id", id)
	q.Set("export", "download")
	q.Set("confirm", "t")
	direct.RawQuery = q.Encode()

	return direct.String(), nil
}

func isGoogleDrive(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "drive.google.com" || host == "drive.usercontent.google.com"
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}
