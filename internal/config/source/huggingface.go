package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/retinascope/internal/config"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	markerFilename    = ".retinascope-downloaded"
)

// HuggingFaceDownloader downloads a model from Hugging Face using the hf CLI.
type HuggingFaceDownloader struct {
	runner     CommandRunner
	retryDelay time.Duration
}

// NewHuggingFaceDownloader creates a HuggingFaceDownloader that runs hf through runner.
func NewHuggingFaceDownloader(runner CommandRunner) *HuggingFaceDownloader {
	return &HuggingFaceDownloader{
		runner:     runner,
		retryDelay: defaultRetryDelay,
	}
}

// Download downloads Hugging Face model to local cache and returns the model file path.
func (d *HuggingFaceDownloader) Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error) {
	source, err := modelConfig.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	hfSource, ok := source.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", source)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" || strings.Contains(repo, "..") {
		return "", false, fmt.Errorf("%w: invalid repo name: %q", ErrRetrieval, hfSource.Repo)
	}

	fullPath := filepath.Join(targetDir, repo)
	markerPath := filepath.Join(fullPath, markerFilename)
	markerContent := d.markerContent(repo, hfSource.Revision)

	if _, err := os.Stat(markerPath); err == nil && !hfSource.ForceDownload {
		if !d.shouldRedownload(markerPath, markerContent) {
			slog.Info("Model already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", fullPath)

			modelPath, err := resolveModelPath(fullPath, hfSource.Include)
			if err != nil {
				return "", false, fmt.Errorf("%w: failed to resolve model path: %w", ErrRetrieval, err)
			}
			return modelPath, true, nil
		}
	}

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", false, fmt.Errorf("%w: failed to create directory: %w", ErrRetrieval, err)
	}

	args := d.buildArgs(repo, fullPath, hfSource)

	var lastErr error
	for attempt := range defaultMaxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)

			select {
			case <-ctx.Done():
				return "", false, fmt.Errorf("%w: download canceled: %w", ErrRetrieval, ctx.Err())
			case <-time.After(d.retryDelay):
			}
		} else {
			slog.Info("Downloading model", "repo", repo, "path", fullPath)
		}

		delayCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		output, err := d.runner.CombinedOutput(delayCtx, "hf", args...)
		deadline := delayCtx.Err()
		cancel()

		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			} else {
				slog.Info("Download marker updated", "path", markerPath)
			}

			slog.Info("Model downloaded successfully", "repo", repo, "path", fullPath, "attempt", attempt+1)

			modelPath, err := resolveModelPath(fullPath, hfSource.Include)
			if err != nil {
				return "", false, fmt.Errorf("%w: failed to resolve model path: %w", ErrRetrieval, err)
			}
			return modelPath, false, nil
		}

		lastErr = err
		slog.Error("Failed to download model", "repo", repo, "path", fullPath, "attempt", attempt+1, "error", err, "output", string(output))

		if errors.Is(deadline, context.DeadlineExceeded) {
			slog.Warn("Download timed out", "repo", repo, "path", fullPath, "attempt", attempt+1)
		} else if ctx.Err() != nil {
			return "", false, fmt.Errorf("%w: download canceled: %w", ErrRetrieval, err)
		}
	}

	return "", false, fmt.Errorf("%w: %w", ErrRetrieval, lastErr)
}

// buildArgs builds the hf download command-line arguments.
func (d *HuggingFaceDownloader) buildArgs(repo, fullPath string, hfSource config.HuggingFaceSource) []string {
	args := []string{
		"download",
		repo,
		"--local-dir", fullPath,
	}

	if hfSource.Revision != "" {
		args = append(args, "--revision", hfSource.Revision)
	}
	if hfSource.RepoType != "" {
		args = append(args, "--repo-type", hfSource.RepoType)
	}
	for _, inc := range hfSource.Include {
		args = append(args, "--include", inc)
	}
	for _, exc := range hfSource.Exclude {
		args = append(args, "--exclude", exc)
	}
	if hfSource.ForceDownload {
		args = append(args, "--force-download")
	}
	if hfSource.Token != "" {
		args = append(args, "--token", hfSource.Token)
	}
	if hfSource.MaxWorkers > 0 {
		args = append(args, "--max-workers", fmt.Sprintf("%d", hfSource.MaxWorkers))
	}

	return args
}

// markerContent generates the expected content of the marker file.
// Used to detect if we need to redownload due to config change.
func (d *HuggingFaceDownloader) markerContent(repo, revision string) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\n", repo, revision)
}

// shouldRedownload checks if the model should be redownloaded by comparing marker content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Model config changed (marker mismatch), will redownload",
			"marker_path", markerPath,
			"expected_snippet", expectedContent,
			"actual_snippet", string(content))
		return true
	}

	return false
}

// resolveModelPath finds the model file inside a downloaded repository.
// With no include patterns, or when nothing usable matches, the repository
// is searched for the primary model file.
func resolveModelPath(baseDir string, includePatterns []string) (string, error) {
	var candidates []string
	for _, pattern := range includePatterns {
		matches, err := filepath.Glob(filepath.Join(baseDir, pattern))
		if err != nil {
			slog.Warn("Invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		candidates = append(candidates, regularFiles(matches)...)
	}

	if len(candidates) == 1 {
		slog.Info("Resolved model file", "path", candidates[0])
		return candidates[0], nil
	}

	if len(candidates) == 0 {
		entries, err := os.ReadDir(baseDir)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if !e.IsDir() && e.Name() != markerFilename {
				candidates = append(candidates, filepath.Join(baseDir, e.Name()))
			}
		}
	}

	if modelFile := findPrimaryModelFile(candidates); modelFile != "" {
		slog.Info("Resolved primary model file", "path", modelFile, "candidates", len(candidates))
		return modelFile, nil
	}

	return "", fmt.Errorf("no model file found in %s", baseDir)
}

func regularFiles(paths []string) []string {
	files := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, p)
	}
	return files
}

// findPrimaryModelFile attempts to identify the primary model file from multiple matches.
func findPrimaryModelFile(files []string) string {
	// Priority order for model file extensions
	extensions := []string{
		".onnx",
		".ort",
		".h5",
		".keras",
	}

	for _, ext := range extensions {
		for _, file := range files {
			if strings.HasSuffix(strings.ToLower(file), ext) {
				return file
			}
		}
	}

	patterns := []string{"model", "checkpoint", "weights"}
	for _, pattern := range patterns {
		for _, file := range files {
			baseName := strings.ToLower(filepath.Base(file))
			if strings.Contains(baseName, pattern) {
				return file
			}
		}
	}

	return ""
}
