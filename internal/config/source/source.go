package source

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/ekisa-team/retinascope/internal/config"
)

// Downloader makes a model artifact available on local disk.
//
// Download returns the local path of the artifact and whether it was already
// present (in which case no network access happened).
type Downloader interface {
	Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (path string, cached bool, err error)
}

// GetDownloader returns the downloader for the given source type.
func GetDownloader(_ context.Context, sourceType config.SourceType) (Downloader, error) {
	switch sourceType {
	case config.SourceTypeURL:
		return NewURLDownloader(http.DefaultClient), nil
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader(ExecCommandRunner{}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, sourceType)
	}
}

// EnsureModelsDirectory creates the models cache directory if needed.
func EnsureModelsDirectory(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("models path %s is not a directory", path)
		}
		return nil
	}

	if !os.IsNotExist(err) {
		return err
	}

	return os.MkdirAll(path, 0o755)
}
