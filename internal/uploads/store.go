// Package uploads stores images submitted through the upload form so the
// result page can display them.
package uploads

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ekisa-team/retinascope/internal/xfs"
)

const maxNameLength = 96

// Error definitions for the uploads package.
var (
	ErrNotFound    = errors.New("upload not found")
	ErrInvalidName = errors.New("invalid upload name")
)

// Store keeps uploads in a single flat directory.
type Store struct {
	dir string
}

// NewStore creates the uploads directory if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	dir = xfs.ExpandTilde(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory %s: %w", dir, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	return &Store{dir: abs}, nil
}

// Dir returns the absolute uploads directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under a unique name derived from the client filename and
// returns that name.
func (s *Store) Save(filename string, data []byte) (string, error) {
	name := uuid.NewString() + "_" + sanitize(filename)

	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	slog.Debug("Upload stored", "name", name, "bytes", len(data))
	return name, nil
}

// Path returns the location of a stored upload. Names that would resolve
// outside the uploads directory are rejected.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(s.dir, name)
	if !xfs.WithinDir(s.dir, path) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	ok, err := xfs.IsFile(path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return path, nil
}

// sanitize reduces a client supplied filename to a safe base name.
func sanitize(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := strings.TrimLeft(b.String(), ".")
	if len(name) > maxNameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxNameLength-len(ext)] + ext
	}
	if name == "" {
		name = "upload"
	}

	return name
}
