package xfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "models"), ExpandTilde("~/models"))
	assert.Equal(t, home, ExpandTilde("~"))
	assert.Equal(t, "/var/lib/retinascope", ExpandTilde("/var/lib/retinascope"))
	assert.Equal(t, "~user/models", ExpandTilde("~user/models"))
}

func TestIsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dr_model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))

	ok, err := IsFile(path)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsFile(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsFile(filepath.Join(dir, "missing.onnx"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithinDir(t *testing.T) {
	assert.True(t, WithinDir("/srv/uploads", "/srv/uploads/eye.png"))
	assert.False(t, WithinDir("/srv/uploads", "/srv/uploads/../secrets"))
	assert.False(t, WithinDir("/srv/uploads", "/etc/passwd"))
	assert.True(t, WithinDir("/srv/uploads", "/srv/uploads/..eye.png"))
}
