package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/retinascope/internal/env"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(env.Production, WithConsole(&buf))

	log.Debug("hidden")
	log.Info("model loaded", "model_id", "dr-efficientnet")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &record))
	assert.Equal(t, "model loaded", record["msg"])
	assert.Equal(t, "dr-efficientnet", record["model_id"])
}

func TestNew_DevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(env.Test, WithConsole(&buf))

	log.Debug("normalizing image", "width", 224)

	assert.Contains(t, buf.String(), "normalizing image")
	assert.Contains(t, buf.String(), "width=224")
}

func TestNew_LogToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "retinascope.log")

	log := New(env.Production,
		WithConsole(&buf),
		WithLogToFile(true),
		WithLogFile(path),
	)
	log.Info("server started", "port", 8080)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server started")
	assert.Contains(t, buf.String(), "server started")
}
