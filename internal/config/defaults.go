package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/ekisa-team/retinascope/internal/envvar"
)

const (
	defaultHTTPPort       = 8080
	defaultGRPCPort       = 9090
	defaultMaxUploadBytes = 16 << 20
	defaultImageSize      = 224
	defaultBackend        = "onnxruntime"
	defaultModelType      = "vision"
)

// DefaultClasses is the output index ordering of the diabetic retinopathy models.
var DefaultClasses = []string{"No_DR", "Mild", "Moderate", "Severe", "Proliferate_DR"}

// DefaultConfigPath returns the default path for the RETINASCOPE config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "retinascope", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "retinascope")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "retinascope")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "retinascope")
		}
		return filepath.Join(home, ".config", "retinascope")
	}
}

// DefaultModelsPath returns the default path for the RETINASCOPE models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "retinascope", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "retinascope", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "retinascope", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "retinascope", "models")
		}
		return filepath.Join(home, ".cache", "retinascope", "models")
	}
}

// DefaultUploadsPath returns the directory uploaded images are stored in.
func DefaultUploadsPath() string {
	return "uploads"
}

// DefaultHTTPPort returns the HTTP port from the environment or the built-in default.
func DefaultHTTPPort() int {
	return portFromEnv(envvar.RetinascopeServerHTTPPort, defaultHTTPPort)
}

// DefaultGRPCPort returns the gRPC port from the environment or the built-in default.
func DefaultGRPCPort() int {
	return portFromEnv(envvar.RetinascopeServerGRPCPort, defaultGRPCPort)
}

func portFromEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return fallback
	}
	return port
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = DefaultUploadsPath()
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = DefaultHTTPPort()
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = DefaultGRPCPort()
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = defaultMaxUploadBytes
	}

	for id, m := range cfg.Models {
		if m.Type == "" {
			m.Type = defaultModelType
		}
		if m.Backend == "" {
			m.Backend = defaultBackend
		}
		if m.Input.Width == 0 {
			m.Input.Width = defaultImageSize
		}
		if m.Input.Height == 0 {
			m.Input.Height = defaultImageSize
		}
		if m.Input.Layout == "" {
			m.Input.Layout = LayoutNHWC
		}
		if len(m.Classes) == 0 {
			m.Classes = append([]string(nil), DefaultClasses...)
		}
		cfg.Models[id] = m
	}

	if cfg.Services.Grading.Default == "" && len(cfg.Services.Grading.Models) > 0 {
		cfg.Services.Grading.Default = cfg.Services.Grading.Models[0]
	}
}
