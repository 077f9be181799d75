package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ekisa-team/retinascope/internal/backend"
	"github.com/ekisa-team/retinascope/internal/backend/onnx"
	"github.com/ekisa-team/retinascope/internal/config"
	"github.com/ekisa-team/retinascope/internal/env"
	"github.com/ekisa-team/retinascope/internal/envvar"
	"github.com/ekisa-team/retinascope/internal/logger"
	"github.com/ekisa-team/retinascope/internal/model"
	grpcserver "github.com/ekisa-team/retinascope/internal/server/grpc"
	httpserver "github.com/ekisa-team/retinascope/internal/server/http"
	"github.com/ekisa-team/retinascope/internal/service"
	"github.com/ekisa-team/retinascope/internal/uploads"
	"github.com/ekisa-team/retinascope/internal/xfs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		flagHTTPPort   = flag.Int("http-port", config.DefaultHTTPPort(), "HTTP port to listen on")
		flagGRPCPort   = flag.Int("grpc-port", config.DefaultGRPCPort(), "GRPC port to listen on")
		flagConfigPath = flag.String("config", filepath.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagSchemaPath = flag.String("schema", filepath.Join(config.DefaultConfigPath(), "retinascope.v1.schema.json"), "Path to schema file")
	)
	flag.Parse()

	environment := env.FromEnv()

	slog.SetDefault(
		logger.New(environment,
			logger.WithLogToFile(true),
			logger.WithLogFile("logs/retinascope.log"),
		),
	)

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	overrides := func(cfg *config.Config) {
		if explicit["http-port"] {
			cfg.Server.HTTPPort = *flagHTTPPort
		}
		if explicit["grpc-port"] {
			cfg.Server.GRPCPort = *flagGRPCPort
		}
	}

	if err := run(*flagConfigPath, *flagSchemaPath, overrides); err != nil {
		slog.Error("Retinascope stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, schemaPath string, overrides func(*config.Config)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initial, err := config.LoadAndValidate(configPath, schemaPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	backends, err := newBackends(initial)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			slog.Warn("Failed to close backends", "error", err)
		}
	}()

	manager := model.NewManager(backends)
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Warn("Failed to close models", "error", err)
		}
	}()

	grading := service.NewGrading(manager)

	var grpcRef atomic.Pointer[grpcserver.Server]

	watcher, err := config.NewWatcher(configPath, schemaPath, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Error("Failed to reload config", "error", err)
			return
		}

		if err := manager.LoadModelsFromConfig(ctx, cfg); err != nil {
			slog.Error("Failed to load models from config", "error", err)
		}

		if s := grpcRef.Load(); s != nil {
			s.SetReady(grading.Ready())
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Warn("Failed to close config watcher", "error", err)
		}
	}()

	cfg := watcher.Snapshot()
	overrides(cfg)

	slog.Info("Config loaded successfully", "config", configPath, "schema", schemaPath)

	readTimeout, err := config.ParseDuration(cfg.Server.ReadTimeout, 0)
	if err != nil {
		return fmt.Errorf("server.read_timeout: %w", err)
	}
	writeTimeout, err := config.ParseDuration(cfg.Server.WriteTimeout, 0)
	if err != nil {
		return fmt.Errorf("server.write_timeout: %w", err)
	}

	store, err := uploads.NewStore(uploadsPath(cfg))
	if err != nil {
		return err
	}

	if err := manager.LoadModelsFromConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to load models from config: %w", err)
	}

	httpServer := httpserver.NewServer(httpserver.Options{
		Addr:           fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
	}, grading, store)

	grpcServer := grpcserver.NewServer(grading, cfg.Server.MaxUploadBytes)
	grpcRef.Store(grpcServer)

	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen for HTTP: %w", err)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		httpListener.Close()
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.Serve(httpListener) }()
	go func() { errCh <- grpcServer.Serve(grpcListener) }()

	slog.Info("Retinascope started",
		"environment", env.FromEnv().String(),
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"uploads", store.Dir())

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr == nil {
			serveErr = errors.New("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Failed to shut down HTTP server", "error", err)
	}
	grpcServer.Shutdown(shutdownCtx)

	slog.Info("Retinascope stopped")
	return serveErr
}

// newBackends builds the registry of every inference backend a model config
// can name. It is complete before any model is loaded or reloaded.
func newBackends(cfg *config.Config) (*backend.Registry, error) {
	backends := backend.NewRegistry()
	if err := backends.Register(onnx.NewBackend(onnxLibraryPath(cfg))); err != nil {
		return nil, fmt.Errorf("failed to register onnxruntime backend: %w", err)
	}
	return backends, nil
}

// onnxLibraryPath returns the onnxruntime shared library path, preferring the environment.
func onnxLibraryPath(cfg *config.Config) string {
	if p := os.Getenv(envvar.RetinascopeONNXRuntimeLib); p != "" {
		return xfs.ExpandTilde(p)
	}
	return xfs.ExpandTilde(cfg.Backends.ONNXRuntime.LibraryPath)
}

// uploadsPath returns the uploads directory, preferring the environment.
func uploadsPath(cfg *config.Config) string {
	if p := os.Getenv(envvar.RetinascopeUploadsPath); p != "" {
		return p
	}
	return cfg.Storage.UploadsDir
}
