// Package http exposes grading over HTTP: the upload form, the dashboard and
// the JSON API with its OpenAPI document.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/ekisa-team/retinascope/internal/service"
	"github.com/ekisa-team/retinascope/internal/uploads"
)

// APIVersion is the version reported in the OpenAPI document.
const APIVersion = "1.0.0"

const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 60 * time.Second
)

// Options configures the HTTP server.
type Options struct {
	Addr           string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	api        huma.API
}

// NewServer builds the routes of every HTTP surface.
func NewServer(opts Options, grading *service.Grading, store *uploads.Store) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	mux := http.NewServeMux()

	apiConfig := huma.DefaultConfig("Retinascope", APIVersion)
	apiConfig.Info.Description = "Diabetic retinopathy severity grading of retina images."
	api := humago.New(mux, apiConfig)

	NewGradingHandler(api, grading, opts.MaxUploadBytes)
	NewFormHandler(mux, grading, store)

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           logRequests(limitBody(mux, opts.MaxUploadBytes)),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		api: api,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// API returns the huma API the JSON operations are registered on.
func (s *Server) API() huma.API {
	return s.api
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("HTTP server listening", "addr", l.Addr().String())

	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// limitBody caps request bodies at maxBytes.
func limitBody(next http.Handler, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// logRequests logs one line per request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
