// Package grpc exposes grading over gRPC using protobuf well-known types, so
// clients need no generated stubs: the request is a BytesValue with the image
// and the response is a Struct.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ekisa-team/retinascope/internal/backend"
	"github.com/ekisa-team/retinascope/internal/model"
	"github.com/ekisa-team/retinascope/internal/preprocess"
	"github.com/ekisa-team/retinascope/internal/service"
)

// messageOverhead is added to the upload limit to size the receive buffer.
const messageOverhead = 1 << 10

// Server serves retinascope.v1.Grading and the standard health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	service    *service.Grading
}

// NewServer creates a gRPC server accepting images up to maxUploadBytes.
func NewServer(service *service.Grading, maxUploadBytes int64) *Server {
	var opts []grpc.ServerOption
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	if maxUploadBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(int(maxUploadBytes)+messageOverhead))
	}

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		service:    service,
	}

	RegisterGradingServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.SetReady(service.Ready())

	return s
}

// SetReady updates the health status reported for the grading service.
func (s *Server) SetReady(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Grade implements GradingServer.
func (s *Server) Grade(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if len(in.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image is required")
	}

	var modelID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(ModelIDMetadataKey); len(v) > 0 {
			modelID = v[0]
		}
	}

	res, err := s.service.Grade(ctx, modelID, in.GetValue())
	if err != nil {
		return nil, statusError(err)
	}

	probabilities := make(map[string]any, len(res.Labels))
	for label, p := range res.Prediction.Scores(res.Labels) {
		probabilities[label] = float64(p)
	}

	out, err := structpb.NewStruct(map[string]any{
		"model_id":        res.ModelID,
		"label":           res.Prediction.Label(),
		"index":           res.Prediction.Index,
		"confidence":      res.Prediction.Confidence,
		"confidence_text": res.Prediction.ConfidenceString(),
		"probabilities":   probabilities,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode result: %v", err)
	}

	return out, nil
}

// Serve accepts connections on l until Stop or GracefulStop is called.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("gRPC server listening", "addr", l.Addr().String())

	if err := s.grpcServer.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully, forcing a stop when ctx ends first.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}
}

// statusError maps grading failures onto gRPC status codes.
func statusError(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, preprocess.ErrTooLarge):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, preprocess.ErrDecode):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, model.ErrNotReady), errors.Is(err, backend.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	slog.Debug("gRPC request",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start))

	return resp, err
}
