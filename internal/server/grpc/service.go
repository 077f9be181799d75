package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified name of the grading service.
	ServiceName = "retinascope.v1.Grading"

	// GradeFullMethod is the full method name of Grade.
	GradeFullMethod = "/" + ServiceName + "/Grade"

	// ModelIDMetadataKey selects the model. The default model is used when absent.
	ModelIDMetadataKey = "x-model-id"
)

// GradingServer is the server API of retinascope.v1.Grading.
//
// Grade takes the raw image bytes and returns a struct with the fields
// model_id, label, index, confidence, confidence_text and probabilities.
type GradingServer interface {
	Grade(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterGradingServer registers srv on s.
func RegisterGradingServer(s grpc.ServiceRegistrar, srv GradingServer) {
	s.RegisterService(&gradingServiceDesc, srv)
}

var gradingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GradingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Grade",
			Handler:    gradeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "retinascope/v1/grading.proto",
}

func gradeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GradingServer).Grade(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GradeFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GradingServer).Grade(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GradingClient is the client API of retinascope.v1.Grading.
type GradingClient struct {
	cc grpc.ClientConnInterface
}

// NewGradingClient creates a client over cc.
func NewGradingClient(cc grpc.ClientConnInterface) *GradingClient {
	return &GradingClient{cc: cc}
}

// Grade sends image to the server. An empty modelID uses the default model.
func (c *GradingClient) Grade(ctx context.Context, image []byte, modelID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if modelID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, ModelIDMetadataKey, modelID)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GradeFullMethod, wrapperspb.Bytes(image), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
