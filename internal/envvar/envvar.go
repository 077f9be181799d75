package envvar

const (
	// RetinascopeEnv is the environment variable used to determine the environment
	RetinascopeEnv = "RETINASCOPE_ENV"

	// RetinascopeServerHTTPPort is the environment variable used to determine the HTTP port
	RetinascopeServerHTTPPort = "RETINASCOPE_SERVER_HTTP_PORT"

	// RetinascopeServerGRPCPort is the environment variable used to determine the gRPC port
	RetinascopeServerGRPCPort = "RETINASCOPE_SERVER_GRPC_PORT"

	// RetinascopeModelsPath overrides the models cache directory from the config file
	RetinascopeModelsPath = "RETINASCOPE_MODELS_PATH"

	// RetinascopeUploadsPath overrides the uploads directory from the config file
	RetinascopeUploadsPath = "RETINASCOPE_UPLOADS_PATH"

	// RetinascopeONNXRuntimeLib is the path to the onnxruntime shared library
	RetinascopeONNXRuntimeLib = "RETINASCOPE_ONNXRUNTIME_LIB"
)
