package source

import "errors"

// Error definitions for the source package.
var (
	// ErrRetrieval is returned when a model artifact cannot be fetched or stored.
	ErrRetrieval = errors.New("model retrieval failed")

	// ErrUnsupportedSource is returned when no downloader exists for a source type.
	ErrUnsupportedSource = errors.New("unsupported model source")
)
