package server

import "errors"

// Sentinel errors for server configuration and lifecycle.
var (
	// ErrNoRootFactory is returned by Validate when no root factory is set.
	ErrNoRootFactory = errors.New("server: root factory is required")

	// ErrInvalidPath is returned by Validate for endpoint paths that do not
	// start with a slash.
	ErrInvalidPath = errors.New("server: endpoint paths must start with /")

	// ErrServerClosed is returned by Run after Shutdown.
	ErrServerClosed = errors.New("server: closed")

	errBinaryFrame = errors.New("server: binary websocket frames are not supported")
)
