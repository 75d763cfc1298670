package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-dev/uisync/pkg/httpsession"
	"github.com/vango-dev/uisync/pkg/middleware"
	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/session"
)

// DefaultDebugLogLimit is the number of body bytes logged per request at
// debug level.
const DefaultDebugLogLimit = 10000

// DefaultCompressMinSize is the smallest response body that is compressed.
const DefaultCompressMinSize = 1024

// ServerConfig holds the server configuration.
type ServerConfig struct {
	// Address is the address to listen on (e.g. ":8080").
	Address string

	// Path is the JSON endpoint. Default: "/json".
	Path string

	// WebSocketPath is the WebSocket endpoint. Empty disables it.
	WebSocketPath string

	// LogoutPath ends the HTTP-level session. Empty disables it.
	LogoutPath string

	// MetricsPath serves Prometheus metrics when Metrics is set.
	// Default: "/metrics".
	MetricsPath string

	// Compress gzips JSON endpoint responses larger than CompressMinSize
	// for clients that accept it.
	Compress        bool
	CompressMinSize int

	// MaxRequestSize limits the size of one wire request in bytes.
	// Default: protocol.DefaultMaxRequestSize.
	MaxRequestSize int64

	// ReadBufferSize and WriteBufferSize size the WebSocket buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the Origin of WebSocket upgrades.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// WebSocketReadTimeout closes WebSocket connections that send nothing
	// for this long. Clients keep idle connections open with pings.
	// Zero disables the deadline.
	WebSocketReadTimeout time.Duration

	// HTTP server timeouts.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Directory configures the UI session directory.
	Directory session.DirectoryConfig

	// HTTPSession configures the HTTP-level session containers.
	HTTPSession httpsession.Config

	// RootFactory creates the root model of every new session.
	RootFactory session.RootFactory

	// Static serves GET requests outside the protocol endpoints.
	Static http.Handler

	// Metrics and Tracing are optional.
	Metrics *middleware.Metrics
	Tracing *middleware.Tracing

	// Logger is the server logger. Defaults to slog.Default().
	Logger *slog.Logger

	// DebugLogLimit truncates request and response bodies logged at debug
	// level. Default: DefaultDebugLogLimit.
	DebugLogLimit int
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		Path:              "/json",
		WebSocketPath:     "/json/ws",
		LogoutPath:        "/logout",
		MetricsPath:       "/metrics",
		MaxRequestSize:    protocol.DefaultMaxRequestSize,
		CompressMinSize:   DefaultCompressMinSize,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		Directory:         session.DefaultDirectoryConfig(),
		HTTPSession:       httpsession.DefaultConfig(),
		DebugLogLimit:     DefaultDebugLogLimit,
	}
}

// withDefaults returns a copy of c with unset fields filled from
// DefaultServerConfig. Optional endpoints left empty stay disabled.
func (c *ServerConfig) withDefaults() *ServerConfig {
	defaults := DefaultServerConfig()
	if c == nil {
		return defaults
	}
	config := *c
	if config.Address == "" {
		config.Address = defaults.Address
	}
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = defaults.MaxRequestSize
	}
	if config.CompressMinSize <= 0 {
		config.CompressMinSize = defaults.CompressMinSize
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = defaults.WriteBufferSize
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = defaults.CheckOrigin
	}
	if config.ReadHeaderTimeout == 0 {
		config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.Directory == (session.DirectoryConfig{}) {
		config.Directory = defaults.Directory
	}
	if config.DebugLogLimit <= 0 {
		config.DebugLogLimit = defaults.DebugLogLimit
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &config
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if c.RootFactory == nil {
		return ErrNoRootFactory
	}
	for name, p := range map[string]string{
		"path":          c.Path,
		"websocketPath": c.WebSocketPath,
		"logoutPath":    c.LogoutPath,
		"metricsPath":   c.MetricsPath,
	} {
		if p != "" && !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: %s %q", ErrInvalidPath, name, p)
		}
	}
	return nil
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}
