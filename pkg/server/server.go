package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/vango-dev/uisync/pkg/httpsession"
	"github.com/vango-dev/uisync/pkg/middleware"
	"github.com/vango-dev/uisync/pkg/session"
)

// Server is the HTTP server of the sync protocol.
type Server struct {
	config     *ServerConfig
	directory  *session.Directory
	containers *httpsession.Store
	metrics    *middleware.Metrics
	tracing    *middleware.Tracing
	upgrader   websocket.Upgrader
	router     chi.Router
	logger     *slog.Logger

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}

	httpServer *http.Server
	httpMu     sync.Mutex
	closed     atomic.Bool
}

// New creates a new Server with the given configuration.
func New(config *ServerConfig) *Server {
	config = config.withDefaults()
	logger := config.Logger.With("component", "server")

	if err := config.Validate(); err != nil {
		logger.Warn("config validation failed", "error", err)
	}

	dirConfig := config.Directory
	if dirConfig.Logger == nil {
		dirConfig.Logger = config.Logger
	}
	hsConfig := config.HTTPSession
	if hsConfig.Logger == nil {
		hsConfig.Logger = config.Logger
	}

	s := &Server{
		config:     config,
		directory:  session.NewDirectory(dirConfig),
		containers: httpsession.NewStore(hsConfig),
		metrics:    config.Metrics,
		tracing:    config.Tracing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}

	s.containers.OnInvalidate(func(c *httpsession.Container) {
		if n := s.directory.EvictContainer(c.ID); n > 0 {
			s.logger.Info("container ended, sessions disposed", "container", c.ID, "sessions", n)
		}
	})
	s.directory.OnSessionCreate(func(*session.Session) { s.metrics.SessionCreated() })
	s.directory.OnSessionDispose(func(*session.Session) { s.metrics.SessionDisposed() })

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.Instrument)

	if s.metrics != nil && s.config.MetricsPath != "" {
		r.Method(http.MethodGet, s.config.MetricsPath, s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.containers.Middleware)
		r.With(s.compression()).Post(s.config.Path, s.handleJSON)
		if s.config.WebSocketPath != "" {
			r.Get(s.config.WebSocketPath, s.handleWebSocket)
		}
		if s.config.LogoutPath != "" {
			r.Post(s.config.LogoutPath, s.containers.Logout)
		}
	})

	r.Post("/*", http.NotFound)
	if s.config.Static != nil {
		r.Method(http.MethodGet, "/*", s.config.Static)
		r.Method(http.MethodHead, "/*", s.config.Static)
	}
	return r
}

// compression returns the gzip middleware for the JSON endpoint, or a
// pass-through when compression is off.
func (s *Server) compression() func(http.Handler) http.Handler {
	passThrough := func(next http.Handler) http.Handler { return next }
	if !s.config.Compress {
		return passThrough
	}
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(s.config.CompressMinSize))
	if err != nil {
		s.logger.Warn("compression disabled", "error", err)
		return passThrough
	}
	return func(next http.Handler) http.Handler { return wrap(next) }
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Directory returns the UI session directory.
func (s *Server) Directory() *session.Directory {
	return s.directory
}

// Containers returns the HTTP-level session store.
func (s *Server) Containers() *httpsession.Store {
	return s.containers
}

// Config returns the effective server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Run listens on the configured address and serves until ctx is done or
// the process receives SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.closed.Load() {
		ln.Close()
		return ErrServerClosed
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
	s.httpMu.Lock()
	s.httpServer = srv
	s.httpMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting requests, waits for in-flight requests, closes
// WebSocket connections and disposes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	var errs []error

	s.httpMu.Lock()
	srv := s.httpServer
	s.httpMu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	s.closeConns()

	if err := s.directory.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.containers.Close()

	s.logger.Info("server shutdown complete")
	return errors.Join(errs...)
}

func (s *Server) trackConn(conn *websocket.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, c := range conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.Close()
	}
}
