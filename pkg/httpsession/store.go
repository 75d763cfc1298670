package httpsession

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config configures a Store.
type Config struct {
	// CookieName is the name of the container cookie.
	// Default: "UISYNCSESSION".
	CookieName string

	// CookiePath is the cookie path. Default: "/".
	CookiePath string

	// Secure sets the Secure attribute on the cookie.
	Secure bool

	// SameSite is the cookie SameSite mode. Default: http.SameSiteLaxMode.
	SameSite http.SameSite

	// IdleTimeout is how long a container lives without requests.
	// Default: 30 minutes.
	IdleTimeout time.Duration

	// CleanupInterval is how often idle containers are expired.
	// Default: 1 minute.
	CleanupInterval time.Duration

	// Logger is the store logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:      "UISYNCSESSION",
		CookiePath:      "/",
		SameSite:        http.SameSiteLaxMode,
		IdleTimeout:     30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.CookieName == "" {
		c.CookieName = def.CookieName
	}
	if c.CookiePath == "" {
		c.CookiePath = def.CookiePath
	}
	if c.SameSite == 0 {
		c.SameSite = def.SameSite
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Container is one HTTP-level session.
type Container struct {
	ID        string
	CreatedAt time.Time

	lastAccess atomic.Int64
	invalid    atomic.Bool
}

// LastAccess returns the time of the last request in this container.
func (c *Container) LastAccess() time.Time {
	return time.Unix(0, c.lastAccess.Load())
}

// Valid reports whether the container has not been invalidated.
func (c *Container) Valid() bool {
	return !c.invalid.Load()
}

func (c *Container) touch(now time.Time) {
	c.lastAccess.Store(now.UnixNano())
}

// Store is an in-memory container store.
type Store struct {
	config Config
	logger *slog.Logger

	mu         sync.RWMutex
	containers map[string]*Container
	closed     bool

	listenerMu sync.RWMutex
	listeners  []func(*Container)

	done        chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewStore creates a store and starts its cleanup loop. A non-positive
// cleanup interval disables the loop.
func NewStore(config Config) *Store {
	config.applyDefaults()
	s := &Store{
		config:      config,
		logger:      config.Logger.With("component", "httpsession"),
		containers:  make(map[string]*Container),
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	if config.CleanupInterval > 0 && config.IdleTimeout > 0 {
		go s.cleanupLoop(config.CleanupInterval)
	} else {
		close(s.cleanupDone)
	}
	return s
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.config
}

// OnInvalidate registers fn to run after a container is invalidated.
func (s *Store) OnInvalidate(fn func(*Container)) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

// Create starts a new container.
func (s *Store) Create() *Container {
	now := time.Now()
	c := &Container{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CreatedAt: now,
	}
	c.touch(now)

	s.mu.Lock()
	s.containers[c.ID] = c
	s.mu.Unlock()

	s.logger.Debug("container created", "container", c.ID)
	return c
}

// Get returns the live container with the given ID.
func (s *Store) Get(id string) (*Container, bool) {
	s.mu.RLock()
	c, ok := s.containers[id]
	s.mu.RUnlock()
	if !ok || !c.Valid() {
		return nil, false
	}
	return c, true
}

// Touch records access to the container and reports whether it exists.
func (s *Store) Touch(id string) bool {
	c, ok := s.Get(id)
	if ok {
		c.touch(time.Now())
	}
	return ok
}

// Invalidate ends the container and notifies the listeners. It reports
// whether the container existed.
func (s *Store) Invalidate(id string) bool {
	s.mu.Lock()
	c, ok := s.containers[id]
	if ok {
		delete(s.containers, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.invalidated(c, "invalidated")
	return true
}

func (s *Store) invalidated(c *Container, reason string) {
	if c.invalid.Swap(true) {
		return
	}
	s.listenerMu.RLock()
	listeners := append([]func(*Container){}, s.listeners...)
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
	s.logger.Debug("container ended", "container", c.ID, "reason", reason)
}

// Len returns the number of live containers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.containers)
}

// cleanupLoop periodically expires idle containers.
func (s *Store) cleanupLoop(interval time.Duration) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.Expire(now)
		case <-s.done:
			return
		}
	}
}

// Expire invalidates containers idle since before now minus the idle
// timeout and returns how many it invalidated.
func (s *Store) Expire(now time.Time) int {
	cutoff := now.Add(-s.config.IdleTimeout)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	var expired []*Container
	for id, c := range s.containers {
		if c.LastAccess().Before(cutoff) {
			expired = append(expired, c)
			delete(s.containers, id)
		}
	}
	s.mu.Unlock()

	for _, c := range expired {
		s.invalidated(c, "timeout")
	}
	if len(expired) > 0 {
		s.logger.Info("expired idle containers", "count", len(expired))
	}
	return len(expired)
}

// Close stops the cleanup loop and invalidates every container.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.cleanupDone

		s.mu.Lock()
		s.closed = true
		all := make([]*Container, 0, len(s.containers))
		for _, c := range s.containers {
			all = append(all, c)
		}
		s.containers = make(map[string]*Container)
		s.mu.Unlock()

		for _, c := range all {
			s.invalidated(c, "closed")
		}
	})
	return nil
}
