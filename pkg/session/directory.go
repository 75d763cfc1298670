package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/uisync/pkg/protocol"
)

// DirectoryConfig configures a Directory.
type DirectoryConfig struct {
	// IdleTimeout is how long a session may go without requests before the
	// sweep disposes it. Zero disables idle eviction.
	// Default: 30 minutes.
	IdleTimeout time.Duration

	// SweepInterval is how often idle sessions are looked for. Zero
	// disables the background sweep; Sweep can still be called directly.
	// Default: 1 minute.
	SweepInterval time.Duration

	// MaxSessions limits the number of live sessions. Zero means no limit.
	MaxSessions int

	// Logger is the directory logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultDirectoryConfig returns a DirectoryConfig with sensible defaults.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

type key struct {
	container string
	session   string
}

// Directory maps client session identifiers, scoped by HTTP-level
// container, to sessions.
type Directory struct {
	config DirectoryConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[key]*Session
	peak     int
	closed   bool

	totalCreated  atomic.Uint64
	totalDisposed atomic.Uint64

	hookMu    sync.RWMutex
	onCreate  []func(*Session)
	onDispose []func(*Session)

	done        chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewDirectory creates a Directory and starts its idle sweep.
func NewDirectory(config DirectoryConfig) *Directory {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		config:      config,
		logger:      logger.With("component", "session_directory"),
		sessions:    make(map[key]*Session),
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	if config.SweepInterval > 0 && config.IdleTimeout > 0 {
		go d.cleanupLoop()
	} else {
		close(d.cleanupDone)
	}
	return d
}

// OnSessionCreate registers a callback run after a session is created.
func (d *Directory) OnSessionCreate(fn func(*Session)) {
	d.hookMu.Lock()
	d.onCreate = append(d.onCreate, fn)
	d.hookMu.Unlock()
}

// OnSessionDispose registers a callback run after a session is disposed.
func (d *Directory) OnSessionDispose(fn func(*Session)) {
	d.hookMu.Lock()
	d.onDispose = append(d.onDispose, fn)
	d.hookMu.Unlock()
}

func (d *Directory) notify(hooks *[]func(*Session), s *Session) {
	d.hookMu.RLock()
	fns := append([]func(*Session){}, (*hooks)...)
	d.hookMu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

// ResolveOrCreate returns the live session for id in container. A startup
// creates the session and fails with illegal-state if it already exists;
// any other request fails with session-timeout if it does not. A disposed
// session still in the map counts as absent.
func (d *Directory) ResolveOrCreate(container, id string, isStartup bool) (*Session, error) {
	k := key{container, id}

	d.mu.Lock()
	s, ok := d.sessions[k]
	if ok && s.State() == StateDisposed {
		// Disposed by a sweep or failed startup that has not removed it yet.
		delete(d.sessions, k)
		ok = false
	}
	if ok {
		d.mu.Unlock()
		if isStartup {
			return nil, protocol.Errorf(protocol.ErrIllegalState, "startup", "session %s already exists", id)
		}
		return s, nil
	}
	if !isStartup {
		d.mu.Unlock()
		return nil, protocol.Errorf(protocol.ErrSessionTimeout, "resolve", "session %s not found", id)
	}
	if d.closed {
		d.mu.Unlock()
		return nil, protocol.Errorf(protocol.ErrStartupFailed, "startup", "directory is shut down")
	}
	if d.config.MaxSessions > 0 && len(d.sessions) >= d.config.MaxSessions {
		d.mu.Unlock()
		return nil, protocol.Errorf(protocol.ErrStartupFailed, "startup", "session limit of %d reached", d.config.MaxSessions)
	}

	s = newSession(container, id, d.logger)
	d.sessions[k] = s
	if n := len(d.sessions); n > d.peak {
		d.peak = n
	}
	d.mu.Unlock()

	d.totalCreated.Add(1)
	d.notify(&d.onCreate, s)
	return s, nil
}

// Start creates the session named by req and starts it. A session whose
// startup fails is removed again.
func (d *Directory) Start(ctx context.Context, container string, req *protocol.Request, factory RootFactory) (*protocol.Response, error) {
	s, err := d.ResolveOrCreate(container, req.Session, true)
	if err != nil {
		return nil, err
	}
	resp, err := s.Start(ctx, req, factory)
	if err != nil {
		if protocol.CodeOf(err) == protocol.ErrStartupFailed {
			d.remove(s)
			d.disposed(s)
		}
		return nil, err
	}
	return resp, nil
}

// Process routes an event request to its session.
func (d *Directory) Process(ctx context.Context, container string, req *protocol.Request) (*protocol.Response, error) {
	s, err := d.ResolveOrCreate(container, req.Session, false)
	if err != nil {
		return nil, err
	}
	return s.Process(ctx, req)
}

// Lookup returns the session for id in container, if any.
func (d *Directory) Lookup(container, id string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[key{container, id}]
	return s, ok
}

// Evict removes and disposes the session. It waits for an in-flight request
// on that session and reports whether a session was removed.
func (d *Directory) Evict(container, id string) bool {
	d.mu.Lock()
	s, ok := d.sessions[key{container, id}]
	if ok {
		delete(d.sessions, key{container, id})
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	if s.Dispose() {
		d.disposed(s)
	}
	return true
}

// EvictContainer disposes every session bound to container. It is called
// when the HTTP-level session is invalidated.
func (d *Directory) EvictContainer(container string) int {
	d.mu.Lock()
	var evicted []*Session
	for k, s := range d.sessions {
		if k.container == container {
			evicted = append(evicted, s)
			delete(d.sessions, k)
		}
	}
	d.mu.Unlock()

	d.closeSessions(evicted)
	if len(evicted) > 0 {
		d.logger.Info("evicted container sessions",
			"container", container,
			"count", len(evicted))
	}
	return len(evicted)
}

// Sweep disposes sessions idle since before now minus the idle timeout and
// returns how many it disposed. A session that receives a request while
// the sweep waits for it is kept.
func (d *Directory) Sweep(now time.Time) int {
	if d.config.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-d.config.IdleTimeout)

	d.mu.Lock()
	var candidates []*Session
	for _, s := range d.sessions {
		if !s.LastAccess().After(cutoff) {
			candidates = append(candidates, s)
		}
	}
	d.mu.Unlock()

	expired := 0
	for _, s := range candidates {
		if !s.expire(cutoff) {
			continue
		}
		d.remove(s)
		d.disposed(s)
		expired++
	}

	if expired > 0 {
		d.logger.Info("cleaned up expired sessions",
			"count", expired,
			"remaining", d.Len())
	}
	return expired
}

// remove deletes s from the map if it is still the registered instance.
func (d *Directory) remove(s *Session) {
	k := key{s.container, s.id}
	d.mu.Lock()
	if d.sessions[k] == s {
		delete(d.sessions, k)
	}
	d.mu.Unlock()
}

func (d *Directory) disposed(s *Session) {
	d.totalDisposed.Add(1)
	d.notify(&d.onDispose, s)
}

func (d *Directory) closeSessions(sessions []*Session) {
	for _, s := range sessions {
		if s.Dispose() {
			d.disposed(s)
		}
	}
}

// Len returns the number of registered sessions.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// cleanupLoop periodically disposes idle sessions.
func (d *Directory) cleanupLoop() {
	defer close(d.cleanupDone)

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			d.Sweep(now)
		case <-d.done:
			return
		}
	}
}

// Shutdown stops the sweep and disposes every session. New startups fail
// afterwards. Sessions still busy when ctx is done are left to finish and
// ctx's error is returned.
func (d *Directory) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.done) })

	select {
	case <-d.cleanupDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	d.closed = true
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.sessions = make(map[key]*Session)
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				if s.Dispose() {
					d.disposed(s)
				}
			}(s)
		}
		wg.Wait()
	}()

	select {
	case <-finished:
		d.logger.Info("session directory shutdown", "closed_sessions", len(sessions))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns aggregated directory statistics.
func (d *Directory) Stats() DirectoryStats {
	d.mu.Lock()
	active := len(d.sessions)
	peak := d.peak
	d.mu.Unlock()

	return DirectoryStats{
		Active:        active,
		TotalCreated:  d.totalCreated.Load(),
		TotalDisposed: d.totalDisposed.Load(),
		Peak:          peak,
	}
}

// DirectoryStats contains aggregated directory statistics.
type DirectoryStats struct {
	Active        int
	TotalCreated  uint64
	TotalDisposed uint64
	Peak          int
}
