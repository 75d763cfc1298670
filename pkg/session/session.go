package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/uisync/pkg/adapter"
	"github.com/vango-dev/uisync/pkg/model"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// StateUninitialized: registered in the directory, no root adapter yet.
	StateUninitialized State = iota

	// StateActive: root adapter attached, requests are processed.
	StateActive

	// StateDisposed is terminal.
	StateDisposed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// RootFactory creates the root model of a new session from its startup
// request.
type RootFactory func(ctx context.Context, req *protocol.Request) (model.Model, error)

// Session is one client's live adapter tree.
type Session struct {
	id        string
	container string
	created   time.Time

	mu       sync.Mutex
	registry *adapter.Registry
	buf      *buffer
	root     *adapter.Adapter

	state      atomic.Int32
	lastAccess atomic.Int64

	logger *slog.Logger
}

func newSession(container, id string, logger *slog.Logger) *Session {
	now := time.Now()
	s := &Session{
		id:        id,
		container: container,
		created:   now,
		buf:       newBuffer(),
		logger:    logger.With("session_id", id),
	}
	s.registry = adapter.NewRegistry(s.buf, adapter.WithLogger(s.logger))
	s.lastAccess.Store(now.UnixNano())
	return s
}

// ID returns the client-supplied session identifier.
func (s *Session) ID() string {
	return s.id
}

// Container returns the identifier of the HTTP-level session the Session is
// bound to.
func (s *Session) Container() string {
	return s.container
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// LastAccess returns the time the last request entered or left the session.
func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

// Root returns the root adapter, or nil before startup.
func (s *Session) Root() *adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// AdapterCount returns the number of attached adapters.
func (s *Session) AdapterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Len()
}

func (s *Session) touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

// Start creates the root model, attaches it and returns the startup
// response. It is valid only on an uninitialized session; any failure
// leaves the session disposed.
func (s *Session) Start(ctx context.Context, req *protocol.Request, factory RootFactory) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	defer s.touch()

	switch s.State() {
	case StateActive:
		return nil, protocol.Errorf(protocol.ErrIllegalState, "startup", "session %s already started", s.id)
	case StateDisposed:
		return nil, protocol.Errorf(protocol.ErrSessionTimeout, "startup", "session %s is disposed", s.id)
	}
	if factory == nil {
		s.disposeLocked()
		return nil, protocol.Errorf(protocol.ErrStartupFailed, "startup", "no root factory")
	}

	var root *adapter.Adapter
	err := s.safeExecute("startup", func() error {
		m, err := factory(ctx, req)
		if err != nil {
			return err
		}
		root, err = s.registry.Attach(m)
		if err != nil {
			return err
		}
		return s.registry.TakeFault()
	})
	if err != nil {
		s.disposeLocked()
		s.logger.Warn("session startup failed", "error", err)
		return nil, protocol.Wrap(protocol.ErrStartupFailed, "startup", err)
	}

	s.root = root
	s.state.Store(int32(StateActive))

	resp := s.buf.drain()
	resp.StartupData = &protocol.StartupData{RootAdapter: root.ID()}
	s.logger.Info("session started",
		"root_adapter", root.ID(),
		"object_type", root.Model().ObjectType(),
		"adapters", s.registry.Len())
	return resp, nil
}

// Process applies an event request and returns the changes it caused, in
// the order they occurred. On failure nothing queued by the request is
// sent, the registry is rolled back to what the client has seen and the
// session stays usable. Model changes made before the failure are sent by
// the next request.
func (s *Session) Process(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	defer s.touch()

	switch s.State() {
	case StateUninitialized:
		return nil, protocol.Errorf(protocol.ErrIllegalState, "event", "session %s not started", s.id)
	case StateDisposed:
		return nil, protocol.Errorf(protocol.ErrSessionTimeout, "event", "session %s is disposed", s.id)
	}

	a, err := s.registry.Resolve(req.Target)
	if err != nil {
		return nil, err
	}

	s.registry.Begin()
	err = s.safeExecute(req.Event, func() error {
		if err := a.HandleEvent(req.Event, req.Data); err != nil {
			return err
		}
		s.registry.Refresh()
		return s.registry.TakeFault()
	})
	if err != nil {
		discarded := s.buf.len()
		s.buf.reset()
		s.safeExecute("rollback", func() error {
			s.registry.Rollback()
			return nil
		})

		var perr *protocol.Error
		if !errors.As(err, &perr) {
			err = protocol.Wrap(protocol.ErrInternal, "event", err)
		}
		s.logger.Warn("event processing failed",
			"target", req.Target,
			"event", req.Event,
			"discarded_events", discarded,
			"error", err)
		return nil, err
	}

	s.registry.Commit()
	return s.buf.drain(), nil
}

// safeExecute runs fn, converting a panic into an internal error.
func (s *Session) safeExecute(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("model panic",
				"op", op,
				"panic", r,
				"stack", string(debug.Stack()))
			err = protocol.Wrap(protocol.ErrInternal, op, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// Dispose tears down the adapter tree and discards pending output. It waits
// for an in-flight request to finish. It reports whether this call
// disposed the session.
func (s *Session) Dispose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposeLocked()
}

func (s *Session) disposeLocked() bool {
	if s.State() == StateDisposed {
		return false
	}
	s.safeExecute("dispose", func() error {
		s.registry.DisposeAll()
		return nil
	})
	s.buf.reset()
	s.root = nil
	s.state.Store(int32(StateDisposed))
	s.logger.Debug("session disposed")
	return true
}

// expire disposes the session if it has not been accessed since cutoff.
func (s *Session) expire(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastAccess().After(cutoff) {
		return false
	}
	return s.disposeLocked()
}
