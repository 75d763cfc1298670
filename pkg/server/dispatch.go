package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vango-dev/uisync/pkg/protocol"
)

// Dispatch handles one decoded wire request for the HTTP-level session
// container and always returns a well-formed response. It is the entry
// point shared by the HTTP and WebSocket transports.
func (s *Server) Dispatch(ctx context.Context, container string, req *protocol.Request) *protocol.Response {
	start := time.Now()
	ctx, span := s.tracing.Start(ctx, req)

	resp := s.dispatch(ctx, container, req)

	s.tracing.End(span, resp)
	s.metrics.RecordRequest(req.Kind, resp.Code(), time.Since(start))
	s.metrics.RecordResponse(resp)
	return resp
}

func (s *Server) dispatch(ctx context.Context, container string, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panic",
				"panic", r,
				"session_id", req.Session,
				"kind", req.Kind,
				"stack", string(debug.Stack()))
			resp = s.errorResponse(req, protocol.Wrap(protocol.ErrInternal, "dispatch", fmt.Errorf("panic: %v", r)))
		}
	}()

	if req.IsPing() {
		return protocol.NewResponse()
	}

	var err error
	switch req.Kind {
	case protocol.KindStartup:
		resp, err = s.directory.Start(ctx, container, req, s.config.RootFactory)
	case protocol.KindEvent:
		resp, err = s.directory.Process(ctx, container, req)
	case protocol.KindUnload:
		if s.directory.Evict(container, req.Session) {
			s.logger.Debug("session unloaded", "session_id", req.Session)
		}
		return protocol.NewResponse()
	default:
		err = protocol.Errorf(protocol.ErrBadRequest, "dispatch", "unknown request kind %q", req.Kind)
	}
	if err != nil {
		return s.errorResponse(req, err)
	}
	return resp
}

// errorResponse logs err and converts it to an error response carrying
// only the code's client-facing message.
func (s *Server) errorResponse(req *protocol.Request, err error) *protocol.Response {
	code := protocol.CodeOf(err)
	attrs := []any{
		"session_id", req.Session,
		"kind", req.Kind,
		"code", code.String(),
		"error", err,
	}
	switch code {
	case protocol.ErrSessionTimeout:
		s.logger.Info("session expired or unknown, client must reload", attrs...)
	case protocol.ErrUnknownAdapter, protocol.ErrBadRequest:
		s.logger.Warn("rejected request", append(attrs, "target", req.Target, "event", req.Event)...)
	default:
		s.logger.Error("request failed", append(attrs, "target", req.Target, "event", req.Event)...)
	}
	return protocol.ErrorResponseFor(err)
}
