package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-dev/uisync/pkg/httpsession"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// handleJSON serves one wire request.
func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	debug := s.logger.Enabled(ctx, slog.LevelDebug)

	var body io.Reader = r.Body
	var logged *bytes.Buffer
	if debug {
		logged = new(bytes.Buffer)
		body = io.TeeReader(body, logged)
	}

	req, err := protocol.DecodeRequest(body, s.config.MaxRequestSize)
	if debug {
		s.logger.Debug("json request", "body", s.truncate(logged.Bytes()))
	}

	var resp *protocol.Response
	if err != nil {
		resp = s.badRequest(err)
	} else {
		resp = s.Dispatch(ctx, containerID(ctx), req)
	}
	s.writeResponse(ctx, w, resp)
}

func (s *Server) badRequest(err error) *protocol.Response {
	s.logger.Warn("undecodable request", "error", err)
	s.metrics.RecordRequest(protocol.KindInvalid, protocol.ErrBadRequest, 0)
	return protocol.NewErrorResponse(protocol.ErrBadRequest, "")
}

func containerID(ctx context.Context) string {
	if c, ok := httpsession.FromContext(ctx); ok {
		return c.ID
	}
	return ""
}

// writeResponse writes resp with caching disabled and the status derived
// from its error code.
func (s *Server) writeResponse(ctx context.Context, w http.ResponseWriter, resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("response encoding failed", "error", err)
		resp = protocol.NewErrorResponse(protocol.ErrInternal, "")
		data, _ = json.Marshal(resp)
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	disableCaching(h)
	w.WriteHeader(resp.Code().HTTPStatus())
	if _, err := w.Write(data); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.Debug("response write failed", "error", err)
	}

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("json response", "body", s.truncate(data))
	}
}

func disableCaching(h http.Header) {
	h.Set("Cache-Control", "private, max-age=0, no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", time.Unix(0, 0).UTC().Format(http.TimeFormat))
}

func (s *Server) truncate(b []byte) string {
	if len(b) <= s.config.DebugLogLimit {
		return string(b)
	}
	return string(b[:s.config.DebugLogLimit]) + "..."
}
