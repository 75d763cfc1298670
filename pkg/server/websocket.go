package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// handleWebSocket serves wire requests over a WebSocket connection. Each
// text frame carries one request and is answered by one frame carrying
// its response, in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if !s.trackConn(conn) {
		return
	}
	defer s.untrackConn(conn)

	s.metrics.WebSocketOpened()
	defer s.metrics.WebSocketClosed()

	ctx := r.Context()
	container := containerID(ctx)
	conn.SetReadLimit(s.config.MaxRequestSize)

	for {
		if s.config.WebSocketReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.WebSocketReadTimeout))
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", "error", err)
			}
			return
		}

		// Frames never pass the container middleware.
		if container != "" && !s.containers.Touch(container) {
			s.logger.Info("container ended, closing websocket", "container", container)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"),
				time.Now().Add(time.Second))
			return
		}

		var resp *protocol.Response
		if msgType != websocket.TextMessage {
			resp = s.badRequest(errBinaryFrame)
		} else if req, err := protocol.DecodeRequestBytes(data); err != nil {
			resp = s.badRequest(err)
		} else {
			resp = s.Dispatch(ctx, container, req)
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("response encoding failed", "error", err)
			payload, _ = json.Marshal(protocol.NewErrorResponse(protocol.ErrInternal, ""))
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}
