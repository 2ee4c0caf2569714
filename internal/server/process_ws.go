//go:build !js || !wasm

package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wordassist/docedit-proxy/internal/relay"
)

const (
	wsWriteWait     = 10 * time.Second
	wsRequestWait   = 30 * time.Second
	wsMaxRequestLen = maxRequestBody
)

// wsSink sends each event as one text frame.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(e relay.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(e)
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin(origin) != ""
		},
	}
}

// processWebSocketHandler speaks the same event protocol as /api/process
// over a WebSocket. The first text message carries the request.
func (s *Server) processWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxRequestLen)

	conn.SetReadDeadline(time.Now().Add(wsRequestWait))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read WebSocket edit request")
		return
	}
	conn.SetReadDeadline(time.Time{})
	if msgType != websocket.TextMessage {
		s.closeWebSocket(conn, websocket.CloseUnsupportedData, "expected a text message")
		return
	}

	req, err := decodeProcessRequest(bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected WebSocket edit request")
		s.closeWebSocket(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing after the request; a read error means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	if err := s.runner.Run(ctx, req, sink); err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket edit session ended without delivering a terminal event")
		return
	}
	s.closeWebSocket(conn, websocket.CloseNormalClosure, "")
}

func (s *Server) closeWebSocket(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, truncateCloseText(text))
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send WebSocket close frame")
	}
}

// Close frame payloads are limited to 125 bytes, two of which hold the code.
func truncateCloseText(text string) string {
	const max = 123
	if len(text) <= max {
		return text
	}
	return strings.ToValidUTF8(text[:max], "")
}
