//go:build js && wasm

package server

import "net/http"

func (s *Server) processWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "WebSocket sessions are not supported in js/wasm builds", http.StatusNotImplemented)
}
