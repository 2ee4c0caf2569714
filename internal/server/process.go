package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tmaxmax/go-sse"

	"github.com/wordassist/docedit-proxy/internal/relay"
)

const maxRequestBody = 16 << 20

// validationError is answered with 422 before any stream is opened.
type validationError struct {
	Detail string `json:"detail"`
}

// decodeProcessRequest requires document_content to be present; an empty
// string is a valid document.
func decodeProcessRequest(body io.Reader) (relay.Request, error) {
	var wire struct {
		relay.Request
		DocumentContent *string `json:"document_content"`
	}
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBody))
	if err := dec.Decode(&wire); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return relay.Request{}, fmt.Errorf("%s must be a %s", typeErr.Field, typeErr.Type)
		}
		return relay.Request{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	req := wire.Request
	if err := req.Validate(); err != nil {
		return req, err
	}
	if wire.DocumentContent == nil {
		return req, errors.New("document_content is required")
	}
	req.DocumentContent = *wire.DocumentContent
	return req, nil
}

// sseSink writes each event as one `data:` frame.
type sseSink struct {
	out io.Writer
}

func (s sseSink) Send(e relay.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.EventType(), err)
	}
	msg := &sse.Message{}
	msg.AppendData(string(data))
	frame, err := msg.MarshalText()
	if err != nil {
		return err
	}
	_, err = s.out.Write(frame)
	return err
}

func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	req, err := decodeProcessRequest(r.Body)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected edit request")
		s.writeJSON(w, http.StatusUnprocessableEntity, validationError{Detail: err.Error()})
		return
	}

	s.logger.Info().
		Str("user_request_preview", preview(req.UserRequest, 50)).
		Int("document_length", len([]rune(req.DocumentContent))).
		Str("api_url", req.APIURL).
		Str("model_name", req.ModelName).
		Msg("Processing edit request")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var out io.Writer = w
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
		out = sseFlushWriter{w: w, f: flusher}
	} else {
		s.logger.Warn().Msg("ResponseWriter does not support flushing - streaming may be buffered")
	}

	if err := s.runner.Run(r.Context(), req, sseSink{out: out}); err != nil {
		s.logger.Debug().Err(err).Msg("Edit session ended without delivering a terminal event")
	}
}

func preview(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…(truncated)"
}
