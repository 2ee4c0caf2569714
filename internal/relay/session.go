// Package relay runs edit sessions: it turns one edit request into the
// outward event stream, talking to the model or to the keyword fallback.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wordassist/docedit-proxy/internal/edits"
	"github.com/wordassist/docedit-proxy/internal/prompt"
	"github.com/wordassist/docedit-proxy/internal/upstream"
)

// Request is one edit request from the add-in.
type Request struct {
	UserRequest     string `json:"user_request"`
	DocumentContent string `json:"document_content"`
	APIKey          string `json:"api_key,omitempty"`
	APIURL          string `json:"api_url,omitempty"`
	ModelName       string `json:"model_name,omitempty"`
}

// Validate checks the fields every request must carry.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserRequest) == "" {
		return errors.New("user_request is required")
	}
	return nil
}

// Opener opens an upstream completion stream.
type Opener interface {
	Open(ctx context.Context, req upstream.Request) (*upstream.Stream, error)
}

// ErrAbandoned is returned by Run when the caller went away mid-session.
var ErrAbandoned = errors.New("session abandoned by caller")

// Relay runs sessions. It holds no per-session state and is safe for
// concurrent use.
type Relay struct {
	opener   Opener
	settings *SettingsStore
	clock    Clock
	observer Observer
	logger   zerolog.Logger
	newID    func() string
}

type Option func(*Relay)

// WithClock replaces the clock used for progress throttling.
func WithClock(c Clock) Option {
	return func(r *Relay) { r.clock = c }
}

func WithObserver(o Observer) Option {
	return func(r *Relay) { r.observer = o }
}

// WithIDGenerator replaces the session id source.
func WithIDGenerator(f func() string) Option {
	return func(r *Relay) { r.newID = f }
}

func New(opener Opener, settings *SettingsStore, logger zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		opener:   opener,
		settings: settings,
		clock:    SystemClock,
		observer: nopObserver{},
		logger:   logger,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run emits the events of one session to sink. It returns nil once a
// terminal event was delivered, and ErrAbandoned (wrapping the cause) when
// the sink failed or ctx ended first. Upstream and parse failures are
// reported through the sink, not the return value.
func (r *Relay) Run(ctx context.Context, req Request, sink Sink) (err error) {
	settings := r.settings.Load()

	mode := ModeUpstream
	if strings.TrimSpace(req.APIKey) == "" {
		mode = ModeFallback
	}
	model := req.ModelName
	if model == "" {
		model = settings.DefaultModel
	}

	s := &session{
		relay:    r,
		settings: settings,
		sink:     sink,
		logger:   r.logger,
	}
	s.summary.SessionInfo = SessionInfo{
		ID:        r.newID(),
		Mode:      mode,
		Model:     model,
		StartedAt: r.clock.Now(),
	}
	s.logger = r.logger.With().Str("session_id", s.summary.ID).Logger()
	r.observer.SessionStarted(s.summary.SessionInfo)

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Interface("panic", p).Msg("Session panicked")
			err = s.fail(http.StatusInternalServerError, "internal", fmt.Sprint(p))
			if err == nil && s.abandoned {
				err = ErrAbandoned
			}
		}
		s.summary.Duration = r.clock.Now().Sub(s.summary.StartedAt)
		r.observer.SessionFinished(s.summary)
	}()

	if err := s.emit(NewStart(settings.StartMessage)); err != nil {
		return s.abandon(err)
	}

	if mode == ModeFallback {
		s.logger.Info().Msg("No API key supplied, answering from keyword rules")
		return s.succeed(settings.Fallback.Respond(req.UserRequest))
	}
	return s.runUpstream(ctx, req, model)
}

type session struct {
	relay      *Relay
	settings   Settings
	sink       Sink
	logger     zerolog.Logger
	summary    Summary
	terminated bool
	abandoned  bool
}

func (s *session) runUpstream(ctx context.Context, req Request, model string) error {
	url := req.APIURL
	if url == "" {
		url = s.settings.DefaultURL
	}

	upstreamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.relay.opener.Open(upstreamCtx, upstream.Request{
		URL:    url,
		Model:  model,
		APIKey: req.APIKey,
		System: prompt.SystemPrimer,
		Prompt: s.settings.Prompt.Build(req.UserRequest, req.DocumentContent),
	})
	if err != nil {
		return s.upstreamFailed(ctx, err)
	}
	defer stream.Close()

	acc := NewAccumulator(s.relay.clock, s.settings.ProgressInterval)
	var streamErr error
	for frag, err := range stream.Fragments() {
		if err != nil {
			streamErr = err
			break
		}
		p, due := acc.Add(frag)
		if !due {
			continue
		}
		s.summary.ProgressEvents++
		s.relay.observer.ProgressEmitted(s.summary.SessionInfo, p)
		if err := s.emit(p); err != nil {
			cancel()
			s.record(acc)
			return s.abandon(err)
		}
	}
	s.record(acc)
	s.logger.Debug().
		Str("finish_reason", stream.FinishReason()).
		Int("chunk_count", acc.ChunkCount()).
		Int("fragments", acc.Fragments()).
		Msg("Upstream stream finished")

	if streamErr != nil {
		if !salvageable(streamErr, acc.Fragments()) {
			return s.upstreamFailed(ctx, streamErr)
		}
		s.summary.Salvaged = true
		s.logger.Warn().
			Err(streamErr).
			Int("chunk_count", acc.ChunkCount()).
			Int("content_length", acc.ContentLength()).
			Msg("Upstream stream ended early, continuing with the content received so far")
	}

	resp, err := edits.Extract(acc.Text())
	if err != nil {
		var perr *edits.ParseError
		if errors.As(err, &perr) {
			s.logger.Error().Err(err).Str("response_snippet", perr.Snippet).Msg("Failed to parse AI response")
		}
		return s.fail(http.StatusInternalServerError, "parse", err.Error())
	}
	return s.succeed(resp)
}

// salvageable reports whether a stream error may be ignored because content
// already arrived. Timeouts never are.
func salvageable(err error, fragments int) bool {
	if fragments == 0 {
		return false
	}
	var uerr *upstream.Error
	if !errors.As(err, &uerr) {
		return false
	}
	return uerr.Kind == upstream.KindInterrupted || uerr.Kind == upstream.KindRead
}

func (s *session) upstreamFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return s.abandon(err)
	}
	status, kind := StatusFor(err)
	s.logger.Error().Err(err).Int("status_code", status).Str("error_kind", kind).Msg("AI API call failed")
	return s.fail(status, kind, err.Error())
}

// StatusFor maps an error to the status code reported in an Error event and
// a short kind label.
func StatusFor(err error) (int, string) {
	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		switch uerr.Kind {
		case upstream.KindHTTP:
			return uerr.StatusCode, string(uerr.Kind)
		case upstream.KindTimeout:
			return http.StatusGatewayTimeout, string(uerr.Kind)
		default:
			return http.StatusServiceUnavailable, string(uerr.Kind)
		}
	}
	var perr *edits.ParseError
	if errors.As(err, &perr) {
		return http.StatusInternalServerError, "parse"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *session) record(acc *Accumulator) {
	s.summary.ChunkCount = acc.ChunkCount()
	s.summary.ContentLength = acc.ContentLength()
	s.summary.Fragments = acc.Fragments()
}

func (s *session) emit(e Event) error {
	if s.abandoned {
		return ErrAbandoned
	}
	return s.sink.Send(e)
}

func (s *session) succeed(resp edits.Response) error {
	if s.terminated {
		return nil
	}
	s.terminated = true
	s.summary.Outcome = OutcomeResult
	s.summary.StatusCode = http.StatusOK
	s.summary.EditCount = len(resp.Edits)
	if err := s.emit(NewResult(resp)); err != nil {
		return s.abandon(err)
	}
	return nil
}

func (s *session) fail(status int, kind, detail string) error {
	if s.terminated {
		return nil
	}
	s.terminated = true
	s.summary.Outcome = OutcomeError
	s.summary.StatusCode = status
	s.summary.ErrorKind = kind
	if err := s.emit(NewError(status, detail)); err != nil {
		return s.abandon(err)
	}
	return nil
}

func (s *session) abandon(cause error) error {
	s.terminated = true
	s.abandoned = true
	s.summary.Outcome = OutcomeAbandoned
	s.logger.Info().Err(cause).Msg("Caller went away, session abandoned")
	return fmt.Errorf("%w: %w", ErrAbandoned, cause)
}
