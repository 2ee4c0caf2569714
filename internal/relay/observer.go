package relay

import (
	"time"

	"github.com/rs/zerolog"
)

// Mode says how a session was answered.
type Mode string

const (
	ModeUpstream Mode = "upstream"
	ModeFallback Mode = "fallback"
)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeResult Outcome = "result"
	OutcomeError  Outcome = "error"
	// OutcomeAbandoned means the caller went away before a terminal event
	// could be delivered.
	OutcomeAbandoned Outcome = "abandoned"
)

// SessionInfo identifies a session when it starts.
type SessionInfo struct {
	ID        string
	Mode      Mode
	Model     string
	StartedAt time.Time
}

// Summary describes a finished session. It carries counters only, never
// prompt, document or model text.
type Summary struct {
	SessionInfo
	Outcome        Outcome
	StatusCode     int
	ErrorKind      string
	ChunkCount     int
	ContentLength  int
	Fragments      int
	ProgressEvents int
	EditCount      int
	Salvaged       bool
	Duration       time.Duration
}

// Observer is notified of session lifecycle events. Implementations must
// not block and cannot influence the session.
type Observer interface {
	SessionStarted(SessionInfo)
	ProgressEmitted(SessionInfo, Progress)
	SessionFinished(Summary)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(SessionInfo)            {}
func (nopObserver) ProgressEmitted(SessionInfo, Progress) {}
func (nopObserver) SessionFinished(Summary)               {}

// MultiObserver fans out to every non-nil observer in order.
type MultiObserver []Observer

func (m MultiObserver) SessionStarted(info SessionInfo) {
	for _, o := range m {
		if o != nil {
			o.SessionStarted(info)
		}
	}
}

func (m MultiObserver) ProgressEmitted(info SessionInfo, p Progress) {
	for _, o := range m {
		if o != nil {
			o.ProgressEmitted(info, p)
		}
	}
}

func (m MultiObserver) SessionFinished(s Summary) {
	for _, o := range m {
		if o != nil {
			o.SessionFinished(s)
		}
	}
}

// LogObserver writes one line per lifecycle event.
type LogObserver struct {
	logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) SessionStarted(info SessionInfo) {
	o.logger.Info().
		Str("session_id", info.ID).
		Str("mode", string(info.Mode)).
		Str("model", info.Model).
		Msg("Session started")
}

func (o *LogObserver) ProgressEmitted(info SessionInfo, p Progress) {
	o.logger.Debug().
		Str("session_id", info.ID).
		Int("chunk_count", p.ChunkCount).
		Int("content_length", p.ContentLength).
		Float64("elapsed_time", p.ElapsedTime).
		Msg("Progress")
}

func (o *LogObserver) SessionFinished(s Summary) {
	var ev *zerolog.Event
	switch s.Outcome {
	case OutcomeResult:
		ev = o.logger.Info()
	default:
		ev = o.logger.Warn()
	}
	ev.Str("session_id", s.ID).
		Str("mode", string(s.Mode)).
		Str("outcome", string(s.Outcome)).
		Int("status_code", s.StatusCode).
		Str("error_kind", s.ErrorKind).
		Int("chunk_count", s.ChunkCount).
		Int("content_length", s.ContentLength).
		Int("edits", s.EditCount).
		Bool("salvaged", s.Salvaged).
		Dur("duration", s.Duration).
		Msg("Session finished")
}
