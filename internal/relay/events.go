package relay

import (
	"math"
	"time"

	"github.com/wordassist/docedit-proxy/internal/edits"
)

// Event is one message of the outward stream. Every session produces one
// Start, any number of Progress and exactly one Result or Error.
type Event interface {
	EventType() string
}

const (
	TypeStart    = "start"
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeError    = "error"
)

type Start struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewStart(message string) Start { return Start{Type: TypeStart, Message: message} }

func (Start) EventType() string { return TypeStart }

type Progress struct {
	Type          string  `json:"type"`
	ChunkCount    int     `json:"chunk_count"`
	ContentLength int     `json:"content_length"`
	ElapsedTime   float64 `json:"elapsed_time"`
}

// NewProgress reports elapsed time in seconds rounded to two decimals.
func NewProgress(chunkCount, contentLength int, elapsed time.Duration) Progress {
	return Progress{
		Type:          TypeProgress,
		ChunkCount:    chunkCount,
		ContentLength: contentLength,
		ElapsedTime:   math.Round(elapsed.Seconds()*100) / 100,
	}
}

func (Progress) EventType() string { return TypeProgress }

type Result struct {
	Type string         `json:"type"`
	Data edits.Response `json:"data"`
}

func NewResult(resp edits.Response) Result { return Result{Type: TypeResult, Data: resp} }

func (Result) EventType() string { return TypeResult }

type Error struct {
	Type       string `json:"type"`
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail"`
}

func NewError(statusCode int, detail string) Error {
	return Error{Type: TypeError, StatusCode: statusCode, Detail: detail}
}

func (Error) EventType() string { return TypeError }

// Sink receives the events of one session in order. An error from Send
// means the caller is gone and ends the session.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error { return f(e) }
