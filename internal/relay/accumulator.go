package relay

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wordassist/docedit-proxy/internal/upstream"
)

// DefaultProgressInterval is the minimum spacing between progress events.
const DefaultProgressInterval = 5 * time.Second

// Clock abstracts time for progress throttling.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Accumulator joins fragments in arrival order and decides when a progress
// event is due. It never reorders or deduplicates content.
type Accumulator struct {
	clock    Clock
	interval time.Duration

	buf           strings.Builder
	started       time.Time
	lastProgress  time.Time
	chunkCount    int
	contentLength int
	fragments     int
}

// NewAccumulator starts the throttle window at the current clock time, so
// the first progress event comes no earlier than one interval later.
func NewAccumulator(clock Clock, interval time.Duration) *Accumulator {
	if clock == nil {
		clock = SystemClock
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	now := clock.Now()
	return &Accumulator{
		clock:        clock,
		interval:     interval,
		started:      now,
		lastProgress: now,
	}
}

// Add appends a fragment. It returns a Progress and true when at least one
// interval has passed since the previous progress event.
func (a *Accumulator) Add(f upstream.Fragment) (Progress, bool) {
	a.buf.WriteString(f.Content)
	a.fragments++
	a.contentLength += utf8.RuneCountInString(f.Content)
	if f.ChunkCount > a.chunkCount {
		a.chunkCount = f.ChunkCount
	}

	now := a.clock.Now()
	if now.Sub(a.lastProgress) < a.interval {
		return Progress{}, false
	}
	a.lastProgress = now
	return NewProgress(a.chunkCount, a.contentLength, now.Sub(a.started)), true
}

func (a *Accumulator) Text() string { return a.buf.String() }

func (a *Accumulator) ChunkCount() int { return a.chunkCount }

// ContentLength is measured in characters.
func (a *Accumulator) ContentLength() int { return a.contentLength }

func (a *Accumulator) Fragments() int { return a.fragments }
