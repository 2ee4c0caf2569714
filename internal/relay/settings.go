package relay

import (
	"sync/atomic"
	"time"

	"github.com/wordassist/docedit-proxy/internal/edits"
	"github.com/wordassist/docedit-proxy/internal/prompt"
)

// DefaultStartMessage is sent in the Start event.
const DefaultStartMessage = "Processing request..."

// Settings are the per-session knobs that may change at runtime.
type Settings struct {
	DefaultURL       string
	DefaultModel     string
	StartMessage     string
	ProgressInterval time.Duration
	Prompt           *prompt.Builder
	Fallback         *edits.Fallback
}

func (s Settings) withDefaults() Settings {
	if s.StartMessage == "" {
		s.StartMessage = DefaultStartMessage
	}
	if s.ProgressInterval <= 0 {
		s.ProgressInterval = DefaultProgressInterval
	}
	if s.Prompt == nil {
		s.Prompt = prompt.NewBuilder(prompt.DefaultPreviewLimit)
	}
	if s.Fallback == nil {
		s.Fallback = edits.NewFallback(edits.DefaultRules())
	}
	return s
}

// SettingsStore publishes Settings to sessions. A session reads it once at
// start and keeps that snapshot until it ends.
type SettingsStore struct {
	p atomic.Pointer[Settings]
}

func NewSettingsStore(s Settings) *SettingsStore {
	st := &SettingsStore{}
	st.Store(s)
	return st
}

func (st *SettingsStore) Load() Settings { return *st.p.Load() }

func (st *SettingsStore) Store(s Settings) {
	s = s.withDefaults()
	st.p.Store(&s)
}
