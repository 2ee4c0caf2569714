package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/relay"
)

// Reloader re-reads the config file and publishes the parts sessions can
// pick up at runtime. Server, upstream transport, logging, metrics and
// ledger settings need a restart.
type Reloader struct {
	path   string
	store  *relay.SettingsStore
	logger zerolog.Logger
	load   func(string) (*config.Config, error)

	mu sync.Mutex
}

func NewReloader(path string, store *relay.SettingsStore, logger zerolog.Logger) *Reloader {
	return &Reloader{
		path:   path,
		store:  store,
		logger: logger,
		load:   config.Load,
	}
}

// Reload loads the file again and applies it. A config that fails to load
// or validate leaves the running settings untouched.
func (r *Reloader) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := r.load(r.path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	r.Apply(cfg)
	return nil
}

// Apply publishes cfg's session settings.
func (r *Reloader) Apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store.Store(RelaySettings(cfg))
	r.logger.Info().
		Str("path", r.path).
		Str("default_model", cfg.Upstream.DefaultModel).
		Dur("progress_interval", cfg.Relay.ProgressInterval).
		Msg("Applied reloaded configuration")
}
