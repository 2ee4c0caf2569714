// Package app wires configuration into the relay and the HTTP server. It
// stays free of the sqlite ledger and prometheus so the Workers build can
// use it.
package app

import (
	"github.com/rs/zerolog"

	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/edits"
	"github.com/wordassist/docedit-proxy/internal/prompt"
	"github.com/wordassist/docedit-proxy/internal/relay"
	"github.com/wordassist/docedit-proxy/internal/server"
	"github.com/wordassist/docedit-proxy/internal/upstream"
)

func UpstreamConfig(c config.UpstreamConfig) upstream.Config {
	return upstream.Config{
		ConnectTimeout:    c.ConnectTimeout,
		WriteTimeout:      c.WriteTimeout,
		ReadTimeout:       c.ReadTimeout,
		Temperature:       c.Temperature,
		MaxTokens:         c.MaxTokens,
		ErrorSnippetLimit: c.ErrorSnippetLimit,
		MaxEventSize:      c.MaxEventSize,
	}
}

// RelaySettings maps the reloadable parts of cfg onto session settings.
func RelaySettings(cfg *config.Config) relay.Settings {
	return relay.Settings{
		DefaultURL:       cfg.Upstream.DefaultAPIURL,
		DefaultModel:     cfg.Upstream.DefaultModel,
		StartMessage:     cfg.Relay.StartMessage,
		ProgressInterval: cfg.Relay.ProgressInterval,
		Prompt:           prompt.NewBuilder(cfg.Relay.DocumentPreviewLimit),
		Fallback:         edits.NewFallback(cfg.Fallback),
	}
}

// NewRelay builds the upstream client and a relay using it. A nil
// httpClient gets the platform default transport.
func NewRelay(cfg *config.Config, httpClient upstream.HTTPClient, logger zerolog.Logger, observers ...relay.Observer) (*relay.Relay, *relay.SettingsStore) {
	client := upstream.NewClient(httpClient, UpstreamConfig(cfg.Upstream), logger)
	store := relay.NewSettingsStore(RelaySettings(cfg))

	obs := relay.MultiObserver{relay.NewLogObserver(logger)}
	obs = append(obs, observers...)

	return relay.New(client, store, logger, relay.WithObserver(obs)), store
}

// NewServer creates the HTTP server for cfg.
func NewServer(cfg *config.Config, runner server.SessionRunner, logger zerolog.Logger, opts server.Options) *server.Server {
	return server.New(logger, runner, cfg.Server, opts)
}
