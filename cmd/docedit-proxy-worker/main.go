//go:build js && wasm

package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/syumai/workers"
	"github.com/syumai/workers/cloudflare/kv"

	"github.com/wordassist/docedit-proxy/internal/app"
	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/logger"
	"github.com/wordassist/docedit-proxy/internal/server"
)

const (
	kvBinding   = "docedit_proxy_kv"
	kvConfigKey = "config.yaml"
)

func main() {
	log := logger.New()

	cfg := loadConfig(log)
	// No filesystem on Workers.
	cfg.Server.DistDir = ""
	cfg.Server.AssetsDir = ""

	r, _ := app.NewRelay(cfg, nil, log)
	srv := app.NewServer(cfg, r, log, server.Options{})

	// Serve using workers - it handles all the HTTP server setup
	workers.Serve(srv)
}

// loadConfig reads an optional YAML config from the KV namespace bound in
// wrangler.toml, then applies environment overrides.
func loadConfig(log zerolog.Logger) *config.Config {
	cfg := config.Default()

	ns, err := kv.NewNamespace(kvBinding)
	if err != nil {
		log.Info().Err(err).Msg("No KV namespace bound, using default configuration")
	} else if raw, err := ns.GetString(kvConfigKey, nil); err != nil || raw == "" {
		log.Info().Msg("📦 No config stored in KV, using default configuration")
	} else if parsed, err := config.Parse([]byte(raw)); err != nil {
		log.Error().Err(err).Msg("Invalid config in KV, using default configuration")
	} else {
		cfg = parsed
		log.Info().Msg("📦 Loaded configuration from KV")
	}

	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		log.Fatal().Err(err).Msg("Invalid environment configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}
