// Package config loads the proxy configuration from YAML, .env files and
// environment variables.
package config

import (
	"time"

	"github.com/wordassist/docedit-proxy/internal/edits"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Relay    RelayConfig    `yaml:"relay"`
	Fallback edits.Rules    `yaml:"fallback"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// DistDir holds the built add-in front end (taskpane.html and friends).
	DistDir     string    `yaml:"dist_dir"`
	AssetsDir   string    `yaml:"assets_dir"`
	TLS         TLSConfig `yaml:"tls"`
	CORSOrigins []string  `yaml:"cors_origins"`
	AdminAPIKey string    `yaml:"admin_api_key"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// UseDevCerts picks up ~/.office-addin-dev-certs/localhost.{crt,key}
	// when no explicit files are configured.
	UseDevCerts bool `yaml:"use_dev_certs"`
}

type UpstreamConfig struct {
	DefaultAPIURL     string        `yaml:"default_api_url"`
	DefaultModel      string        `yaml:"default_model"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	ErrorSnippetLimit int           `yaml:"error_snippet_limit"`
	MaxEventSize      int           `yaml:"max_event_size"`
}

type RelayConfig struct {
	ProgressInterval     time.Duration `yaml:"progress_interval"`
	DocumentPreviewLimit int           `yaml:"document_preview_limit"`
	StartMessage         string        `yaml:"start_message"`
}

type LoggingConfig struct {
	// Level is a zerolog level name.
	Level string `yaml:"level"`
	// Format is "console" or "json". Empty picks by the ENV variable.
	Format string `yaml:"format"`
	// Dir, when set, also writes a daily log file there.
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

type LedgerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: ":3000",
			DistDir:       "dist",
			AssetsDir:     "assets",
			TLS:           TLSConfig{UseDevCerts: true},
			CORSOrigins:   []string{"*"},
		},
		Upstream: UpstreamConfig{
			DefaultAPIURL:     "https://api.openai.com/v1/chat/completions",
			DefaultModel:      "gpt-3.5-turbo",
			ConnectTimeout:    10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       300 * time.Second,
			Temperature:       0.7,
			MaxTokens:         8000,
			ErrorSnippetLimit: 500,
			MaxEventSize:      10 * 1024 * 1024,
		},
		Relay: RelayConfig{
			ProgressInterval:     5 * time.Second,
			DocumentPreviewLimit: 2000,
			StartMessage:         "Processing request...",
		},
		Fallback: edits.DefaultRules(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "docedit",
		},
		Ledger: LedgerConfig{
			Enabled:       false,
			Path:          "data/sessions.db",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "0 3 * * *",
		},
	}
}
