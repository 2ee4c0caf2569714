package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then variables from .env, then the process
// environment. The result is validated.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Keyword lists left out of the
// fallback section keep their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Fallback = cfg.Fallback.Merge(Default().Fallback)
	return cfg, nil
}

// LoadDotEnv exports the variables in the given files without overriding
// ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg from environment variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("DEFAULT_API_URL", &cfg.Upstream.DefaultAPIURL)
	str("DEFAULT_MODEL_NAME", &cfg.Upstream.DefaultModel)
	str("ADMIN_API_KEY", &cfg.Server.AdminAPIKey)
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Server.ListenAddress = ":" + port
	}
	str("DOCEDIT_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	str("DOCEDIT_DIST_DIR", &cfg.Server.DistDir)
	str("DOCEDIT_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	str("DOCEDIT_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	str("DOCEDIT_LOG_LEVEL", &cfg.Logging.Level)
	str("DOCEDIT_LOG_FORMAT", &cfg.Logging.Format)
	str("DOCEDIT_LOG_DIR", &cfg.Logging.Dir)
	dur("DOCEDIT_READ_TIMEOUT", &cfg.Upstream.ReadTimeout)
	dur("DOCEDIT_PROGRESS_INTERVAL", &cfg.Relay.ProgressInterval)
	boolean("DOCEDIT_METRICS_ENABLED", &cfg.Metrics.Enabled)
	boolean("DOCEDIT_LEDGER_ENABLED", &cfg.Ledger.Enabled)
	if v, ok := lookup("DOCEDIT_LEDGER_PATH"); ok && v != "" {
		cfg.Ledger.Path = v
		cfg.Ledger.Enabled = true
	}

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddress == "" {
		errs = append(errs, errors.New("server.listen_address is required"))
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls.cert_file and server.tls.key_file must be set together"))
	}
	if u, err := url.Parse(c.Upstream.DefaultAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.default_api_url is not an absolute URL: %q", c.Upstream.DefaultAPIURL))
	}
	if c.Upstream.DefaultModel == "" {
		errs = append(errs, errors.New("upstream.default_model is required"))
	}
	for name, d := range map[string]time.Duration{
		"upstream.connect_timeout": c.Upstream.ConnectTimeout,
		"upstream.write_timeout":   c.Upstream.WriteTimeout,
		"upstream.read_timeout":    c.Upstream.ReadTimeout,
		"relay.progress_interval":  c.Relay.ProgressInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Upstream.Temperature < 0 || c.Upstream.Temperature > 2 {
		errs = append(errs, fmt.Errorf("upstream.temperature must be between 0 and 2, got %v", c.Upstream.Temperature))
	}
	if c.Upstream.MaxTokens < 0 {
		errs = append(errs, errors.New("upstream.max_tokens cannot be negative"))
	}
	if c.Relay.DocumentPreviewLimit <= 0 {
		errs = append(errs, errors.New("relay.document_preview_limit must be positive"))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics.path must start with /"))
	}
	if c.Ledger.Enabled {
		if c.Ledger.Path == "" {
			errs = append(errs, errors.New("ledger.path is required when the ledger is enabled"))
		}
		if c.Ledger.PruneSchedule != "" {
			if _, err := cron.ParseStandard(c.Ledger.PruneSchedule); err != nil {
				errs = append(errs, fmt.Errorf("ledger.prune_schedule: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
