package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordassist/docedit-proxy/internal/config"
)

const (
	colorBlack = iota + 30
	colorRed
	colorGreen
	colorYellow
	colorBlue
	colorMagenta
	colorCyan
	colorWhite

	colorBold     = 1
	colorDarkGray = 90
)

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// New creates a logger based on the ENV environment variable
func New() zerolog.Logger {
	if isDevelopment(os.Getenv("ENV")) {
		return NewDevelopment(os.Stderr)
	}
	return NewProduction(os.Stderr)
}

func isDevelopment(env string) bool {
	return env == "development" || env == "dev" || env == ""
}

// FromConfig builds the process logger. Format "console" or "json" wins over
// the ENV switch. When Dir is set the logger also appends to a daily file
// there; the returned close function releases it.
func FromConfig(cfg config.LoggingConfig) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	closeFn := func() error { return nil }
	var file io.Writer
	if cfg.Dir != "" {
		f, err := openDailyFile(cfg.Dir, time.Now())
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		file = f
		closeFn = f.Close
	}

	console := cfg.Format == "console" || (cfg.Format == "" && isDevelopment(os.Getenv("ENV")))

	var l zerolog.Logger
	switch {
	case console && file != nil:
		// Colour codes stay out of the file.
		l = zerolog.New(zerolog.MultiLevelWriter(consoleWriter(os.Stderr), file)).With().Timestamp().Logger()
	case console:
		l = NewDevelopment(os.Stderr)
	case file != nil:
		l = NewProduction(io.MultiWriter(os.Stderr, file))
	default:
		l = NewProduction(os.Stderr)
	}
	return l.Level(level), closeFn, nil
}

func openDailyFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("docedit_%s.log", now.Format("20060102")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			var l string
			if ll, ok := i.(string); ok {
				switch ll {
				case "trace":
					l = colorize("TRC", colorMagenta)
				case "debug":
					l = colorize("DBG", colorYellow)
				case "info":
					l = colorize("INF", colorGreen)
				case "warn":
					l = colorize("WRN", colorRed)
				case "error":
					l = colorize("ERR", colorRed)
				case "fatal":
					l = colorize("FTL", colorRed)
				case "panic":
					l = colorize("PNC", colorRed)
				default:
					l = colorize(strings.ToUpper(ll)[0:3], colorBold)
				}
			} else {
				l = strings.ToUpper(fmt.Sprintf("%s", i))[0:3]
			}
			return l
		},
	}
}

// NewDevelopment creates a development logger with console output and colors
func NewDevelopment(out io.Writer) zerolog.Logger {
	return zerolog.New(consoleWriter(out)).With().Timestamp().Logger()
}

// NewProduction creates a production logger with JSON output and UNIX timestamps
func NewProduction(out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(out).With().Timestamp().Logger()
}
