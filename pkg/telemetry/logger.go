package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging capability handed to every installer component.
// Success is an info-level message that marks a completed step.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Success(msg string)

	// With returns a child logger carrying an extra structured field.
	With(key string, value interface{}) Logger
}

// successField tags events written through Logger.Success.
const successField = "success"

// ZeroLogger implements Logger on top of zerolog.
type ZeroLogger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*ZeroLogger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		// Anything else is a file path.
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", cfg.Output, err)
		}
		writer = file
	}

	return NewLoggerWithWriter(cfg, writer), nil
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *ZeroLogger {
	if cfg.Format != "json" {
		w = newConsoleWriter(w, cfg.NoColor)
	}

	zlog := zerolog.New(w).With().Timestamp().Logger()
	zlog = zlog.Level(ParseLevel(cfg.Level))
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &ZeroLogger{
		zlog:   zlog,
		config: cfg,
	}
}

// newConsoleWriter renders levels with the console styles and shows
// success events with their own label.
func newConsoleWriter(w io.Writer, noColor bool) zerolog.ConsoleWriter {
	styles := NewStyles(noColor)
	return zerolog.ConsoleWriter{
		Out:           w,
		NoColor:       noColor,
		TimeFormat:    time.Kitchen,
		FieldsExclude: []string{successField},
		FormatPrepare: func(evt map[string]interface{}) error {
			if ok, _ := evt[successField].(bool); ok {
				evt[zerolog.LevelFieldName] = successField
			}
			return nil
		},
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			return styles.Level(level)
		},
	}
}

// NewComponentLogger creates a child logger for a specific component.
func (l *ZeroLogger) NewComponentLogger(component string) *ZeroLogger {
	return &ZeroLogger{
		zlog:   l.zlog.With().Str("component", component).Logger(),
		config: l.config,
	}
}

// With returns a logger with a single additional field.
func (l *ZeroLogger) With(key string, value interface{}) Logger {
	return &ZeroLogger{
		zlog:   l.zlog.With().Interface(key, value).Logger(),
		config: l.config,
	}
}

// Zerolog exposes the underlying logger for callers that need events
// with typed fields.
func (l *ZeroLogger) Zerolog() *zerolog.Logger {
	return &l.zlog
}

// Debug logs a debug-level message.
func (l *ZeroLogger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Info logs an info-level message.
func (l *ZeroLogger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Warn logs a warning-level message.
func (l *ZeroLogger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Error logs an error-level message.
func (l *ZeroLogger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

// Success logs a completed step at info level.
func (l *ZeroLogger) Success(msg string) {
	l.zlog.Info().Bool(successField, true).Msg(msg)
}

// ParseLevel converts a string log level to zerolog.Level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string)                      {}
func (nopLogger) Info(string)                       {}
func (nopLogger) Warn(string)                       {}
func (nopLogger) Error(string)                      {}
func (nopLogger) Success(string)                    {}
func (n nopLogger) With(string, interface{}) Logger { return n }
