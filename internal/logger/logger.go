package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger lets other packages depend on certd/internal/logger only.
type Logger = zerolog.Logger

// Event is an alias for zerolog.Event.
type Event = zerolog.Event

const consoleTimeFormat = "2006-01-02 15:04:05"

// Output describes where log lines go, read from LOG_OUTPUT, LOG_FORMAT and
// LOG_FILE_PATH.
type Output struct {
	Mode     string
	Format   string
	FilePath string
}

func outputFromEnv() Output {
	out := Output{
		Mode:     strings.ToLower(strings.TrimSpace(os.Getenv("LOG_OUTPUT"))),
		Format:   strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		FilePath: strings.TrimSpace(os.Getenv("LOG_FILE_PATH")),
	}
	if out.Mode == "" {
		out.Mode = "stdout"
	}
	if out.Format == "" {
		out.Format = "console"
	}
	return out
}

func formatted(w io.Writer, format string) io.Writer {
	if format == "json" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

// writers builds the sinks for out and returns warnings to log once the
// logger is usable.
func (out Output) writers() ([]io.Writer, []string) {
	var (
		sinks    []io.Writer
		warnings []string
	)
	if out.Mode == "stdout" || out.Mode == "both" {
		sinks = append(sinks, formatted(os.Stdout, out.Format))
	}
	if out.Mode == "file" || out.Mode == "both" {
		switch {
		case out.FilePath == "":
			warnings = append(warnings, "LOG_OUTPUT requires a file but LOG_FILE_PATH is not set; disabling file logging")
		default:
			file, err := os.OpenFile(out.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Failed to open log file '%s', disabling file logging: %v", out.FilePath, err))
				break
			}
			sinks = append(sinks, formatted(file, out.Format))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, formatted(os.Stdout, "console"))
		warnings = append(warnings, "No valid log output configured, falling back to stdout console")
	}
	return sinks, warnings
}

// Init configures the global logger at level. Unknown levels fall back to info.
func Init(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := outputFromEnv()
	sinks, warnings := out.writers()

	var w io.Writer = sinks[0]
	if len(sinks) > 1 {
		w = zerolog.MultiLevelWriter(sinks...)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
		warnings = append(warnings, fmt.Sprintf("Invalid log level '%s', defaulting to 'info'", level))
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "certd").Logger()

	for _, msg := range warnings {
		log.Warn().Msg(msg)
	}
	log.Info().
		Str("level", lvl.String()).
		Str("output_mode", out.Mode).
		Str("format", out.Format).
		Str("log_file_path", out.FilePath).
		Msg("Logger initialized")
}

// Get returns the configured logger.
func Get() *zerolog.Logger {
	return &log.Logger
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	log.Logger = log.Output(w)
}

// HTTPEvent logs a served request.
func HTTPEvent(method, path string, status int, durationMs float64) *zerolog.Event {
	return log.Info().
		Str("event_category", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Float64("duration_ms", durationMs)
}

// HTTPError logs a failed request.
func HTTPError(method, path string, status int, err error) *zerolog.Event {
	return log.Error().
		Str("event_category", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Err(err)
}

// PanicEvent logs a recovered panic.
func PanicEvent(err interface{}, stack string) *zerolog.Event {
	return log.Error().
		Str("event_category", "panic").
		Interface("error", err).
		Str("stack", stack)
}

// SecurityEvent is used for audit lines about certificate and key material,
// including failed removal of temporary key files.
func SecurityEvent(action string) *zerolog.Event {
	return log.Warn().
		Str("event_category", "security").
		Str("action", action)
}

// RemoteEvent logs a command sent to a server through the remote manager.
func RemoteEvent(server string, argv []string) *zerolog.Event {
	cmd := ""
	if len(argv) > 1 {
		cmd = argv[1]
	}
	return log.Info().
		Str("event_category", "rmgmt").
		Str("server", server).
		Str("command", cmd)
}
