package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

// ServiceName is the "service" field on every record.
const ServiceName = "graylogic-access"

// redacted replaces the value of any sensitive attribute.
const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the output,
// whatever the caller passes.
var sensitiveKeys = map[string]bool{
	"pin":          true,
	"current_pin":  true,
	"new_pin":      true,
	"uid":          true,
	"password":     true,
	"token":        true,
	"access_token": true,
	"secret":       true,
}

// Logger is a slog.Logger carrying the service name and version. When
// writing to a file it also owns the rotator.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds the service logger from the logging config.
//
// Parameters:
//   - cfg: Level, format (json or text) and output (stdout, stderr or file)
//   - version: Build version added to every record
//
// Returns:
//   - *Logger: Ready to use. Call Close on shutdown when output is "file".
func New(cfg config.LoggingConfig, version string) *Logger {
	w, closer := openOutput(cfg)
	l := newWithWriter(w, cfg, version)
	l.closer = closer
	return l
}

// openOutput picks the destination. Unknown values fall back to stdout.
func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		r := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		return r, r
	default:
		return os.Stdout, nil
	}
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

// redact masks sensitive attributes, including ones nested in groups.
func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel maps debug, info, warn(ing) and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger with extra attributes. The child shares the
// parent's output, so closing either closes the file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// Close releases the log file. No-op for stdout and stderr.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default is a JSON info logger on stdout for use before config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
