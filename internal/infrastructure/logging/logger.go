package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/config"
)

// Logger wraps slog.Logger with node-specific default fields.
//
// It satisfies the small Logger interfaces declared by the domain packages,
// so one instance (or a child from With) can be handed to each of them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// Every entry carries the service name, the build version and the device id
// so that logs shipped off the node stay attributable.
func New(cfg config.LoggingConfig, version, deviceID string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newWithWriter(output, cfg, version, deviceID)
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, version, deviceID string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	attrs := []slog.Attr{
		slog.String("service", "kaiser-edge"),
		slog.String("version", version),
	}
	if deviceID != "" {
		attrs = append(attrs, slog.String("device_id", deviceID))
	}

	return &Logger{
		Logger: slog.New(handler.WithAttrs(attrs)),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev", "")
}
