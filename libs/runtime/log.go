package runtime

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nexaledger/platform/libs/config"
)

func NewLogger(service string) *slog.Logger {
	return NewLoggerTo(os.Stdout, service, config.String("LOG_LEVEL", "info"))
}

func NewLoggerTo(w io.Writer, service string, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(h).With("service", service)
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
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
