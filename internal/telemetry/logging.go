package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggerConfig — настройки логгера.
type LoggerConfig struct {
	// Level — минимальный уровень.
	Level slog.Level

	// Format — "json" или "text".
	Format string

	// Output — куда писать. nil — os.Stdout.
	Output io.Writer
}

// LoggerConfigFromEnv читает LOG_LEVEL (debug, info, warn, error; регистр
// не важен) и LOG_FORMAT (json по умолчанию, text). Некорректный уровень
// заменяется на info.
func LoggerConfigFromEnv() LoggerConfig {
	cfg := LoggerConfig{Level: slog.LevelInfo, Format: "json"}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if level, err := ParseLevel(v); err == nil {
			cfg.Level = level
		}
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		cfg.Format = "text"
	}
	return cfg
}

// ParseLevel разбирает уровень логирования ("debug", "INFO", "warn+2").
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// NewLogger создаёт логгер по конфигурации. На уровне debug в записи
// добавляется источник.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.Level <= slog.LevelDebug,
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetupLogger настраивает глобальный логгер сервера (stdout, env).
func SetupLogger() *slog.Logger {
	return SetupLoggerTo(os.Stdout)
}

// SetupLoggerTo настраивает глобальный логгер с выводом в w.
// CLI пишет логи в stderr, чтобы stdout оставался для результата команды.
func SetupLoggerTo(w io.Writer) *slog.Logger {
	cfg := LoggerConfigFromEnv()
	cfg.Output = w

	logger := NewLogger(cfg)
	slog.SetDefault(logger)
	return logger
}

type loggerKey struct{}

// WithLogger кладёт логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext достаёт логгер из контекста или возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRunID добавляет run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithNodeID добавляет node_id.
func WithNodeID(logger *slog.Logger, nodeID string) *slog.Logger {
	return logger.With("node_id", nodeID)
}
