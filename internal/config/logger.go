package config

import (
	"io"
	"log/slog"
	"os"
)

var Logger *slog.Logger

func InitLogger() {
	InitLoggerTo(os.Stdout)
}

// InitLoggerTo позволяет перенаправить вывод (stdio занят MCP транспортом)
func InitLoggerTo(w io.Writer) {
	var handler slog.Handler

	if os.Getenv("ENV") == "production" {
		// Продакшен: JSON формат
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       levelFromEnv(),
			ReplaceAttr: replaceTimeAttr,
			AddSource:   true,
		})
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)

	slog.Info("Logger initialized successfully")
}

func levelFromEnv() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func replaceTimeAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.String("time", a.Value.Time().Local().Format("2006-01-02 15:04:05"))
	}
	return a
}
