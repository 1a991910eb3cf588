package telemetry

import (
	"log/slog"
	"os"
)

func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug || os.Getenv("ATTENDBOT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
