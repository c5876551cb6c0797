package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func levelFor(env string) (slog.Level, error) {
	switch env {
	case envLocal, envDev:
		return slog.LevelDebug, nil
	case envProd:
		return slog.LevelInfo, nil
	}
	return 0, fmt.Errorf("invalid environment: %q", env)
}

// SetupLogger builds the service logger. Local runs write to stdout; dev
// and prod append to the file at logPath.
func SetupLogger(env, logPath string) (*slog.Logger, error) {
	level, err := levelFor(env)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if env != envLocal {
		file, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

// WithAlerts keeps logging through log and also hands records at or above
// level to sender.
func WithAlerts(log *slog.Logger, sender Sender, level slog.Level) *slog.Logger {
	return slog.New(NewTelegramHandler(log.Handler(), sender, level))
}
