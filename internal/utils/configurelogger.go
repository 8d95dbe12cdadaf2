package utils

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure the default slog logger with a log level and an optional output file.
//
// Valid log levels are "none", "error", "warn", "info", "debug". Any other value
// returns an error. When logFile is empty the logger writes text to stdout;
// otherwise it writes JSON to the given file path.
//
// Returns the os.File pointer the logger writes to (nil for stdout), so the
// caller may close it on shutdown:
//
//	logFilePointer, err := utils.ConfigureDefaultLogger("info", "", slog.HandlerOptions{})
//	if logFilePointer != nil {
//		defer logFilePointer.Close()
//	}
func ConfigureDefaultLogger(logLevel string, logFile string, loggerOptions slog.HandlerOptions) (*os.File, error) {
	switch logLevel {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		loggerOptions.Level = slog.LevelError
	case "warn":
		loggerOptions.Level = slog.LevelWarn
	case "info":
		loggerOptions.Level = slog.LevelInfo
	case "debug":
		loggerOptions.Level = slog.LevelDebug
	default:
		return nil, errors.New("unexpected log level")
	}

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &loggerOptions)))
		return nil, nil
	}

	logFilePointer, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(logFilePointer, &loggerOptions)))
	return logFilePointer, nil
}
