package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
)

// LogConfig controls where and how log records are written
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`

	// Format is text or json
	Format string `yaml:"format"`

	// File sends records to a rotating log file instead of stdout
	File string `yaml:"file"`

	// MaxSize is the rotation size in megabytes, MaxAge the retention in days
	MaxSize int `yaml:"maxSize"`
	MaxAge  int `yaml:"maxAge"`
}

func (c LogConfig) validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Format)
	}
}

// InitLogger builds the process logger and installs it as the slog default.
// The returned closer releases the log file, if any.
func InitLogger(c LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if c.File != "" {
		l := &lumberjack.Logger{
			Filename: c.File,
			MaxSize:  c.MaxSize, // megabytes
			MaxAge:   c.MaxAge,  // days
		}
		out, closer = l, l
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceTimeAttr}
	var handler slog.Handler
	if c.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func replaceTimeAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		return slog.String("time", a.Value.Time().Local().Format("2006-01-02 15:04:05"))
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
