package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects the log level, handler format and an optional rotated
// log file that receives a copy of every record.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`
}

func (l LogConfig) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", l.Level)
}

func (l LogConfig) validate() error {
	if _, err := l.level(); err != nil {
		return err
	}
	switch l.Format {
	case "", "text", "json":
		return nil
	}
	return fmt.Errorf("unknown log format %q", l.Format)
}

// NewLogger builds a logger writing to w and, when File is set, to a
// rotated file. The returned closer releases the file.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := l.level()
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	if l.File != "" {
		lj := &lumberjack.Logger{
			Filename:   l.File,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = io.MultiWriter(w, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if l.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
