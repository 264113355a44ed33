package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the agent log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config describes where agent logs go and how they look.
// When File is empty logs are written to stderr only.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	Source     bool   `mapstructure:"source"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     FormatText,
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAgeDays: DefaultMaxAgeDays,
	}
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "", FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("unknown log format %q", c.Format)
}

// Writer returns the rotating file writer, or nil when no file is configured.
func (c Config) Writer() io.WriteCloser {
	if c.File == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Handler builds an slog handler writing to w.
// Color is only applied to text output on stderr; file output stays plain.
func (c Config) Handler(w io.Writer) slog.Handler {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: c.Source}
	if c.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	if c.Color {
		return NewColorTextHandler(w, opts, true)
	}
	return slog.NewTextHandler(w, opts)
}

// Setup installs the default slog logger. The returned closer releases
// the log file and is never nil.
func Setup(c Config) (io.Closer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if fw := c.Writer(); fw != nil {
		out = io.MultiWriter(os.Stderr, fw)
		closer = fw
		c.Color = false
	}
	slog.SetDefault(slog.New(c.Handler(out)))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
