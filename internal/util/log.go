package util

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink configures optional rotating file output for the logger.
type FileSink struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// NewLogger builds a stdout logger at the given level, falling back to
// info on unknown levels.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// NewRotatingLogger builds a logger that writes to stdout and, when a
// path is set, to a size-rotated file as well.
func NewRotatingLogger(level string, sink FileSink) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if sink.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   sink.Path,
			MaxSize:    orDefault(sink.MaxSizeMB, 50),
			MaxBackups: orDefault(sink.MaxBackups, 5),
			MaxAge:     orDefault(sink.MaxAgeDays, 14),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotated)
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
