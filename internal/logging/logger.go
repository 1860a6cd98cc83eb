// Package logging provides the structured, leveled logging used throughout
// sgdd: one zerolog.Logger per process, with a per-worker child carrying a
// "tid" field the way the original's pr2serr_lk tags every line with a
// thread id.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	Level   zerolog.Level
	Format  string // "json" or "text"
	Output  io.Writer
	NoColor bool
}

// DefaultConfig returns a sensible default: info level, human-readable
// console output to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  zerolog.InfoLevel,
		Format: "text",
		Output: os.Stderr,
	}
}

// LevelForDeb maps the deb= debug-level operand onto a zerolog level,
// mirroring the original's deb-controlled pr2serr_lk verbosity.
func LevelForDeb(deb int) zerolog.Level {
	switch {
	case deb >= 4:
		return zerolog.DebugLevel
	case deb >= 2:
		return zerolog.InfoLevel
	case deb >= 1:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

var (
	defaultLogger zerolog.Logger
	mu            sync.RWMutex
	initialized   bool
)

// New builds a root zerolog.Logger from the given configuration.
func New(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var out io.Writer = cfg.Output
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, NoColor: cfg.NoColor}
	}
	return zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// SetDefault installs l as the process-wide default logger.
func SetDefault(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
	initialized = true
}

// Default returns the process-wide logger, building one from
// DefaultConfig the first time it's needed.
func Default() zerolog.Logger {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		defaultLogger = New(DefaultConfig())
		initialized = true
	}
	return defaultLogger
}

// ForWorker returns a child logger tagged with this worker's thread id, the
// equivalent of pr2serr_lk's per-line thread-id prefix.
func ForWorker(l zerolog.Logger, tid int) zerolog.Logger {
	return l.With().Int("tid", tid).Logger()
}
