// Package logging provides per-subsystem structured loggers built on log/slog.
//
// Level and format are read once from LOG_LEVEL (debug, info, warn, error) and
// LOG_FORMAT (text, json). Loggers for the same subsystem are cached:
//
//	var log = logging.Logger("relay")
//	log.Info("client authenticated", "user", id)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggers sync.Map // subsystem -> *slog.Logger

	outputMu sync.RWMutex
	output   io.Writer = os.Stderr

	optsOnce sync.Once
	level    = new(slog.LevelVar)
	format   string
)

func loadEnv() {
	optsOnce.Do(func() {
		level.Set(ParseLevel(os.Getenv("LOG_LEVEL")))
		format = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	})
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the cached logger for subsystem.
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}
	loadEnv()

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(writer{}, opts)
	} else {
		handler = slog.NewTextHandler(writer{}, opts)
	}
	l := slog.New(handler).With("subsystem", subsystem)

	actual, _ := loggers.LoadOrStore(subsystem, l)
	return actual.(*slog.Logger)
}

// SetLevel changes the level of every logger.
func SetLevel(l slog.Level) {
	loadEnv()
	level.Set(l)
}

// SetOutput redirects every logger, including ones already created.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// Discard returns a logger that drops everything. Meant for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writer forwards to the current output so SetOutput applies retroactively.
type writer struct{}

func (writer) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	return w.Write(p)
}
