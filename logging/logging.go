package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	rootMu     sync.RWMutex
	rootLogger = newRootLogger(os.Stderr, os.Getenv("MCPANEL_LOG_LEVEL"))

	subsystemsMu sync.Mutex
	subsystems   = map[string]*zerolog.Logger{}
)

func newRootLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// SetOutput replaces the writer and level used by every subsystem logger
// created afterwards. Loggers already handed out keep their writer.
func SetOutput(w io.Writer, level string) {
	rootMu.Lock()
	rootLogger = newRootLogger(w, level)
	rootMu.Unlock()

	subsystemsMu.Lock()
	subsystems = map[string]*zerolog.Logger{}
	subsystemsMu.Unlock()
}

// GetSubsystemLogger returns the shared logger for a component, tagged with
// its name.
func GetSubsystemLogger(subsystem string) *zerolog.Logger {
	subsystemsMu.Lock()
	defer subsystemsMu.Unlock()

	if l, ok := subsystems[subsystem]; ok {
		return l
	}

	rootMu.RLock()
	l := rootLogger.With().Str("component", subsystem).Logger()
	rootMu.RUnlock()

	subsystems[subsystem] = &l
	return &l
}

// Nop is a logger that discards everything, used by tests.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
