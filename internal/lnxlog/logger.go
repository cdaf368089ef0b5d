// Package lnxlog provides the structured logging conventions shared across
// LNXDrive: a package-level zerolog.Logger, level control, and a LogContext
// helper for tagging entries with component/method/item identifiers. The
// shape follows the teacher's pkg/logging package.
package lnxlog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(defaultWriter()).With().Timestamp().Logger()
)

func defaultWriter() io.Writer {
	if isTerminal(os.Stderr) {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return os.Stderr
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// SetLevel adjusts the global minimum log level. Valid levels match
// zerolog's names: trace, debug, info, warn, error.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// SetOutput redirects the package logger's writer, e.g. from the console
// to a log file.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &logger
}

func Debug() *zerolog.Event { return L().Debug() }
func Info() *zerolog.Event  { return L().Info() }
func Warn() *zerolog.Event  { return L().Warn() }
func Error() *zerolog.Event { return L().Error() }
func Trace() *zerolog.Event { return L().Trace() }

// LogContext carries the tags every log line within a component/method
// should share, so callers build it once and reuse the derived logger.
type LogContext struct {
	Component string
	Method    string
	ItemID    string
	SessionID string
	Extra     map[string]string
}

func NewLogContext(component string) LogContext {
	return LogContext{Component: component}
}

func (c LogContext) WithMethod(method string) LogContext {
	c.Method = method
	return c
}

func (c LogContext) WithItem(id string) LogContext {
	c.ItemID = id
	return c
}

func (c LogContext) WithSession(id string) LogContext {
	c.SessionID = id
	return c
}

func (c LogContext) With(key, value string) LogContext {
	if c.Extra == nil {
		c.Extra = make(map[string]string, 1)
	} else {
		cp := make(map[string]string, len(c.Extra)+1)
		for k, v := range c.Extra {
			cp[k] = v
		}
		c.Extra = cp
	}
	c.Extra[key] = value
	return c
}

// Logger materializes the tagged zerolog.Logger for this context.
func (c LogContext) Logger() zerolog.Logger {
	ctx := L().With()
	if c.Component != "" {
		ctx = ctx.Str("component", c.Component)
	}
	if c.Method != "" {
		ctx = ctx.Str("method", c.Method)
	}
	if c.ItemID != "" {
		ctx = ctx.Str("itemID", c.ItemID)
	}
	if c.SessionID != "" {
		ctx = ctx.Str("sessionID", c.SessionID)
	}
	for k, v := range c.Extra {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger()
}
