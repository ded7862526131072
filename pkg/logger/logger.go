// Package logger provides component-scoped structured logging for OmniRelay.
// It is a thin facade over zerolog so call sites stay short:
//
//	logger.InfoCF("registry", "Connection registered", map[string]interface{}{
//	    "platform": "discord",
//	})
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// Setup configures the global logger. level is one of debug/info/warn/error;
// json selects machine-readable output instead of the console writer.
func Setup(level string, json bool) {
	mu.Lock()
	defer mu.Unlock()

	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn", "warning":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	if json {
		log = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
		return
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// DebugC logs a debug message scoped to a component.
func DebugC(component, msg string) {
	l := current()
	l.Debug().Str("component", component).Msg(msg)
}

// InfoC logs an info message scoped to a component.
func InfoC(component, msg string) {
	l := current()
	l.Info().Str("component", component).Msg(msg)
}

// WarnC logs a warning scoped to a component.
func WarnC(component, msg string) {
	l := current()
	l.Warn().Str("component", component).Msg(msg)
}

// ErrorC logs an error scoped to a component.
func ErrorC(component, msg string) {
	l := current()
	l.Error().Str("component", component).Msg(msg)
}

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	l := current()
	l.Debug().Str("component", component).Fields(fields).Msg(msg)
}

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	l := current()
	l.Info().Str("component", component).Fields(fields).Msg(msg)
}

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	l := current()
	l.Warn().Str("component", component).Fields(fields).Msg(msg)
}

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	l := current()
	l.Error().Str("component", component).Fields(fields).Msg(msg)
}
