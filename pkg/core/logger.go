package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger provides leveled logging for the store and its collaborators.
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})
}

// Level is the minimum severity a leveled logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown names fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// leveledLogger implements Logger using Go's standard log package,
// one *log.Logger per level so each line carries its own prefix.
type leveledLogger struct {
	min         Level
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
}

// NewDefaultLogger creates a logger writing errors and warnings to stderr
// and everything else to stdout, at LevelInfo.
func NewDefaultLogger() Logger {
	return NewLogger(LevelInfo, "")
}

// NewLogger creates a leveled logger. component, when non-empty, is added
// to every prefix, e.g. "[INFO] randomfile: ".
func NewLogger(min Level, component string) Logger {
	return newLeveledLogger(os.Stderr, os.Stdout, min, component)
}

// NewWriterLogger sends every level to w. Used by tests and by the daemon
// when logging to a file.
func NewWriterLogger(w io.Writer, min Level, component string) Logger {
	return newLeveledLogger(w, w, min, component)
}

func newLeveledLogger(errW, outW io.Writer, min Level, component string) *leveledLogger {
	suffix := " "
	if component != "" {
		suffix = " " + component + ": "
	}
	flags := log.LstdFlags | log.Lshortfile
	return &leveledLogger{
		min:         min,
		errorLogger: log.New(errW, "[ERROR]"+suffix, flags),
		warnLogger:  log.New(errW, "[WARN]"+suffix, flags),
		infoLogger:  log.New(outW, "[INFO]"+suffix, flags),
		debugLogger: log.New(outW, "[DEBUG]"+suffix, flags),
	}
}

func (l *leveledLogger) output(lvl Level, dst *log.Logger, msg string) {
	if lvl < l.min {
		return
	}
	// 3: output -> Error/Errorf -> caller
	_ = dst.Output(3, msg)
}

func (l *leveledLogger) Error(args ...interface{}) {
	l.output(LevelError, l.errorLogger, fmt.Sprint(args...))
}

func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.output(LevelError, l.errorLogger, fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Warn(args ...interface{}) {
	l.output(LevelWarn, l.warnLogger, fmt.Sprint(args...))
}

func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.output(LevelWarn, l.warnLogger, fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Info(args ...interface{}) {
	l.output(LevelInfo, l.infoLogger, fmt.Sprint(args...))
}

func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.output(LevelInfo, l.infoLogger, fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Debug(args ...interface{}) {
	l.output(LevelDebug, l.debugLogger, fmt.Sprint(args...))
}

func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.output(LevelDebug, l.debugLogger, fmt.Sprintf(format, args...))
}

type nopLogger struct{}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Error(...interface{})          {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warn(...interface{})           {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Info(...interface{})           {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Debug(...interface{})          {}
func (nopLogger) Debugf(string, ...interface{}) {}
