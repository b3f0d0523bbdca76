package relpipe

import (
	"fmt"
	"io"
	"sync"
)

// DefaultLogger is a no-op logger implementation
type DefaultLogger struct{}

// Debug implements Logger.Debug
func (l *DefaultLogger) Debug(format string, args ...interface{}) {}

// Info implements Logger.Info
func (l *DefaultLogger) Info(format string, args ...interface{}) {}

// Warn implements Logger.Warn
func (l *DefaultLogger) Warn(format string, args ...interface{}) {}

// Error implements Logger.Error
func (l *DefaultLogger) Error(format string, args ...interface{}) {}

// NewDefaultLogger creates a new default no-op logger
func NewDefaultLogger() Logger {
	return &DefaultLogger{}
}

// WriterLogger writes leveled log lines to an io.Writer. Writes are
// serialized, so one logger can be shared across the contexts of a stage.
type WriterLogger struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriterLogger creates a logger that writes to the given writer.
func NewWriterLogger(out io.Writer) *WriterLogger {
	return &WriterLogger{out: out}
}

func (l *WriterLogger) log(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[%s] %s\n", level, fmt.Sprintf(format, args...))
}

// Debug implements Logger.Debug
func (l *WriterLogger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

// Info implements Logger.Info
func (l *WriterLogger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

// Warn implements Logger.Warn
func (l *WriterLogger) Warn(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

// Error implements Logger.Error
func (l *WriterLogger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}
