// internal/logger/logger.go
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger with service context.
type Logger struct {
	service string
	logger  zerolog.Logger
}

// New creates a new logger instance for a service.
func New(service string) *Logger {
	zl := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Logger()
	return &Logger{
		service: service,
		logger:  zl,
	}
}

// Info logs an info message.
func (l *Logger) Info(message string, keyvals ...interface{}) {
	l.emit(l.logger.Info(), message, keyvals...)
}

// Error logs an error message.
func (l *Logger) Error(message string, keyvals ...interface{}) {
	l.emit(l.logger.Error(), message, keyvals...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, keyvals ...interface{}) {
	l.emit(l.logger.Warn(), message, keyvals...)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, keyvals ...interface{}) {
	l.emit(l.logger.Debug(), message, keyvals...)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(message string, keyvals ...interface{}) {
	l.emit(l.logger.Fatal(), message, keyvals...)
}

func (l *Logger) emit(event *zerolog.Event, message string, keyvals ...interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, keyvals[i+1])
	}
	event.Msg(message)
}
