// Package logging provides structured logging for the sync core.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// global logger instance
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. Safe to call more than once; only the
// first call takes effect.
func Init(out io.Writer, level logrus.Level) {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{})
		global = l
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, logrus.InfoLevel)
	}
	return global
}

// Fields is the field map attached to a log entry.
type Fields = logrus.Fields

// Debug logs a debug message with optional fields.
func Debug(message string, fields Fields) {
	Get().WithFields(fields).Debug(message)
}

// Info logs an info message with optional fields.
func Info(message string, fields Fields) {
	Get().WithFields(fields).Info(message)
}

// Warn logs a warning message with optional fields.
func Warn(message string, fields Fields) {
	Get().WithFields(fields).Warn(message)
}

// Error logs an error message with the error attached.
func Error(message string, err error, fields Fields) {
	entry := Get().WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// ErrorWithCode logs an error message with a stable error code attached.
func ErrorWithCode(message string, code string, err error, fields Fields) {
	entry := Get().WithFields(fields).WithField("code", code)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
