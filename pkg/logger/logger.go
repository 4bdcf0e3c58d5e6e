// Package logger provides the structured logger shared by all services.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type zeroLogger struct {
	logger zerolog.Logger
	exit   func(int)
}

// New returns a JSON logger writing to stdout at the level named by
// LOG_LEVEL (info when unset).
func New(serviceName string) Logger {
	return NewWithWriter(serviceName, os.Stdout, os.Getenv("LOG_LEVEL"))
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(serviceName string, w io.Writer, level string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return &zeroLogger{logger: zl, exit: os.Exit}
}

func (l *zeroLogger) log(ev *zerolog.Event, message string, fields map[string]interface{}) {
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func (l *zeroLogger) Info(message string, fields map[string]interface{}) {
	l.log(l.logger.Info(), message, fields)
}

func (l *zeroLogger) Error(message string, fields map[string]interface{}) {
	l.log(l.logger.Error(), message, fields)
}

func (l *zeroLogger) Warn(message string, fields map[string]interface{}) {
	l.log(l.logger.Warn(), message, fields)
}

func (l *zeroLogger) Debug(message string, fields map[string]interface{}) {
	l.log(l.logger.Debug(), message, fields)
}

// Fatal logs at fatal level and exits the process.
func (l *zeroLogger) Fatal(message string, fields map[string]interface{}) {
	// WithLevel never exits on its own.
	l.log(l.logger.WithLevel(zerolog.FatalLevel), message, fields)
	l.exit(1)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
