package core

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Logger is the logging sink handed to every system. Systems never reach for a
// global logger; whoever builds them decides where the output goes.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	// With returns a child logger that prepends the given key/value pairs.
	With(keyvals ...interface{}) Logger
}

type LogLevel = log.Level

const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
)

type LoggerOptions struct {
	Level        LogLevel
	Prefix       string
	ReportCaller bool
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

type logger struct {
	*log.Logger
}

func NewLogger(opts LoggerOptions) Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportCaller:    opts.ReportCaller,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          opts.Prefix,
	})
	l.SetLevel(opts.Level)
	return &logger{l}
}

func (l *logger) With(keyvals ...interface{}) Logger {
	return &logger{l.Logger.With(keyvals...)}
}

// ParseLevel accepts debug, info, warn and error (case insensitive).
func ParseLevel(s string) (LogLevel, error) {
	return log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (n nopLogger) With(...interface{}) Logger  { return n }

// NopLogger discards everything.
func NopLogger() Logger { return nopLogger{} }
