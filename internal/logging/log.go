// Package logging provides a small leveled logger shared by every package in
// this module, wrapping logmatic the way the teacher repo's library package
// does.
package logging

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/mborders/logmatic"
)

// Level mirrors the five severities the rest of this module logs at.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu     sync.Mutex
	logger = newLogger()
)

func newLogger() *logmatic.Logger {
	l := logmatic.NewLogger()
	l.SetLevel(logmatic.TRACE)
	l.ExitOnFatal = false
	return l
}

// Named returns a logger that prefixes every line with component, matching
// the component-tagged log lines the bridge's components need for operators
// to tell C2 relay churn apart from C6 session churn.
func Named(component string) *Logger {
	return &Logger{component: component}
}

// Logger is a cheap, component-scoped handle onto the shared logmatic
// instance.
type Logger struct {
	component string
}

func (lg *Logger) prefix(msg string) string {
	if lg.component == "" {
		return msg
	}
	return fmt.Sprintf("[%s] %s", lg.component, msg)
}

func (lg *Logger) Trace(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	debug.PrintStack()
	logger.Trace(lg.prefix(format), args...)
}

func (lg *Logger) Debug(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Debug(lg.prefix(format), args...)
}

func (lg *Logger) Info(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Info(lg.prefix(format), args...)
}

func (lg *Logger) Warn(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Warn(lg.prefix(format), args...)
}

func (lg *Logger) Error(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Error(lg.prefix(format), args...)
}
