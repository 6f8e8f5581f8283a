// Package logging provides leveled log functions used throughout gaussianfit.
// Messages go to the standard logger, or to a size-rotated file once a
// Config with a log file is applied.
package logging

import (
	"fmt"
	"log"
	"sync"

	"github.com/natefinch/lumberjack"
)

// Mode is the minimum severity that gets written
type Mode uint

const (
	DebugMode Mode = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

// Logger records messages at different severities
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any open log file
	Shutdown()
}

var (
	mu     sync.RWMutex
	mode   = InfoMode
	logger Logger = stdLogger{}
)

// SetMode sets the severity required for a message to be written.
// SilentMode turns logging off.
func SetMode(m Mode) {
	mu.Lock()
	mode = m
	mu.Unlock()
}

// SetLogger replaces the package logger and returns a function restoring
// the previous one.
func SetLogger(l Logger) (restore func()) {
	mu.Lock()
	prev := logger
	logger = l
	mu.Unlock()
	return func() {
		mu.Lock()
		logger = prev
		mu.Unlock()
	}
}

func current(m Mode) (Logger, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return logger, mode <= m
}

func Debugf(format string, args ...interface{}) {
	if l, ok := current(DebugMode); ok {
		l.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if l, ok := current(InfoMode); ok {
		l.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if l, ok := current(WarningMode); ok {
		l.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if l, ok := current(ErrorMode); ok {
		l.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if l, ok := current(CriticalMode); ok {
		l.Criticalf(format, args...)
	}
}

// Shutdown closes the active logger
func Shutdown() {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Shutdown()
}

// Config selects the log destination. An empty Logfile keeps stderr.
type Config struct {
	Logfile string `yaml:"logfile"`
	MaxSize int    `yaml:"maxSize"` // megabytes
	MaxAge  int    `yaml:"maxAge"`  // days
	Verbose bool   `yaml:"verbose"`
}

// Apply sets the mode from Verbose and, when a log file is configured,
// installs a logger writing to a rotating file.
func (c *Config) Apply() {
	if c == nil {
		return
	}
	if c.Verbose {
		SetMode(DebugMode)
	}
	if c.Logfile == "" {
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	SetLogger(stdLogger{file: l})
}

// stdLogger writes through the standard log package with a severity prefix
type stdLogger struct {
	file *lumberjack.Logger
}

func (s stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (s stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (s stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (s stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (s stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (s stdLogger) Shutdown() {
	if s.file != nil {
		s.file.Close()
	}
}
