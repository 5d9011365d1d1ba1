// Package logger provides the leveled logging helpers used across modules.
// The transcoder subsystem uses hclog instead; everything else goes through
// these wrappers so log lines stay greppable by level.
package logger

import (
	"log"
)

// Info logs informational messages
func Info(format string, args ...interface{}) {
	log.Printf("INFO: "+format, args...)
}

// Warn logs warning messages
func Warn(format string, args ...interface{}) {
	log.Printf("WARN: "+format, args...)
}

// Error logs error messages
func Error(format string, args ...interface{}) {
	log.Printf("ERROR: "+format, args...)
}

// Debug logs debug messages
func Debug(format string, args ...interface{}) {
	log.Printf("DEBUG: "+format, args...)
}

// Component returns a logger whose messages carry a fixed component prefix.
type ComponentLogger struct {
	prefix string
}

// Component creates a ComponentLogger for a named subsystem.
func Component(name string) *ComponentLogger {
	return &ComponentLogger{prefix: "[" + name + "] "}
}

func (c *ComponentLogger) Info(format string, args ...interface{}) {
	Info(c.prefix+format, args...)
}

func (c *ComponentLogger) Warn(format string, args ...interface{}) {
	Warn(c.prefix+format, args...)
}

func (c *ComponentLogger) Error(format string, args ...interface{}) {
	Error(c.prefix+format, args...)
}

func (c *ComponentLogger) Debug(format string, args ...interface{}) {
	Debug(c.prefix+format, args...)
}
