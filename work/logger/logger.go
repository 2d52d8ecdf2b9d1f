package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger is a leveled logger instance. The level is stored atomically so the
// debug-logging config toggle can flip it at runtime without locking every
// log call.
type Logger struct {
	level atomic.Int32
}

var defaultLogger = New("INFO")

// New creates a new Logger instance with the specified level.
func New(level string) *Logger {
	l := &Logger{}
	l.level.Store(int32(ParseLogLevel(level)))
	return l
}

// ParseLogLevel converts a string to a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel sets this logger instance's level.
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLogLevel(level)))
}

// SetDebug switches the instance between DEBUG and INFO. Wired to the
// debugLogging config option.
func (l *Logger) SetDebug(enabled bool) {
	if enabled {
		l.level.Store(int32(DEBUG))
	} else {
		l.level.Store(int32(INFO))
	}
}

// GetLevel returns this logger instance's level as a string.
func (l *Logger) GetLevel() string {
	switch LogLevel(l.level.Load()) {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

func logMessage(level string, format string, v ...interface{}) {
	log.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Debug logs debug level messages.
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.shouldLog(DEBUG) {
		logMessage("DEBUG", format, v...)
	}
}

// Info logs info level messages.
func (l *Logger) Info(format string, v ...interface{}) {
	if l.shouldLog(INFO) {
		logMessage("INFO", format, v...)
	}
}

// Warn logs warning level messages.
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.shouldLog(WARN) {
		logMessage("WARN", format, v...)
	}
}

// Error logs error level messages.
func (l *Logger) Error(format string, v ...interface{}) {
	if l.shouldLog(ERROR) {
		logMessage("ERROR", format, v...)
	}
}

// Package-level functions for direct use like logger.Info().

// SetLogLevel sets the default logger's level.
func SetLogLevel(level string) {
	defaultLogger.SetLevel(level)
}

// SetDebug switches the default logger between DEBUG and INFO.
func SetDebug(enabled bool) {
	defaultLogger.SetDebug(enabled)
}

// Debug logs debug level messages on the default logger.
func Debug(format string, v ...interface{}) {
	defaultLogger.Debug(format, v...)
}

// Info logs info level messages on the default logger.
func Info(format string, v ...interface{}) {
	defaultLogger.Info(format, v...)
}

// Warn logs warning level messages on the default logger.
func Warn(format string, v ...interface{}) {
	defaultLogger.Warn(format, v...)
}

// Error logs error level messages on the default logger.
func Error(format string, v ...interface{}) {
	defaultLogger.Error(format, v...)
}
