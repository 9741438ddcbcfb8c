// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps the standard log package to provide level-based filtering and either plain
// text or one-JSON-object-per-line output.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "fatal"
	}
}

// fatalLevel is only used for labelling Fatal output.
const fatalLevel Level = ErrorLevel + 1

// ParseLevel maps a level name to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging
type Logger struct {
	level  Level
	json   bool
	logger *log.Logger
}

var (
	mu sync.RWMutex
	// Global logger instance
	defaultLogger *Logger
)

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	initWith(os.Stderr, level, format)
}

// SetOutput re-initializes the default logger writing to w. Tests use it to
// capture output.
func SetOutput(w io.Writer, level string, format string) {
	initWith(w, level, format)
}

func initWith(w io.Writer, level, format string) {
	isJSON := strings.ToLower(format) == "json"

	// Set log flags based on format
	flags := log.LstdFlags | log.Lmicroseconds
	if isJSON {
		flags = 0
	} else {
		flags |= log.Lshortfile
	}

	mu.Lock()
	defaultLogger = &Logger{
		level:  ParseLevel(level),
		json:   isJSON,
		logger: log.New(w, "", flags),
	}
	mu.Unlock()
}

type jsonLine struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

// emit writes one entry attributed to the caller of the exported helper.
func emit(level Level, format string, args ...interface{}) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil || level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.json {
		line, err := json.Marshal(jsonLine{
			Time:  time.Now().UTC().Format(time.RFC3339Nano),
			Level: level.String(),
			Msg:   msg,
		})
		if err != nil {
			return
		}
		_ = l.logger.Output(3, string(line))
		return
	}
	_ = l.logger.Output(3, "["+strings.ToUpper(level.String())+"] "+msg)
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	emit(DebugLevel, format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	emit(InfoLevel, format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	emit(WarnLevel, format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	emit(ErrorLevel, format, args...)
}

// Fatal logs a message and exits
func Fatal(format string, args ...interface{}) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		log.Fatalf("[FATAL] "+format, args...)
	}
	emit(fatalLevel, format, args...)
	os.Exit(1)
}
