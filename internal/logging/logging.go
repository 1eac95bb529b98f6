package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is a simple console logger with key-value context.
type Logger struct {
	*log.Logger
}

// NewLogger creates a new Logger.
func NewLogger() *Logger {
	return &Logger{
		Logger: log.New(os.Stdout, "", log.LstdFlags),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.emit("DEBUG", msg, args...)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.emit("INFO", msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.emit("WARN", msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.emit("ERROR", msg, args...)
}

// emit renders args as key=value pairs after the message. A trailing odd
// argument is logged as-is.
func (l *Logger) emit(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	l.Print(b.String())
}
