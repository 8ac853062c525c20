package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is a simple structured-ish logger that writes to the console.
// Arguments are alternating key/value pairs appended to the message.
type Logger struct {
	*log.Logger
}

// NewLogger creates a new Logger.
func NewLogger() *Logger {
	return &Logger{
		Logger: log.New(os.Stdout, "", log.LstdFlags),
	}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.Printf("INFO: %s%s", msg, formatArgs(args))
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.Printf("WARN: %s%s", msg, formatArgs(args))
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.Printf("ERROR: %s%s", msg, formatArgs(args))
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.Printf("DEBUG: %s%s", msg, formatArgs(args))
}

// formatArgs renders key/value pairs as " k=v k=v". An odd trailing
// argument is rendered on its own.
func formatArgs(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}
