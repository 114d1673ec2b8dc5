// Package logging carries the two log surfaces of the bus: an operational
// slog logger for daemon/infrastructure events, and a dispatch logger that
// records one entry per handled command.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DispatchLog represents a single command dispatch log entry.
type DispatchLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Domain      string    `json:"domain"`
	CommandID   string    `json:"command_id"`
	CommandType string    `json:"command_type"`
	MsgID       int64     `json:"msg_id"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Outcome     string    `json:"outcome"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	Retry       bool      `json:"retry,omitempty"`
}

// Logger handles dispatch logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default dispatch logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a dispatch log entry.
func (l *Logger) Log(entry *DispatchLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if entry.Outcome != "success" {
			status = "✗"
		}
		retry := ""
		if entry.Retry {
			retry = fmt.Sprintf(" [retry %d/%d]", entry.Attempt, entry.MaxAttempts)
		}
		fmt.Printf("[dispatch] %s %s %s/%s %dms %s%s\n",
			status, entry.CommandID, entry.Domain, entry.CommandType, entry.DurationMs, entry.Outcome, retry)
		if entry.Error != "" {
			fmt.Printf("[dispatch]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
