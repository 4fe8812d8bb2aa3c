package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	ID        string    `json:"id"`
	Address   string    `json:"address,omitempty"`
	Action    string    `json:"action"`
	Command   string    `json:"command,omitempty"`
	Outcome   string    `json:"outcome"`
	LatencyMs int64     `json:"latencyMs"`
}

type ctxKey int

const correlationKey ctxKey = iota

// WithCorrelationID stores an operation correlation ID in the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID extracts the correlation ID, or "" when none was set.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

// Logger appends JSONL audit records with size-based rotation.
type Logger struct {
	mu   sync.Mutex
	out  *lumberjack.Logger
	path string
}

// Options control rotation of the audit file.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates the audit directory if needed and opens the trail for
// appending.
func NewLogger(dir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := filepath.Join(dir, "audit.jsonl")
	return &Logger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		},
		path: path,
	}, nil
}

// LogAction records one command action with its outcome and latency. The
// command is empty for actions that send none, such as enumeration.
func (l *Logger) LogAction(ctx context.Context, action, address, command, result string, latency time.Duration) {
	l.writeEntry(Entry{
		Timestamp: time.Now().UTC(),
		ID:        CorrelationID(ctx),
		Address:   address,
		Action:    action,
		Command:   command,
		Outcome:   result,
		LatencyMs: latency.Milliseconds(),
	})
}

// writeEntry appends one JSON line to the trail.
func (l *Logger) writeEntry(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Path returns the location of the audit trail file.
func (l *Logger) Path() string {
	return l.path
}

// Rotate forces the current file to roll over.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
