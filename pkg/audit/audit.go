// Package audit records security-relevant events. Records are append-only
// and never carry token values or plaintext credentials.
package audit

import (
	"log/slog"
	"sync"
	"time"
)

// Record is one audit event.
type Record struct {
	// Actor is the caller identity that triggered the event.
	Actor string `json:"actor"`

	// Tenant is the tenant the event concerns.
	Tenant string `json:"tenant,omitempty"`

	// Action names what happened (e.g. credential.decrypt).
	Action string `json:"action"`

	// Resource identifies what was acted on.
	Resource string `json:"resource,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Success reports the outcome.
	Success bool `json:"success"`

	// Error is the safe failure detail for unsuccessful events.
	Error string `json:"error,omitempty"`
}

// Logger accepts audit records. Implementations must treat records as
// immutable once logged.
type Logger interface {
	Log(record Record)
}

// SlogLogger emits audit records through a structured logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a SlogLogger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// Log writes the record at info level, or warn for failures.
func (l *SlogLogger) Log(record Record) {
	attrs := []any{
		slog.String("actor", record.Actor),
		slog.String("tenant", record.Tenant),
		slog.String("action", record.Action),
		slog.String("resource", record.Resource),
		slog.Time("timestamp", record.Timestamp),
		slog.Bool("success", record.Success),
	}
	if record.Error != "" {
		attrs = append(attrs, slog.String("error", record.Error))
	}

	if record.Success {
		l.logger.Info("audit", attrs...)
	} else {
		l.logger.Warn("audit", attrs...)
	}
}

// MemoryLogger collects records in memory. Meant for tests.
type MemoryLogger struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryLogger creates an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends the record.
func (l *MemoryLogger) Log(record Record) {
	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()
}

// Records returns a copy of everything logged so far.
func (l *MemoryLogger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
