package audit

import (
	"context"
	"log/slog"
)

// Event types recorded over one execution lifecycle.
const (
	TypeAdmitted         = "admitted"
	TypeValidationFailed = "validation_failed"
	TypeRejected         = "rejected"
	TypeSpawned          = "spawned"
	TypeFinished         = "finished"
	TypeCancelRequested  = "cancel_requested"
	TypeCacheHit         = "cache_hit"
	TypeCacheStore       = "cache_store"
)

// Event represents an audit entry for one tool execution.
type Event struct {
	// Type describes the event kind.
	Type string
	// Tool is the tool name.
	Tool string
	// ExecutionID links events of one invocation.
	ExecutionID string
	// CallerID identifies the caller, audit only.
	CallerID string
	// TraceID is the caller-provided trace identifier.
	TraceID string
	// Status is the execution status after the event, when it changed.
	Status string
	// Code is the error classification for failure events.
	Code string
	// Reason provides additional context.
	Reason string
	// ArgsDigest is the canonical hash of the argument payload.
	ArgsDigest string
}

// Logger records audit events.
type Logger interface {
	// Record stores an audit event.
	Record(ctx context.Context, event Event)
}

// StdLogger writes audit events to slog.
type StdLogger struct {
	logger *slog.Logger
}

// New returns a StdLogger.
func New(logger *slog.Logger) *StdLogger {
	return &StdLogger{logger: logger}
}

// Record logs an audit event.
func (l *StdLogger) Record(_ context.Context, event Event) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("audit",
		"type", event.Type,
		"tool", event.Tool,
		"execution_id", event.ExecutionID,
		"caller_id", event.CallerID,
		"trace_id", event.TraceID,
		"status", event.Status,
		"code", event.Code,
		"reason", event.Reason,
		"args_digest", event.ArgsDigest,
	)
}
