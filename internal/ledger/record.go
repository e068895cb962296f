// Package ledger persists execution records and enforces their status
// lifecycle. Every invocation gets exactly one record that moves from
// pending through running to a single terminal status, and terminal records
// never change again.
package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/aiops-tools/toolexec/internal/protocol"
)

// Status is the lifecycle state of an execution record.
type Status string

const (
	// StatusPending means the execution is admitted but its process has
	// not started yet.
	StatusPending Status = "pending"
	// StatusRunning means the tool process has been spawned.
	StatusRunning Status = "running"
	// StatusSuccess means the tool produced a well-formed result.
	StatusSuccess Status = "success"
	// StatusFailed covers runtime failures, malformed output and spawn
	// failures.
	StatusFailed Status = "failed"
	// StatusTimeout means the deadline expired and the process group was
	// terminated.
	StatusTimeout Status = "timeout"
	// StatusCancelled means a caller cancelled the execution before it
	// finished.
	StatusCancelled Status = "cancelled"
)

// Statuses lists every valid execution status.
var Statuses = []Status{
	StatusPending,
	StatusRunning,
	StatusSuccess,
	StatusFailed,
	StatusTimeout,
	StatusCancelled,
}

// transitions holds the legal status changes. A pending execution may fail
// directly when its process never spawns.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled},
}

// CanTransition reports whether an execution may move between the two
// statuses.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// IsTerminal reports whether s permits no further changes.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// TransitionError reports a status change the lifecycle forbids.
type TransitionError struct {
	From Status
	To   Status
}

// Error describes the forbidden change.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition execution from %s to %s", e.From, e.To)
}

// Record is the audit trail entry for a single tool invocation.
type Record struct {
	ID          string
	ToolName    string
	ToolVersion int
	Status      Status
	CallerID    string
	TraceID     string
	// Input is the validated argument document with sensitive values
	// already redacted.
	Input map[string]any
	// Output is the parsed result document, present only on success.
	Output any
	// Error describes the failure for failed, timeout and cancelled
	// executions.
	Error       *protocol.ErrorDetail
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMS  *int64
}

// Completion carries the terminal fields applied when an execution ends.
type Completion struct {
	Status      Status
	Output      any
	Error       *protocol.ErrorDetail
	CompletedAt time.Time
	DurationMS  int64
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Tool   string
	Status Status
	Limit  int
	Cursor string
}

// Page is one page of list results, newest first.
type Page struct {
	Records    []Record
	NextCursor string
	HasMore    bool
}
