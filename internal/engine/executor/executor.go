// Package executor runs one tool invocation against its configured backend
// and classifies the outcome into a stable error code.
package executor

import (
	"context"
	"time"

	"github.com/aiops-tools/toolexec/internal/catalog"
)

// Request contains everything needed to execute one invocation.
type Request struct {
	// Tool is the pinned tool definition.
	Tool *catalog.ToolConfig
	// Arguments is the validated argument document.
	Arguments map[string]any
	// ExecutionID correlates the run with its audit record.
	ExecutionID string
	// Timeout is the effective deadline for this invocation.
	Timeout time.Duration
	// OnRunning fires once the backend has started the work.
	OnRunning func()
}

// Result is the classified outcome of one invocation.
type Result struct {
	// Code is empty on success, otherwise one of the protocol error codes.
	Code string
	// Output is the parsed result document.
	Output any
	// Message is a short failure description.
	Message string
	// Diagnostic carries captured stderr or response text that did not
	// decide the outcome.
	Diagnostic string
	// ExitCode is the process exit code, -1 when unknown.
	ExitCode int
	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Code == ""
}

// Executor executes one tool invocation.
type Executor interface {
	// Execute runs the invocation and classifies its outcome. It never
	// returns before the backend has finished or been terminated.
	Execute(ctx context.Context, req Request) Result
}
