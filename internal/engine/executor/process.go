package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aiops-tools/toolexec/internal/runner"
)

// Process executes a tool as an isolated child process.
type Process struct {
	// Runner launches and supervises the child process.
	Runner *runner.Runner
}

// Execute spawns the tool process, feeds the argument document on stdin and
// classifies the run once it finishes or hits the deadline.
func (p Process) Execute(ctx context.Context, req Request) Result {
	input, err := json.Marshal(req.Arguments)
	if err != nil {
		return Interpret(runner.SpawnFailure(fmt.Errorf("encode arguments: %w", err)))
	}

	proc, err := p.Runner.Start(runner.Spec{
		Tool:        req.Tool.Name,
		ExecutionID: req.ExecutionID,
		Interpreter: req.Tool.Executor.Interpreter,
		Script:      req.Tool.Script,
		Env:         req.Tool.Executor.Env,
		Stdin:       input,
	})
	if err != nil {
		return Interpret(runner.SpawnFailure(err))
	}

	if req.OnRunning != nil {
		req.OnRunning()
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	return Interpret(proc.Wait(runCtx))
}
