// Package startup runs boot-time checks and hooks before the server
// starts accepting invocations.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aiops-tools/toolexec/internal/catalog"
	"github.com/aiops-tools/toolexec/internal/constants"
	"github.com/aiops-tools/toolexec/internal/executil"
)

// Preflight verifies that the interpreter binary of every invokable
// process tool resolves on this host. Draft and disabled tools are not
// invokable and do not block boot.
func Preflight(tools []catalog.ToolConfig, logger *slog.Logger) error {
	missing := map[string][]string{}
	for _, tool := range tools {
		switch tool.Status {
		case constants.ToolStatusDraft, constants.ToolStatusDisabled:
			continue
		}
		if tool.Executor.Type != constants.ExecutorProcess || len(tool.Executor.Interpreter) == 0 {
			continue
		}
		interpreter := tool.Executor.Interpreter[0]
		if _, err := exec.LookPath(interpreter); err != nil {
			missing[interpreter] = append(missing[interpreter], tool.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	interpreters := make([]string, 0, len(missing))
	for interpreter := range missing {
		interpreters = append(interpreters, interpreter)
	}
	sort.Strings(interpreters)
	problems := make([]string, 0, len(interpreters))
	for _, interpreter := range interpreters {
		tools := missing[interpreter]
		sort.Strings(tools)
		if logger != nil {
			logger.Error("interpreter not found", "interpreter", interpreter, "tools", tools)
		}
		problems = append(problems, fmt.Sprintf("%s (tools: %s)", interpreter, strings.Join(tools, ", ")))
	}
	return fmt.Errorf("missing interpreters: %s", strings.Join(problems, "; "))
}

// Run executes configured startup hooks sequentially.
func Run(ctx context.Context, hooks []catalog.HookConfig, logger *slog.Logger) error {
	for idx, hook := range hooks {
		if strings.TrimSpace(hook.Command) == "" {
			continue
		}
		hookCtx := ctx
		var cancel context.CancelFunc
		if strings.TrimSpace(hook.Timeout) != "" {
			timeout, err := time.ParseDuration(hook.Timeout)
			if err != nil {
				return fmt.Errorf("startup hook %d: invalid timeout: %w", idx, err)
			}
			hookCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		if logger != nil {
			logger.Info("running startup hook", "index", idx, "command", hook.Command)
		}

		output, _, err := executil.RunCommand(hookCtx, hook.Command, hook.Args, hook.Env)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if logger != nil && strings.TrimSpace(output) != "" {
				logger.Error("startup hook failed", "index", idx, "output", strings.TrimSpace(output))
			}
			return fmt.Errorf("startup hook %d failed: %w", idx, err)
		}
		if logger != nil && strings.TrimSpace(output) != "" {
			logger.Info("startup hook output", "index", idx, "output", strings.TrimSpace(output))
		}
	}
	return nil
}
