//go:build unix

package startup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiops-tools/toolexec/internal/catalog"
)

func processTool(name, status, interpreter string) catalog.ToolConfig {
	return catalog.ToolConfig{
		Name:   name,
		Status: status,
		Executor: catalog.ExecutorConfig{
			Type:        "process",
			Interpreter: []string{interpreter},
		},
	}
}

func TestPreflightAcceptsResolvableInterpreters(t *testing.T) {
	tools := []catalog.ToolConfig{
		processTool("alpha", "active", "/bin/sh"),
		processTool("beta", "deprecated", "sh"),
	}
	require.NoError(t, Preflight(tools, nil))
}

func TestPreflightReportsMissingInterpreters(t *testing.T) {
	tools := []catalog.ToolConfig{
		processTool("alpha", "active", "/nonexistent/python9"),
		processTool("beta", "active", "/nonexistent/python9"),
		processTool("gamma", "draft", "/nonexistent/ruby0"),
	}
	err := Preflight(tools, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "/nonexistent/python9")
	require.Contains(t, err.Error(), "alpha, beta")
	// Draft tools are not invokable, so their interpreters do not block boot.
	require.NotContains(t, err.Error(), "ruby0")
}

func TestRunExecutesHooksInOrder(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "order.txt")
	hooks := []catalog.HookConfig{
		{Command: "printf first >> " + marker},
		{Command: ""},
		{Command: "printf ,second >> " + marker},
	}
	require.NoError(t, Run(context.Background(), hooks, nil))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, "first,second", string(data))
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "never.txt")
	hooks := []catalog.HookConfig{
		{Command: "exit 9"},
		{Command: "touch " + marker},
	}
	err := Run(context.Background(), hooks, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "hook 0")
	require.NoFileExists(t, marker)
}

func TestRunEnforcesHookTimeout(t *testing.T) {
	hooks := []catalog.HookConfig{{Command: "sleep 30", Timeout: "100ms"}}
	start := time.Now()
	err := Run(context.Background(), hooks, nil)
	require.Error(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestRunRejectsBadTimeout(t *testing.T) {
	hooks := []catalog.HookConfig{{Command: "true", Timeout: "soon"}}
	err := Run(context.Background(), hooks, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid timeout")
}
