package executor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiops-tools/toolexec/internal/protocol"
	"github.com/aiops-tools/toolexec/internal/runner"
)

func completed(exitCode int, stdout, stderr string) runner.Outcome {
	return runner.Outcome{
		Kind:     runner.Completed,
		ExitCode: exitCode,
		Stdout:   []byte(stdout),
		Stderr:   []byte(stderr),
		Elapsed:  10 * time.Millisecond,
	}
}

func TestInterpretSuccess(t *testing.T) {
	res := Interpret(completed(0, `{"value": 42}`, ""))
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"value": float64(42)}, res.Output)
	assert.Empty(t, res.Diagnostic)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 10*time.Millisecond, res.Elapsed)
}

func TestInterpretSuccessKeepsStderrAsDiagnostic(t *testing.T) {
	res := Interpret(completed(0, `{"ok": true}`, "warning: deprecated flag\n"))
	require.True(t, res.OK())
	assert.Equal(t, "warning: deprecated flag", res.Diagnostic)
}

func TestInterpretScalarDocumentIsValid(t *testing.T) {
	res := Interpret(completed(0, "42\n", ""))
	require.True(t, res.OK())
	assert.Equal(t, float64(42), res.Output)
}

func TestInterpretMalformedOutput(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
	}{
		{"empty stdout", ""},
		{"whitespace only", "   \n"},
		{"invalid json", "hello world"},
		{"two documents", `{"a":1}{"b":2}`},
		{"trailing garbage", `{"a":1} trailing`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Interpret(completed(0, tc.stdout, ""))
			assert.Equal(t, protocol.CodeMalformedOutput, res.Code)
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestInterpretTruncatedOutput(t *testing.T) {
	out := completed(0, `{"partial":`, "")
	out.Truncated = true
	res := Interpret(out)
	assert.Equal(t, protocol.CodeMalformedOutput, res.Code)
	assert.Contains(t, res.Message, "capture limit")
}

func TestInterpretRuntimeFailure(t *testing.T) {
	t.Run("stderr is the primary message", func(t *testing.T) {
		res := Interpret(completed(3, `{"ignored":true}`, "boom: stage two failed\n"))
		assert.Equal(t, protocol.CodeExecutionFailed, res.Code)
		assert.Equal(t, "boom: stage two failed", res.Message)
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("stdout is the fallback message", func(t *testing.T) {
		res := Interpret(completed(2, "wrote this before dying", ""))
		assert.Equal(t, protocol.CodeExecutionFailed, res.Code)
		assert.Equal(t, "wrote this before dying", res.Message)
	})

	t.Run("silent failure", func(t *testing.T) {
		res := Interpret(completed(1, "", ""))
		assert.Equal(t, protocol.CodeExecutionFailed, res.Code)
		assert.Equal(t, "unknown error", res.Message)
	})

	t.Run("long stderr is clipped", func(t *testing.T) {
		res := Interpret(completed(1, "", strings.Repeat("x", 2000)))
		assert.Len(t, res.Message, messageLimit+3)
		assert.True(t, strings.HasSuffix(res.Message, "..."))
	})
}

func TestInterpretTimeout(t *testing.T) {
	out := runner.Outcome{
		Kind:    runner.TimedOut,
		Stderr:  []byte("still working\n"),
		Elapsed: 5 * time.Second,
	}
	res := Interpret(out)
	assert.Equal(t, protocol.CodeExecutionTimeout, res.Code)
	assert.Equal(t, "still working", res.Diagnostic)
}

func TestInterpretSpawnFailure(t *testing.T) {
	res := Interpret(runner.SpawnFailure(errors.New("start /bin/missing: no such file or directory")))
	assert.Equal(t, protocol.CodeSpawn, res.Code)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Message, "no such file")
}
