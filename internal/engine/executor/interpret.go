package executor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aiops-tools/toolexec/internal/protocol"
	"github.com/aiops-tools/toolexec/internal/runner"
)

// messageLimit caps the failure message taken from captured output.
const messageLimit = 500

// Interpret classifies a finished process run. Exit code zero with exactly
// one JSON document on stdout is a success; stderr from a successful run is
// kept as a diagnostic and never fails the invocation.
func Interpret(out runner.Outcome) Result {
	res := Result{ExitCode: out.ExitCode, Elapsed: out.Elapsed}
	stderrText := strings.TrimSpace(string(out.Stderr))

	switch out.Kind {
	case runner.SpawnFailed:
		res.Code = protocol.CodeSpawn
		if out.SpawnErr != nil {
			res.Message = out.SpawnErr.Error()
		}
		return res
	case runner.TimedOut:
		res.Code = protocol.CodeExecutionTimeout
		res.Diagnostic = stderrText
		return res
	}

	if out.ExitCode != 0 {
		res.Code = protocol.CodeExecutionFailed
		msg := stderrText
		if msg == "" {
			msg = strings.TrimSpace(string(out.Stdout))
		}
		if msg == "" {
			msg = "unknown error"
		}
		res.Message = clip(msg, messageLimit)
		res.Diagnostic = stderrText
		return res
	}

	doc, err := decodeSingleJSON(out.Stdout)
	if err != nil {
		res.Code = protocol.CodeMalformedOutput
		res.Message = err.Error()
		if out.Truncated {
			res.Message = "tool output exceeded the capture limit before a complete JSON document was read"
		}
		res.Diagnostic = stderrText
		return res
	}

	res.Output = doc
	res.Diagnostic = stderrText
	return res
}

// decodeSingleJSON parses data as exactly one JSON document.
func decodeSingleJSON(data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("tool produced no output")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("tool output is not valid JSON: %w", err)
	}
	if dec.More() {
		return nil, errors.New("tool produced more than one JSON document")
	}
	return doc, nil
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
