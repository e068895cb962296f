package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aiops-tools/toolexec/internal/protocol"
)

// httpBodyLimit caps how much of an executor response is read.
const httpBodyLimit = 1 << 20

// HTTP forwards an invocation to an external executor service. The service
// receives the argument document as JSON and must answer a 2xx status with
// exactly one JSON document, the same contract a process tool honors on
// stdout.
type HTTP struct {
	// URL is the executor endpoint.
	URL string
	// Method overrides the HTTP method, default POST.
	Method string
	// Headers adds HTTP headers.
	Headers map[string]string
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

type httpPayload struct {
	Tool        string         `json:"tool"`
	Version     int            `json:"version"`
	ExecutionID string         `json:"execution_id"`
	Arguments   map[string]any `json:"arguments"`
	TimeoutSec  int            `json:"timeout_sec,omitempty"`
}

// Execute posts the invocation to the executor endpoint and classifies the
// response.
func (h HTTP) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	fail := func(code, message, diagnostic string) Result {
		return Result{Code: code, Message: message, Diagnostic: diagnostic, ExitCode: -1, Elapsed: time.Since(start)}
	}

	payload := httpPayload{
		Tool:        req.Tool.Name,
		Version:     req.Tool.Version,
		ExecutionID: req.ExecutionID,
		Arguments:   req.Arguments,
	}
	if req.Timeout > 0 {
		payload.TimeoutSec = int(req.Timeout.Seconds())
		if payload.TimeoutSec < 1 {
			payload.TimeoutSec = 1
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fail(protocol.CodeSpawn, fmt.Sprintf("encode request: %v", err), "")
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := strings.ToUpper(strings.TrimSpace(h.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(runCtx, method, h.URL, bytes.NewReader(body))
	if err != nil {
		return fail(protocol.CodeSpawn, fmt.Sprintf("build request: %v", err), "")
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range h.Headers {
		request.Header.Set(key, value)
	}

	if req.OnRunning != nil {
		req.OnRunning()
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(request)
	if err != nil {
		if runCtx.Err() != nil {
			return fail(protocol.CodeExecutionTimeout, "", "")
		}
		return fail(protocol.CodeSpawn, fmt.Sprintf("executor request failed: %v", err), "")
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
	text := strings.TrimSpace(string(data))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res := fail(protocol.CodeExecutionFailed, fmt.Sprintf("executor status %d", resp.StatusCode), text)
		res.ExitCode = resp.StatusCode
		return res
	}

	doc, err := decodeSingleJSON(data)
	if err != nil {
		return fail(protocol.CodeMalformedOutput, err.Error(), text)
	}
	return Result{Output: doc, Elapsed: time.Since(start)}
}
