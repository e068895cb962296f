//go:build unix

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiops-tools/toolexec/internal/catalog"
	"github.com/aiops-tools/toolexec/internal/engine"
	"github.com/aiops-tools/toolexec/internal/ledger"
	"github.com/aiops-tools/toolexec/internal/protocol"
	"github.com/aiops-tools/toolexec/internal/runner"
	"github.com/aiops-tools/toolexec/internal/sched"
	"github.com/aiops-tools/toolexec/internal/templates"
)

const apiCatalog = `
server:
  name: toolexec-api-test
  version: 0.0.1
tools:
  - name: echo_json
    description: Echo the argument document back.
    input_schema:
      type: object
      properties:
        message:
          type: string
      required: [message]
      additionalProperties: false
    script: cat
  - name: sleepy_long
    description: Sleeps within a generous deadline.
    timeout: 30s
    script: sleep 30
  - name: future_tool
    status: draft
    description: Not ready yet.
    script: cat
`

func newTestMux(t *testing.T, schedOpts sched.Options) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := catalog.Load([]byte(apiCatalog))
	require.NoError(t, err)

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bundle, err := templates.Load("en")
	require.NoError(t, err)

	eng := engine.New(logger, engine.Options{
		Templates: bundle,
		Catalog:   catalog.New(cfg),
		Ledger:    store,
		Scheduler: sched.New(logger, schedOpts),
		Runner:    runner.New(logger, runner.Options{TerminationGrace: 150 * time.Millisecond}),
	})

	mux := http.NewServeMux()
	New(logger, eng, bundle).Register(mux)
	return mux
}

func defaultMux(t *testing.T) *http.ServeMux {
	t.Helper()
	return newTestMux(t, sched.Options{GlobalLimit: 4, QueueDepth: 8})
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func doRaw(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeExecution(t *testing.T, rr *httptest.ResponseRecorder) ExecutionResponse {
	t.Helper()
	var resp ExecutionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) *protocol.ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func waitForAPIStatus(t *testing.T, mux *http.ServeMux, id, want string) ExecutionResponse {
	t.Helper()
	var rec ExecutionResponse
	require.Eventually(t, func() bool {
		rr := doJSON(t, mux, http.MethodGet, "/api/v1/executions/"+id, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		rec = decodeExecution(t, rr)
		return rec.Status == want
	}, 10*time.Second, 20*time.Millisecond, "execution %s never reached %s", id, want)
	return rec
}

func TestSubmitAndPoll(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/tools/echo_json/executions", SubmitRequest{
		Arguments: map[string]any{"message": "hi"},
		CallerID:  "agent-7",
		TraceID:   "tr-1",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	submitted := decodeExecution(t, rr)
	require.NotEmpty(t, submitted.ID)
	assert.Equal(t, "echo_json", submitted.Tool)
	assert.Equal(t, "agent-7", submitted.CallerID)
	assert.Equal(t, "tr-1", submitted.TraceID)

	final := waitForAPIStatus(t, mux, submitted.ID, string(ledger.StatusSuccess))
	assert.Equal(t, map[string]any{"message": "hi"}, final.Output)
	require.NotNil(t, final.DurationMS)
	assert.NotEmpty(t, final.StartedAt)
	assert.NotEmpty(t, final.CompletedAt)
}

func TestSubmitValidationFailure(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/tools/echo_json/executions", SubmitRequest{
		Arguments: map[string]any{"message": 42},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	detail := decodeError(t, rr)
	assert.Equal(t, protocol.CodeValidation, detail.Code)
	require.Len(t, detail.Fields, 1)
	assert.Equal(t, "message", detail.Fields[0].Path)
}

func TestSubmitUnknownTool(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/tools/nope/executions", SubmitRequest{})
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, protocol.CodeToolNotFound, decodeError(t, rr).Code)
}

func TestSubmitDraftToolConflicts(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/tools/future_tool/executions", SubmitRequest{})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, protocol.CodeInvalidState, decodeError(t, rr).Code)
}

func TestSubmitBadRequestBodies(t *testing.T) {
	mux := defaultMux(t)

	rr := doRaw(t, mux, http.MethodPost, "/api/v1/tools/echo_json/executions", "{not json")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, protocol.CodeValidation, decodeError(t, rr).Code)

	rr = doJSON(t, mux, http.MethodPost, "/api/v1/tools/echo_json/executions", SubmitRequest{
		Arguments:       map[string]any{"message": "hi"},
		TimeoutOverride: "soon",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Message, "timeout_override")
}

func TestGetMissingExecution(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodGet, "/api/v1/executions/ghost", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	detail := decodeError(t, rr)
	assert.Equal(t, protocol.CodeExecutionNotFound, detail.Code)
	assert.Contains(t, detail.Message, "ghost")
}

func TestListPagination(t *testing.T) {
	mux := defaultMux(t)

	ids := make(map[string]bool)
	for range 3 {
		rr := doJSON(t, mux, http.MethodPost, "/api/v1/tools/echo_json/executions", SubmitRequest{
			Arguments: map[string]any{"message": "n"},
		})
		require.Equal(t, http.StatusAccepted, rr.Code)
		id := decodeExecution(t, rr).ID
		waitForAPIStatus(t, mux, id, string(ledger.StatusSuccess))
	}

	rr := doJSON(t, mux, http.MethodGet, "/api/v1/executions?tool=echo_json&limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Executions, 2)
	require.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)
	for _, e := range page.Executions {
		ids[e.ID] = true
	}

	rr = doJSON(t, mux, http.MethodGet, "/api/v1/executions?tool=echo_json&limit=2&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Executions, 1)
	assert.False(t, page.HasMore)
	for _, e := range page.Executions {
		ids[e.ID] = true
	}
	assert.Len(t, ids, 3, "every execution appears exactly once across pages")
}

func TestListRejectsBadFilters(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodGet, "/api/v1/executions?status=exploded", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, protocol.CodeValidation, decodeError(t, rr).Code)

	rr = doJSON(t, mux, http.MethodGet, "/api/v1/executions?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, mux, http.MethodGet, "/api/v1/executions?cursor=%21%21", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelFlow(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/tools/sleepy_long/executions", SubmitRequest{})
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decodeExecution(t, rr).ID

	waitForAPIStatus(t, mux, id, string(ledger.StatusRunning))

	rr = doJSON(t, mux, http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	waitForAPIStatus(t, mux, id, string(ledger.StatusCancelled))

	rr = doJSON(t, mux, http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	detail := decodeError(t, rr)
	assert.Equal(t, protocol.CodeInvalidState, detail.Code)
	assert.Contains(t, detail.Message, id)
	assert.Contains(t, detail.Message, "cancelled")

	rr = doJSON(t, mux, http.MethodPost, "/api/v1/executions/ghost/cancel", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, protocol.CodeExecutionNotFound, decodeError(t, rr).Code)
}

func TestSubmitCapacityExceeded(t *testing.T) {
	mux := newTestMux(t, sched.Options{GlobalLimit: 1, QueueDepth: 0})

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/tools/sleepy_long/executions", SubmitRequest{})
	require.Equal(t, http.StatusAccepted, rr.Code)
	heldID := decodeExecution(t, rr).ID
	waitForAPIStatus(t, mux, heldID, string(ledger.StatusRunning))

	rr = doJSON(t, mux, http.MethodPost, "/api/v1/tools/echo_json/executions", SubmitRequest{
		Arguments: map[string]any{"message": "full"},
	})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, protocol.CodeCapacityExceeded, decodeError(t, rr).Code)

	rr = doJSON(t, mux, http.MethodPost, "/api/v1/executions/"+heldID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	waitForAPIStatus(t, mux, heldID, string(ledger.StatusCancelled))
}

func TestListTools(t *testing.T) {
	mux := defaultMux(t)

	rr := doJSON(t, mux, http.MethodGet, "/api/v1/tools", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ListToolsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Tools, 3)

	byName := map[string]ToolInfo{}
	for _, tool := range resp.Tools {
		byName[tool.Name] = tool
	}
	echo := byName["echo_json"]
	assert.Equal(t, "active", echo.Status)
	assert.Equal(t, "process", echo.Executor)
	assert.Equal(t, 1, echo.Version)
	assert.NotNil(t, echo.InputSchema)
	assert.Equal(t, "draft", byName["future_tool"].Status)
}
