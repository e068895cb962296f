// Package httpapi exposes the REST surface for asynchronous tool
// execution: submit, poll, list and cancel, plus the tool listing.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aiops-tools/toolexec/internal/engine"
	"github.com/aiops-tools/toolexec/internal/ledger"
	"github.com/aiops-tools/toolexec/internal/protocol"
	"github.com/aiops-tools/toolexec/internal/templates"
)

// maxBodyBytes bounds the accepted request body size.
const maxBodyBytes = 1 << 20

// restCallerID marks invocations that arrive without a caller_id.
const restCallerID = "rest"

// API serves the execution REST endpoints.
type API struct {
	logger    *slog.Logger
	engine    *engine.Engine
	templates templates.Renderer
}

// New returns an API bound to the engine.
func New(logger *slog.Logger, eng *engine.Engine, tmpl templates.Renderer) *API {
	return &API{logger: logger, engine: eng, templates: tmpl}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tools/{tool}/executions", a.handleSubmit)
	mux.HandleFunc("GET /api/v1/tools", a.handleListTools)
	mux.HandleFunc("GET /api/v1/executions", a.handleList)
	mux.HandleFunc("GET /api/v1/executions/{id}", a.handleGet)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", a.handleCancel)
}

// SubmitRequest is the JSON body for POST /api/v1/tools/{tool}/executions.
type SubmitRequest struct {
	Version         int            `json:"version,omitempty"`
	Arguments       map[string]any `json:"arguments"`
	CallerID        string         `json:"caller_id,omitempty"`
	TraceID         string         `json:"trace_id,omitempty"`
	TimeoutOverride string         `json:"timeout_override,omitempty"`
}

// ExecutionResponse is the JSON projection of one execution record.
type ExecutionResponse struct {
	ID          string                `json:"id"`
	Tool        string                `json:"tool"`
	ToolVersion int                   `json:"tool_version"`
	Status      string                `json:"status"`
	CallerID    string                `json:"caller_id,omitempty"`
	TraceID     string                `json:"trace_id,omitempty"`
	Input       map[string]any        `json:"input,omitempty"`
	Output      any                   `json:"output,omitempty"`
	Error       *protocol.ErrorDetail `json:"error,omitempty"`
	CreatedAt   string                `json:"created_at"`
	StartedAt   string                `json:"started_at,omitempty"`
	CompletedAt string                `json:"completed_at,omitempty"`
	DurationMS  *int64                `json:"duration_ms,omitempty"`
}

// ListResponse is the JSON response for GET /api/v1/executions.
type ListResponse struct {
	Executions []ExecutionResponse `json:"executions"`
	NextCursor string              `json:"next_cursor,omitempty"`
	HasMore    bool                `json:"has_more"`
}

// ToolInfo is the JSON projection of one catalog tool.
type ToolInfo struct {
	Name         string         `json:"name"`
	DisplayName  string         `json:"display_name,omitempty"`
	Description  string         `json:"description,omitempty"`
	Status       string         `json:"status"`
	Category     string         `json:"category,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Version      int            `json:"version"`
	Timeout      string         `json:"timeout,omitempty"`
	Executor     string         `json:"executor"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

// ListToolsResponse is the JSON response for GET /api/v1/tools.
type ListToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
}

// ErrorResponse wraps the structured error payload.
type ErrorResponse struct {
	Error *protocol.ErrorDetail `json:"error"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	toolName := r.PathValue("tool")

	var req SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.writeError(w, http.StatusRequestEntityTooLarge, &protocol.ErrorDetail{
				Code:    protocol.CodeValidation,
				Message: "request body is too large",
			})
			return
		}
		a.writeError(w, http.StatusBadRequest, &protocol.ErrorDetail{
			Code:    protocol.CodeValidation,
			Message: "request body is not valid JSON",
		})
		return
	}

	var override time.Duration
	if strings.TrimSpace(req.TimeoutOverride) != "" {
		d, err := time.ParseDuration(req.TimeoutOverride)
		if err != nil || d <= 0 {
			a.writeError(w, http.StatusBadRequest, &protocol.ErrorDetail{
				Code:    protocol.CodeValidation,
				Message: "timeout_override must be a positive duration, e.g. 5s",
			})
			return
		}
		override = d
	}

	callerID := req.CallerID
	if callerID == "" {
		callerID = restCallerID
	}

	id, err := a.engine.Submit(r.Context(), engine.InvokeRequest{
		Tool:            toolName,
		Version:         req.Version,
		Arguments:       req.Arguments,
		CallerID:        callerID,
		TraceID:         req.TraceID,
		TimeoutOverride: override,
	})
	if err != nil {
		var rejErr *engine.RejectedError
		if errors.As(err, &rejErr) {
			a.writeError(w, statusForCode(rejErr.Detail.Code), rejErr.Detail)
			return
		}
		a.logger.Error("submit execution", "tool", toolName, "error", err)
		a.internalError(w)
		return
	}

	rec, err := a.engine.Status(r.Context(), id)
	if err != nil {
		a.logger.Error("read submitted record", "execution_id", id, "error", err)
		a.internalError(w)
		return
	}
	a.writeJSON(w, http.StatusAccepted, executionResponse(rec))
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := a.engine.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			a.writeError(w, http.StatusNotFound, a.renderDetail(protocol.CodeExecutionNotFound, "execution_not_found", msgData{ExecutionID: id}))
			return
		}
		a.logger.Error("read record", "execution_id", id, "error", err)
		a.internalError(w)
		return
	}
	a.writeJSON(w, http.StatusOK, executionResponse(rec))
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{
		Tool:   q.Get("tool"),
		Status: ledger.Status(q.Get("status")),
		Cursor: q.Get("cursor"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			a.writeError(w, http.StatusBadRequest, &protocol.ErrorDetail{
				Code:    protocol.CodeValidation,
				Message: "limit must be a positive integer",
			})
			return
		}
		filter.Limit = limit
	}

	page, err := a.engine.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ledger.ErrBadFilter) {
			a.writeError(w, http.StatusBadRequest, &protocol.ErrorDetail{
				Code:    protocol.CodeValidation,
				Message: err.Error(),
			})
			return
		}
		a.logger.Error("list records", "error", err)
		a.internalError(w)
		return
	}

	resp := ListResponse{
		Executions: make([]ExecutionResponse, 0, len(page.Records)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for i := range page.Records {
		resp.Executions = append(resp.Executions, executionResponse(&page.Records[i]))
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := a.engine.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			a.writeError(w, http.StatusNotFound, a.renderDetail(protocol.CodeExecutionNotFound, "execution_not_found", msgData{ExecutionID: id}))
		case errors.Is(err, engine.ErrAlreadyFinished):
			a.writeError(w, http.StatusConflict, a.renderDetail(protocol.CodeInvalidState, "already_finished", msgData{
				ExecutionID: id,
				Status:      string(rec.Status),
			}))
		default:
			a.logger.Error("cancel execution", "execution_id", id, "error", err)
			a.internalError(w)
		}
		return
	}
	// The terminal transition lands asynchronously, report the record as
	// last observed.
	a.writeJSON(w, http.StatusAccepted, executionResponse(rec))
}

func (a *API) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := a.engine.Tools()
	resp := ListToolsResponse{Tools: make([]ToolInfo, 0, len(tools))}
	for _, tool := range tools {
		resp.Tools = append(resp.Tools, ToolInfo{
			Name:         tool.Name,
			DisplayName:  tool.DisplayName,
			Description:  tool.Description,
			Status:       tool.Status,
			Category:     tool.Category,
			Tags:         tool.Tags,
			Version:      tool.Version,
			Timeout:      tool.Timeout,
			Executor:     tool.Executor.Type,
			InputSchema:  tool.InputSchema,
			OutputSchema: tool.OutputSchema,
		})
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// statusForCode maps engine rejection codes to HTTP status codes.
func statusForCode(code string) int {
	switch code {
	case protocol.CodeValidation:
		return http.StatusBadRequest
	case protocol.CodeToolNotFound:
		return http.StatusNotFound
	case protocol.CodeInvalidState:
		return http.StatusConflict
	case protocol.CodeCapacityExceeded:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func executionResponse(rec *ledger.Record) ExecutionResponse {
	return ExecutionResponse{
		ID:          rec.ID,
		Tool:        rec.ToolName,
		ToolVersion: rec.ToolVersion,
		Status:      string(rec.Status),
		CallerID:    rec.CallerID,
		TraceID:     rec.TraceID,
		Input:       rec.Input,
		Output:      rec.Output,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:   formatOptionalTime(rec.StartedAt),
		CompletedAt: formatOptionalTime(rec.CompletedAt),
		DurationMS:  rec.DurationMS,
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// msgData feeds the localized message templates.
type msgData struct {
	ExecutionID string
	Status      string
}

func (a *API) renderDetail(code, key string, data msgData) *protocol.ErrorDetail {
	detail := &protocol.ErrorDetail{Code: code}
	if a.templates != nil {
		if text, err := a.templates.Render(key+".message", data); err == nil {
			detail.Message = text
		}
		if text, err := a.templates.Render(key+".suggestion", data); err == nil {
			detail.Suggestion = text
		}
	}
	if detail.Message == "" {
		detail.Message = code
	}
	return detail
}

func (a *API) internalError(w http.ResponseWriter) {
	a.writeError(w, http.StatusInternalServerError, &protocol.ErrorDetail{
		Code:    protocol.CodeInternal,
		Message: "internal execution engine error",
	})
}

func (a *API) writeError(w http.ResponseWriter, status int, detail *protocol.ErrorDetail) {
	a.writeJSON(w, status, ErrorResponse{Error: detail})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("encode response", "error", err)
	}
}
