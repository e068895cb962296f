package protocol

// Tool invocation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Stable error classifications surfaced to callers and stored on records.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeToolNotFound     = "TOOL_NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeSpawn            = "SPAWN_ERROR"
	CodeExecutionFailed  = "EXECUTION_FAILED"
	CodeMalformedOutput  = "MALFORMED_OUTPUT"
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"
	CodeCancelled        = "CANCELLED"
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeInternal         = "INTERNAL_ERROR"

	// CodeExecutionNotFound is returned by record lookups for unknown
	// execution ids.
	CodeExecutionNotFound = "EXECUTION_NOT_FOUND"
)

// ErrorDetail is the structured failure payload attached to responses
// and persisted on terminal execution records.
type ErrorDetail struct {
	// Code is the stable error classification.
	Code string `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Suggestion hints how the caller can fix or retry the request.
	Suggestion string `json:"suggestion,omitempty"`
	// Fields lists per-field validation problems.
	Fields []FieldIssue `json:"fields,omitempty"`
	// Details carries additional diagnostic context.
	Details map[string]any `json:"details,omitempty"`
}

// FieldIssue describes one failing field in a validation rejection.
type FieldIssue struct {
	// Path locates the field, e.g. "user.address.city" or "items[2]".
	Path string `json:"path"`
	// Message explains the violated constraint.
	Message string `json:"message"`
}

// ToolResponse is the fixed JSON result returned for one invocation.
type ToolResponse struct {
	// Status indicates the invocation status.
	Status string `json:"status"`
	// ExecutionID identifies the execution record, when one was created.
	ExecutionID string `json:"execution_id,omitempty"`
	// Result is the parsed tool output on success.
	Result any `json:"result,omitempty"`
	// Error describes the failure on non-success statuses.
	Error *ErrorDetail `json:"error,omitempty"`
	// Diagnostic carries non-fatal stderr output from a successful run.
	Diagnostic string `json:"diagnostic,omitempty"`
	// DurationMS is the observed execution duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// TraceID echoes the caller-provided trace identifier.
	TraceID string `json:"trace_id,omitempty"`
}
