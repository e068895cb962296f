package constants

// Executor type aliases.
const (
	ExecutorProcess = "process"
	ExecutorHTTP    = "http"
)

// Tool lifecycle statuses.
const (
	ToolStatusDraft      = "draft"
	ToolStatusActive     = "active"
	ToolStatusDeprecated = "deprecated"
	ToolStatusDisabled   = "disabled"
)

// ToolStatuses lists every recognized tool lifecycle status.
var ToolStatuses = []string{
	ToolStatusDraft,
	ToolStatusActive,
	ToolStatusDeprecated,
	ToolStatusDisabled,
}
