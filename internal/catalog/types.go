package catalog

// Config is the top-level YAML tool catalog.
type Config struct {
	// Server describes the server settings.
	Server ServerConfig `yaml:"server"`
	// Tools lists all tool definitions.
	Tools []ToolConfig `yaml:"tools"`
}

// ServerConfig defines server settings.
type ServerConfig struct {
	// Name is the server name.
	Name string `yaml:"name"`
	// Version is the server version.
	Version string `yaml:"version"`
	// Transport selects the agent-facing transport ("http" or "stdio").
	Transport string `yaml:"transport"`
	// ShutdownTimeout overrides graceful shutdown duration.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	// HTTP configures the HTTP transport.
	HTTP HTTPConfig `yaml:"http"`
	// StartupHooks defines one-time commands executed on start.
	StartupHooks []HookConfig `yaml:"startup_hooks"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// Path is the MCP HTTP endpoint path.
	Path string `yaml:"path"`
	// ReadTimeout limits request read time.
	ReadTimeout string `yaml:"read_timeout"`
	// WriteTimeout limits response write time.
	WriteTimeout string `yaml:"write_timeout"`
	// IdleTimeout controls idle connections.
	IdleTimeout string `yaml:"idle_timeout"`
	// Stateless disables MCP session tracking.
	Stateless bool `yaml:"stateless"`
}

// ToolConfig declares one registered tool.
type ToolConfig struct {
	// Name is the tool name, lowercase snake case.
	Name string `yaml:"name"`
	// DisplayName is the human-friendly tool title.
	DisplayName string `yaml:"display_name"`
	// Description explains the tool for the agent.
	Description string `yaml:"description"`
	// Status is the lifecycle status (draft, active, deprecated, disabled).
	Status string `yaml:"status"`
	// Category groups related tools.
	Category string `yaml:"category"`
	// Tags is an optional list of tags.
	Tags []string `yaml:"tags"`
	// Version is the monotonically increasing tool version.
	Version int `yaml:"version"`
	// Timeout is the per-tool execution deadline ceiling.
	Timeout string `yaml:"timeout"`
	// MaxConcurrent bounds concurrent executions of this tool. Zero means
	// only the global ceiling applies.
	MaxConcurrent int `yaml:"max_concurrent"`
	// RatePerMinute limits admissions per minute. Zero disables the limit.
	RatePerMinute int `yaml:"rate_per_minute"`
	// Cache configures result caching for idempotent tools.
	Cache CacheConfig `yaml:"cache"`
	// InputSchema declares the JSON Schema for tool input.
	InputSchema map[string]any `yaml:"input_schema"`
	// OutputSchema declares the advisory JSON Schema for tool output.
	OutputSchema map[string]any `yaml:"output_schema"`
	// Executor describes how the tool is executed.
	Executor ExecutorConfig `yaml:"executor"`
	// Script is the executable payload for process tools.
	Script string `yaml:"script"`
}

// ExecutorConfig defines how to execute a tool.
type ExecutorConfig struct {
	// Type selects the executor implementation ("process" or "http").
	Type string `yaml:"type"`
	// Interpreter is the interpreter argv for process tools, e.g. [python3].
	Interpreter []string `yaml:"interpreter"`
	// Env adds environment variables for process execution.
	Env map[string]string `yaml:"env"`
	// URL is the endpoint for http tools.
	URL string `yaml:"url"`
	// Method overrides the HTTP method for http tools.
	Method string `yaml:"method"`
	// Headers adds HTTP headers for http tools.
	Headers map[string]string `yaml:"headers"`
}

// CacheConfig configures result caching for repeated invocations.
type CacheConfig struct {
	// Enabled toggles caching of successful results.
	Enabled bool `yaml:"enabled"`
	// TTL controls how long cached results are kept.
	TTL string `yaml:"ttl"`
}

// HookConfig defines a startup hook command.
type HookConfig struct {
	// Command is the startup command to run.
	Command string `yaml:"command"`
	// Args are optional arguments.
	Args []string `yaml:"args"`
	// Env adds environment variables for the hook.
	Env map[string]string `yaml:"env"`
	// Timeout controls hook execution duration.
	Timeout string `yaml:"timeout"`
}
