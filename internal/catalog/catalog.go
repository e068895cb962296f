package catalog

import (
	"errors"
	"fmt"
	"maps"

	"github.com/aiops-tools/toolexec/internal/constants"
)

// ErrToolNotFound reports that no tool matches the requested name or version.
var ErrToolNotFound = errors.New("tool not found")

// StateError reports a tool whose lifecycle status forbids execution.
type StateError struct {
	// Tool is the tool name.
	Tool string
	// Status is the tool's current lifecycle status.
	Status string
}

// Error describes the forbidden state.
func (e *StateError) Error() string {
	return fmt.Sprintf("tool %s is %s and cannot be executed", e.Tool, e.Status)
}

// Catalog provides read-only tool lookups for the execution engine.
// Lookups return deep copies so a pinned definition never observes later
// catalog changes.
type Catalog struct {
	server ServerConfig
	byName map[string]*ToolConfig
	order  []string
}

// New builds a Catalog from a validated Config.
func New(cfg *Config) *Catalog {
	c := &Catalog{
		server: cfg.Server,
		byName: make(map[string]*ToolConfig, len(cfg.Tools)),
		order:  make([]string, 0, len(cfg.Tools)),
	}
	for i := range cfg.Tools {
		tool := cfg.Tools[i]
		c.byName[tool.Name] = &tool
		c.order = append(c.order, tool.Name)
	}
	return c
}

// Server returns the server settings.
func (c *Catalog) Server() ServerConfig {
	return c.server
}

// Tools returns copies of every tool definition in declaration order.
func (c *Catalog) Tools() []ToolConfig {
	out := make([]ToolConfig, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, copyTool(c.byName[name]))
	}
	return out
}

// ForExecution returns an immutable snapshot of the tool to execute.
// A zero version matches whatever version the catalog holds; a non-zero
// version must match exactly. Draft and disabled tools are not executable.
func (c *Catalog) ForExecution(name string, version int) (*ToolConfig, error) {
	tool, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if version != 0 && version != tool.Version {
		return nil, fmt.Errorf("%w: %s version %d (catalog holds %d)", ErrToolNotFound, name, version, tool.Version)
	}
	switch tool.Status {
	case constants.ToolStatusActive, constants.ToolStatusDeprecated:
	default:
		return nil, &StateError{Tool: name, Status: tool.Status}
	}
	snapshot := copyTool(tool)
	return &snapshot, nil
}

func copyTool(tool *ToolConfig) ToolConfig {
	out := *tool
	out.Tags = append([]string(nil), tool.Tags...)
	out.InputSchema = copySchemaMap(tool.InputSchema)
	out.OutputSchema = copySchemaMap(tool.OutputSchema)
	out.Executor.Interpreter = append([]string(nil), tool.Executor.Interpreter...)
	out.Executor.Env = maps.Clone(tool.Executor.Env)
	out.Executor.Headers = maps.Clone(tool.Executor.Headers)
	return out
}

func copySchemaMap(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for key, item := range value {
		out[key] = copySchemaValue(item)
	}
	return out
}

func copySchemaValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return copySchemaMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = copySchemaValue(item)
		}
		return out
	default:
		return value
	}
}
