package catalog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/aiops-tools/toolexec/internal/constants"
)

var toolNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

const maxToolNameLength = 100

// Validate applies defaults and verifies required fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("catalog is nil")
	}
	if cfg.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if cfg.Server.Version == "" {
		return fmt.Errorf("server.version is required")
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "http"
	}
	switch cfg.Server.Transport {
	case "http", "stdio":
	default:
		return fmt.Errorf("server.transport must be http or stdio")
	}
	if strings.TrimSpace(cfg.Server.HTTP.Listen) == "" {
		cfg.Server.HTTP.Listen = ":8083"
	}
	if cfg.Server.HTTP.Path == "" {
		cfg.Server.HTTP.Path = "/mcp"
	}

	for i, hook := range cfg.Server.StartupHooks {
		if strings.TrimSpace(hook.Command) == "" {
			return fmt.Errorf("server.startup_hooks[%d].command is required", i)
		}
		if strings.TrimSpace(hook.Timeout) != "" {
			if _, err := time.ParseDuration(hook.Timeout); err != nil {
				return fmt.Errorf("server.startup_hooks[%d].timeout is invalid: %w", i, err)
			}
		}
	}

	toolNames := map[string]struct{}{}
	for i := range cfg.Tools {
		if err := validateTool(&cfg.Tools[i]); err != nil {
			return fmt.Errorf("tools[%d]: %w", i, err)
		}
		if _, exists := toolNames[cfg.Tools[i].Name]; exists {
			return fmt.Errorf("duplicate tool name: %s", cfg.Tools[i].Name)
		}
		toolNames[cfg.Tools[i].Name] = struct{}{}
	}

	return nil
}

func validateTool(tool *ToolConfig) error {
	if tool.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(tool.Name) > maxToolNameLength {
		return fmt.Errorf("name %s exceeds %d characters", tool.Name, maxToolNameLength)
	}
	if !toolNameRe.MatchString(tool.Name) {
		return fmt.Errorf("name must match %s: %s", toolNameRe.String(), tool.Name)
	}

	if tool.Status == "" {
		tool.Status = constants.ToolStatusActive
	}
	if !slices.Contains(constants.ToolStatuses, tool.Status) {
		return fmt.Errorf("status %s is not one of %s", tool.Status, strings.Join(constants.ToolStatuses, ", "))
	}

	if tool.Version == 0 {
		tool.Version = 1
	}
	if tool.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}

	if strings.TrimSpace(tool.Timeout) != "" {
		timeout, err := time.ParseDuration(tool.Timeout)
		if err != nil {
			return fmt.Errorf("timeout is invalid: %w", err)
		}
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
	}
	if tool.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must be >= 0")
	}
	if tool.RatePerMinute < 0 {
		return fmt.Errorf("rate_per_minute must be >= 0")
	}
	if tool.Cache.Enabled && strings.TrimSpace(tool.Cache.TTL) != "" {
		if _, err := time.ParseDuration(tool.Cache.TTL); err != nil {
			return fmt.Errorf("cache.ttl is invalid: %w", err)
		}
	}

	if tool.Executor.Type == "" {
		tool.Executor.Type = constants.ExecutorProcess
	}
	switch tool.Executor.Type {
	case constants.ExecutorProcess:
		if strings.TrimSpace(tool.Script) == "" {
			return fmt.Errorf("script is required for process tools")
		}
		if len(tool.Executor.Interpreter) == 0 {
			tool.Executor.Interpreter = []string{"/bin/sh"}
		}
	case constants.ExecutorHTTP:
		if err := validateEndpointURL(tool.Executor.URL); err != nil {
			return fmt.Errorf("executor.url is invalid: %w", err)
		}
	default:
		return fmt.Errorf("unknown executor type: %s", tool.Executor.Type)
	}

	if err := validateSchema(tool.InputSchema); err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}
	if err := validateSchema(tool.OutputSchema); err != nil {
		return fmt.Errorf("output_schema: %w", err)
	}

	return nil
}

// validateSchema checks that a declared schema is a well-formed JSON Schema
// with an object root, and that every declared pattern compiles.
func validateSchema(raw map[string]any) error {
	if raw == nil {
		return nil
	}
	if rootType, ok := raw["type"].(string); ok && rootType != "object" {
		return fmt.Errorf("root type must be object, got %s", rootType)
	}

	if err := validatePatterns("", raw); err != nil {
		return err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	var parsed jsonschema.Schema
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("schema is not valid JSON Schema: %w", err)
	}
	if _, err := parsed.Resolve(nil); err != nil {
		return fmt.Errorf("schema does not resolve: %w", err)
	}
	return nil
}

func validatePatterns(path string, node map[string]any) error {
	if pattern, ok := node["pattern"].(string); ok && pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("pattern at %s does not compile: %w", displayPath(path), err)
		}
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				if err := validatePatterns(path+"."+name, subMap); err != nil {
					return err
				}
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		if err := validatePatterns(path+"[]", items); err != nil {
			return err
		}
	}
	return nil
}

func displayPath(path string) string {
	trimmed := strings.TrimPrefix(path, ".")
	if trimmed == "" {
		return "root"
	}
	return trimmed
}

func validateEndpointURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("url must be absolute")
	}
	return nil
}
