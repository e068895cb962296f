package schema

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// FieldError describes one failing field in a rejected argument mapping.
type FieldError struct {
	// Path locates the field, e.g. "user.address.city" or "items[2]".
	Path string
	// Message explains the violated constraint.
	Message string
}

// ValidationError rejects an argument mapping and enumerates every failing
// field, not just the first one.
type ValidationError struct {
	Errors []FieldError
}

// Error summarizes the rejection with all field paths.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "input validation failed"
	}
	paths := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		paths = append(paths, fe.Path)
	}
	return fmt.Sprintf("input validation failed: %d field(s) rejected: %s", len(e.Errors), strings.Join(paths, ", "))
}

// Validate checks arguments against a JSON-Schema-like object declaration.
// It returns a new, possibly-defaulted argument mapping on success. The
// input maps are never mutated. Unknown top-level keys pass through unless
// the schema declares additionalProperties: false.
//
// Supported subset: object root, typed properties (string, number, integer,
// boolean, array, object, null), required, default, enum, pattern,
// minLength/maxLength, minimum/maximum, minItems/maxItems, nested
// properties and items.
func Validate(schema map[string]any, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	if len(schema) == 0 {
		return deepCopyMap(args), nil
	}

	v := &validator{}
	out := v.validateObject("", schema, args)
	if len(v.errors) > 0 {
		return nil, &ValidationError{Errors: v.errors}
	}
	return out, nil
}

type validator struct {
	errors []FieldError
}

func (v *validator) addf(path, format string, args ...any) {
	v.errors = append(v.errors, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validateObject(path string, schema map[string]any, value map[string]any) map[string]any {
	props := subSchemas(schema["properties"])

	for _, name := range stringSlice(schema["required"]) {
		if _, ok := value[name]; !ok {
			v.addf(joinPath(path, name), "missing required field")
		}
	}

	closed := false
	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		closed = true
	}

	out := make(map[string]any, len(value))
	for key, item := range value {
		prop, declared := props[key]
		if !declared {
			if closed {
				v.addf(joinPath(path, key), "unknown field is not allowed")
				continue
			}
			out[key] = deepCopyValue(item)
			continue
		}
		out[key] = v.validateValue(joinPath(path, key), prop, item)
	}

	for name, prop := range props {
		if _, present := value[name]; present {
			continue
		}
		if def, ok := prop["default"]; ok {
			out[name] = deepCopyValue(def)
		}
	}

	return out
}

func (v *validator) validateValue(path string, schema map[string]any, value any) any {
	typeName, _ := schema["type"].(string)
	if typeName != "" && !matchesType(value, typeName) {
		v.addf(path, "expected %s, got %s", typeName, describeType(value))
		return deepCopyValue(value)
	}

	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 && !enumContains(enum, value) {
		v.addf(path, "value is not one of the allowed values")
	}

	switch typeName {
	case "object":
		if nested, ok := value.(map[string]any); ok {
			return v.validateObject(path, schema, nested)
		}
	case "array":
		arr, _ := value.([]any)
		if min, ok := intConstraint(schema["minItems"]); ok && len(arr) < min {
			v.addf(path, "must contain at least %d item(s)", min)
		}
		if max, ok := intConstraint(schema["maxItems"]); ok && len(arr) > max {
			v.addf(path, "must contain at most %d item(s)", max)
		}
		items, hasItems := anyMap(schema["items"])
		out := make([]any, len(arr))
		for i, item := range arr {
			if hasItems {
				out[i] = v.validateValue(fmt.Sprintf("%s[%d]", path, i), items, item)
				continue
			}
			out[i] = deepCopyValue(item)
		}
		return out
	case "string":
		str, _ := value.(string)
		if min, ok := intConstraint(schema["minLength"]); ok && len(str) < min {
			v.addf(path, "must be at least %d character(s) long", min)
		}
		if max, ok := intConstraint(schema["maxLength"]); ok && len(str) > max {
			v.addf(path, "must be at most %d character(s) long", max)
		}
		if pattern, ok := schema["pattern"].(string); ok && pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				v.addf(path, "schema pattern is invalid")
			} else if !re.MatchString(str) {
				v.addf(path, "does not match pattern %s", pattern)
			}
		}
	case "number", "integer":
		num, _ := toFloat(value)
		if min, ok := floatConstraint(schema["minimum"]); ok && num < min {
			v.addf(path, "must be >= %v", min)
		}
		if max, ok := floatConstraint(schema["maximum"]); ok && num > max {
			v.addf(path, "must be <= %v", max)
		}
	}

	return deepCopyValue(value)
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func subSchemas(value any) map[string]map[string]any {
	raw, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]map[string]any, len(raw))
	for key, item := range raw {
		if prop, ok := item.(map[string]any); ok {
			out[key] = prop
		}
	}
	return out
}

func anyMap(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	return m, ok
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func matchesType(value any, typeName string) bool {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "null":
		return value == nil
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		num, ok := toFloat(value)
		return ok && num == math.Trunc(num)
	default:
		return true
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func intConstraint(value any) (int, bool) {
	num, ok := toFloat(value)
	if !ok {
		return 0, false
	}
	return int(num), true
}

func floatConstraint(value any) (float64, bool) {
	return toFloat(value)
}

func enumContains(enum []any, value any) bool {
	for _, allowed := range enum {
		if equalValues(allowed, value) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return a == b
}

func describeType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case float64, float32, int, int32, int64, uint64:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func deepCopyMap(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for key, item := range value {
		out[key] = deepCopyValue(item)
	}
	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return value
	}
}
