package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greetingSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []any{"name"},
	}
}

func fieldPaths(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	paths := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		paths = append(paths, fe.Path)
	}
	return paths
}

func TestValidateAccepts(t *testing.T) {
	out, err := Validate(greetingSchema(), map[string]any{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "World"}, out)
}

func TestValidateMissingRequiredNamesField(t *testing.T) {
	_, err := Validate(greetingSchema(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, fieldPaths(t, err), "name")
}

func TestValidateEnumeratesEveryFailure(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
			"tags":  map[string]any{"type": "array"},
		},
		"required": []any{"name", "count"},
	}

	_, err := Validate(schema, map[string]any{
		"count": "three",
		"tags":  42,
	})
	require.Error(t, err)

	paths := fieldPaths(t, err)
	assert.ElementsMatch(t, []string{"name", "count", "tags"}, paths)
}

func TestValidateAppliesDefaults(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"greet": map[string]any{"type": "string", "default": "Hello"},
		},
		"required": []any{"name"},
	}

	out, err := Validate(schema, map[string]any{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out["greet"])
}

func TestValidateUnknownKeys(t *testing.T) {
	open := greetingSchema()
	out, err := Validate(open, map[string]any{"name": "World", "extra": true})
	require.NoError(t, err)
	assert.Equal(t, true, out["extra"], "unknown keys pass through on open schemas")

	closed := greetingSchema()
	closed["additionalProperties"] = false
	_, err = Validate(closed, map[string]any{"name": "World", "extra": true})
	require.Error(t, err)
	assert.Contains(t, fieldPaths(t, err), "extra")
}

func TestValidateNestedObjectsAndArrays(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"address": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"city": map[string]any{"type": "string"},
						},
						"required": []any{"city"},
					},
				},
				"required": []any{"address"},
			},
			"items": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
	}

	_, err := Validate(schema, map[string]any{
		"user":  map[string]any{"address": map[string]any{}},
		"items": []any{1, 2, "x"},
	})
	require.Error(t, err)

	paths := fieldPaths(t, err)
	assert.Contains(t, paths, "user.address.city")
	assert.Contains(t, paths, "items[2]")
}

func TestValidateConstraints(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"replicas": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			"env":      map[string]any{"type": "string", "enum": []any{"dev", "prod"}},
			"slug":     map[string]any{"type": "string", "pattern": "^[a-z-]+$", "maxLength": 10},
		},
	}

	out, err := Validate(schema, map[string]any{"replicas": float64(3), "env": "dev", "slug": "ok-slug"})
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["replicas"])

	_, err = Validate(schema, map[string]any{
		"replicas": float64(0),
		"env":      "staging",
		"slug":     "Not Valid Because Long",
	})
	require.Error(t, err)
	paths := fieldPaths(t, err)
	assert.ElementsMatch(t, []string{"replicas", "env", "slug", "slug"}, paths)
}

func TestValidateIntegerRejectsFraction(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
	}

	out, err := Validate(schema, map[string]any{"count": float64(4)})
	require.NoError(t, err)
	assert.Equal(t, float64(4), out["count"])

	_, err = Validate(schema, map[string]any{"count": 4.5})
	require.Error(t, err)
}

func TestValidateDoesNotMutateInputs(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"opts": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mode": map[string]any{"type": "string", "default": "fast"},
				},
			},
		},
	}
	args := map[string]any{"opts": map[string]any{}}

	out, err := Validate(schema, args)
	require.NoError(t, err)

	out["opts"].(map[string]any)["mode"] = "changed"
	assert.Empty(t, args["opts"].(map[string]any), "caller arguments must stay untouched")
}

func TestValidateEmptySchemaAcceptsAnything(t *testing.T) {
	out, err := Validate(nil, map[string]any{"anything": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"anything": 1}, out)
}
