package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactArguments(t *testing.T) {
	args := map[string]any{
		"name":        "World",
		"api_key":     "abc123",
		"secret_name": "db-creds",
		"nested": map[string]any{
			"password": "hunter2",
			"host":     "db.internal",
		},
		"servers": []any{
			map[string]any{"token": "t0", "region": "eu"},
		},
	}

	redacted := RedactArguments(args)

	assert.Equal(t, "World", redacted["name"])
	assert.Equal(t, "***", redacted["api_key"])
	assert.Equal(t, "db-creds", redacted["secret_name"], "secret references stay readable")

	nested := redacted["nested"].(map[string]any)
	assert.Equal(t, "***", nested["password"])
	assert.Equal(t, "db.internal", nested["host"])

	server := redacted["servers"].([]any)[0].(map[string]any)
	assert.Equal(t, "***", server["token"])
	assert.Equal(t, "eu", server["region"])

	// Originals stay untouched.
	assert.Equal(t, "abc123", args["api_key"])
}

func TestArgumentsDigestStable(t *testing.T) {
	a, err := ArgumentsDigest(map[string]any{"b": 2, "a": []any{1, "x"}})
	require.NoError(t, err)
	b, err := ArgumentsDigest(map[string]any{"a": []any{1, "x"}, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b, "key order must not change the digest")

	c, err := ArgumentsDigest(map[string]any{"a": []any{1, "y"}, "b": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	data, err := CanonicalJSON(map[string]any{"z": 1, "a": map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"k":"v"},"z":1}`, string(data))
}
