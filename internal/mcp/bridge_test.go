package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/capability"
	"github.com/askdb/askdb/internal/wire"
)

func TestInputSchema(t *testing.T) {
	schema := inputSchema(capability.Descriptor{
		Name: "run_sql_query",
		Parameters: map[string]capability.ParamSpec{
			"sql":   {Type: "string", Description: "One SQL statement.", Required: true},
			"limit": {Type: "integer"},
		},
	})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"sql"}, schema["required"])

	props := schema["properties"].(map[string]any)
	require.Contains(t, props, "sql")
	require.Contains(t, props, "limit")
	assert.Equal(t, "string", props["sql"].(map[string]string)["type"])
}

func TestInputSchemaWithoutParameters(t *testing.T) {
	schema := inputSchema(capability.Descriptor{Name: "describe_schema"})
	assert.NotContains(t, schema, "required")
}

func TestMarshalResult(t *testing.T) {
	text, err := marshalResult(wire.InvocationResult{
		Status:  wire.StatusSuccess,
		Columns: []string{"n"},
		Rows:    []map[string]any{{"n": 3}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"columns":["n"],"rows":[{"n":3}]}`, text)
}

func TestNewServerRegistersCapabilities(t *testing.T) {
	r := capability.NewRegistry(nil)
	r.Register(capability.Descriptor{Name: "run_sql_query"}, nil)

	srv := NewServer(r)
	require.NotNil(t, srv)
}
