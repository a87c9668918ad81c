package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/dbexec"
	"github.com/askdb/askdb/internal/wire"
)

func testRegistry(t *testing.T, h Handler) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	r.Register(Descriptor{
		Name:        "echo",
		Description: "test capability",
		Parameters: map[string]ParamSpec{
			"sql":   {Type: "string", Required: true},
			"limit": {Type: "integer"},
		},
	}, h)
	return r
}

func TestInvokeUnknownCapability(t *testing.T) {
	called := false
	r := testRegistry(t, func(context.Context, map[string]any) (*dbexec.Result, error) {
		called = true
		return &dbexec.Result{}, nil
	})

	result := r.Invoke(context.Background(), "req-1", "no_such_thing", nil)
	require.True(t, result.Failed())
	assert.Equal(t, KindUnknownCapability, result.Error.Kind)
	assert.Equal(t, "req-1", result.RequestID)
	assert.False(t, called, "handler must not run for an unknown capability")
}

func TestInvokeArgumentValidation(t *testing.T) {
	called := false
	r := testRegistry(t, func(context.Context, map[string]any) (*dbexec.Result, error) {
		called = true
		return &dbexec.Result{}, nil
	})
	ctx := context.Background()

	cases := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"sql": 42}},
		{"wrong optional type", map[string]any{"sql": "SELECT 1", "limit": "ten"}},
		{"unexpected param", map[string]any{"sql": "SELECT 1", "bogus": true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := r.Invoke(ctx, "req-2", "echo", tc.args)
			require.True(t, result.Failed())
			assert.Equal(t, KindInvalidArguments, result.Error.Kind)
			assert.False(t, called, "handler must not run with invalid arguments")
		})
	}
}

func TestInvokeSuccessWrapsResult(t *testing.T) {
	r := testRegistry(t, func(_ context.Context, args map[string]any) (*dbexec.Result, error) {
		return &dbexec.Result{
			Columns: []string{"b", "a"},
			Rows:    []map[string]any{{"a": int64(1), "b": "x"}},
		}, nil
	})

	result := r.Invoke(context.Background(), "req-3", "echo", map[string]any{"sql": "SELECT 1"})
	require.False(t, result.Failed())
	assert.Equal(t, wire.StatusSuccess, result.Status)
	assert.Equal(t, "req-3", result.RequestID)
	assert.Equal(t, []string{"b", "a"}, result.Columns)
	require.Len(t, result.Rows, 1)
}

func TestInvokeExecutionErrorBecomesFailedResult(t *testing.T) {
	r := testRegistry(t, func(context.Context, map[string]any) (*dbexec.Result, error) {
		return nil, &dbexec.Error{Kind: dbexec.KindSyntax, Message: `near "SELEC": syntax error`}
	})

	result := r.Invoke(context.Background(), "req-4", "echo", map[string]any{"sql": "SELEC 1"})
	require.True(t, result.Failed())
	assert.Equal(t, string(dbexec.KindSyntax), result.Error.Kind)
	assert.Contains(t, result.Error.Message, "syntax error")
}

func TestInvokeOpaqueErrorMapsToRuntime(t *testing.T) {
	r := testRegistry(t, func(context.Context, map[string]any) (*dbexec.Result, error) {
		return nil, errors.New("disk on fire")
	})

	result := r.Invoke(context.Background(), "req-5", "echo", map[string]any{"sql": "SELECT 1"})
	require.True(t, result.Failed())
	assert.Equal(t, string(dbexec.KindRuntime), result.Error.Kind)
}

func TestDescribeKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	noop := func(context.Context, map[string]any) (*dbexec.Result, error) {
		return &dbexec.Result{}, nil
	}
	r.Register(Descriptor{Name: "zeta"}, noop)
	r.Register(Descriptor{Name: "alpha"}, noop)
	r.Register(Descriptor{Name: "mid"}, noop)

	descs := r.Describe()
	require.Len(t, descs, 3)
	assert.Equal(t, "zeta", descs[0].Name)
	assert.Equal(t, "alpha", descs[1].Name)
	assert.Equal(t, "mid", descs[2].Name)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry(nil)
	noop := func(context.Context, map[string]any) (*dbexec.Result, error) {
		return &dbexec.Result{}, nil
	}
	r.Register(Descriptor{Name: "echo"}, noop)
	assert.Panics(t, func() { r.Register(Descriptor{Name: "echo"}, noop) })
}
