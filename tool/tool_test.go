package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, map[string]any) (any, error) { return nil, nil }

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "echo", Toolkit: "test"}, noop))

	fn, ok := r.Resolve("echo")
	require.True(t, ok)
	assert.NotNil(t, fn)

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "echo"}, noop))
	require.ErrorIs(t, r.Register(Descriptor{Name: "echo"}, noop), ErrDuplicateTool)
}

func TestRegistryDeregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "echo"}, noop))

	r.Deregister("echo")
	_, ok := r.Resolve("echo")
	assert.False(t, ok)

	// Unknown names are a no-op.
	r.Deregister("ghost")
}

func TestBuiltinsExposeExpectedTools(t *testing.T) {
	tools := Builtins().List()
	assert.Contains(t, tools, "math_calculator")
	assert.Contains(t, tools, "search_web")
	assert.Contains(t, tools, "weather_lookup")
}

func TestMathCalculatorOperations(t *testing.T) {
	fn, ok := Builtins().Resolve("math_calculator")
	require.True(t, ok)
	ctx := context.Background()

	cases := []struct {
		op   string
		want float64
	}{
		{"add", 9},
		{"subtract", 3},
		{"multiply", 18},
		{"divide", 2},
		{"", 18},
	}
	for _, tc := range cases {
		got, err := fn(ctx, map[string]any{"a": 6.0, "b": 3.0, "operation": tc.op})
		require.NoError(t, err, "operation %q", tc.op)
		assert.Equal(t, tc.want, got, "operation %q", tc.op)
	}
}

func TestMathCalculatorRejectsBadInput(t *testing.T) {
	fn, _ := Builtins().Resolve("math_calculator")
	ctx := context.Background()

	_, err := fn(ctx, map[string]any{"a": "six", "b": 3.0})
	require.Error(t, err)

	_, err = fn(ctx, map[string]any{"a": 6.0, "b": 0.0, "operation": "divide"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestMathCalculatorAcceptsIntegers(t *testing.T) {
	fn, _ := Builtins().Resolve("math_calculator")
	got, err := fn(context.Background(), map[string]any{"a": 6, "b": 7, "operation": "multiply"})
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestSearchWebRequiresQuery(t *testing.T) {
	fn, _ := Builtins().Resolve("search_web")
	ctx := context.Background()

	_, err := fn(ctx, map[string]any{})
	require.Error(t, err)

	got, err := fn(ctx, map[string]any{"query": "go concurrency"})
	require.NoError(t, err)
	assert.Contains(t, got.(string), "go concurrency")
}

func TestWeatherLookupDefaultsLocation(t *testing.T) {
	fn, _ := Builtins().Resolve("weather_lookup")
	got, err := fn(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, got.(string), "current")
}
