package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewkit/assistant-engine/pkg/tools"
)

func newTestExecutor(t *testing.T, calls *int32) *Executor {
	t.Helper()
	registry := tools.NewRegistry(nopLogger())
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "add",
		Description: "Adds two numbers",
		Parameters: []tools.Parameter{
			{Name: "a", Type: "number", Required: true},
			{Name: "b", Type: "number", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			return args["a"].(float64) + args["b"].(float64), nil
		},
	}))
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "boom",
		Description: "Always fails",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, errors.New("exploded")
		},
	}))
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "panics",
		Description: "Panics on invocation",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			panic("unexpected state")
		},
	}))
	return NewExecutor(registry, nopLogger(), nil)
}

func TestExecutor_ExecuteTool(t *testing.T) {
	ctx := context.Background()
	cc := CallContext{CallID: "call_1", ThreadID: "t1", CorrelationID: "abcdef123456"}

	t.Run("should execute tool and render result", func(t *testing.T) {
		var calls int32
		e := newTestExecutor(t, &calls)

		out := e.ExecuteTool(ctx, "add", `{"a":1,"b":2}`, cc)
		assert.Equal(t, "call_1", out.ToolCallID)
		assert.Equal(t, "3", out.Output)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("should fail on missing required arguments without invoking", func(t *testing.T) {
		var calls int32
		e := newTestExecutor(t, &calls)

		out := e.ExecuteTool(ctx, "add", `{"a":1}`, cc)
		assert.Contains(t, out.Output, "Missing required arguments: b")
		assert.Contains(t, out.Output, "abcdef12")
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("should report unknown tool without raising", func(t *testing.T) {
		e := newTestExecutor(t, nil)

		out := e.ExecuteTool(ctx, "ghost", `{}`, cc)
		assert.Contains(t, out.Output, "Function 'ghost' not available")
		assert.Contains(t, out.Output, "abcdef12")
	})

	t.Run("should report invalid JSON arguments", func(t *testing.T) {
		e := newTestExecutor(t, nil)

		out := e.ExecuteTool(ctx, "add", `{not json`, cc)
		assert.Contains(t, out.Output, "Error: Invalid JSON arguments")
	})

	t.Run("should treat empty arguments as empty mapping", func(t *testing.T) {
		e := newTestExecutor(t, nil)

		out := e.ExecuteTool(ctx, "boom", "", cc)
		assert.Contains(t, out.Output, "Function 'boom' execution failed: exploded")
	})

	t.Run("should tolerate unexpected extra arguments", func(t *testing.T) {
		var calls int32
		e := newTestExecutor(t, &calls)

		out := e.ExecuteTool(ctx, "add", `{"a":1,"b":2,"c":"extra"}`, cc)
		assert.Equal(t, "3", out.Output)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("should reject arguments of the wrong type", func(t *testing.T) {
		var calls int32
		e := newTestExecutor(t, &calls)

		out := e.ExecuteTool(ctx, "add", `{"a":"one","b":2}`, cc)
		assert.Contains(t, out.Output, "Invalid arguments for function 'add'")
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("should convert handler error into output", func(t *testing.T) {
		e := newTestExecutor(t, nil)

		out := e.ExecuteTool(ctx, "boom", `{}`, cc)
		assert.Contains(t, out.Output, "Error: Function 'boom' execution failed: exploded")
		assert.Contains(t, out.Output, "abcdef12")
	})

	t.Run("should recover handler panic", func(t *testing.T) {
		e := newTestExecutor(t, nil)

		var out = e.ExecuteTool(ctx, "panics", `{}`, cc)
		assert.Contains(t, out.Output, "Function 'panics' execution failed")
		assert.Contains(t, out.Output, "unexpected state")
	})
}

func TestRenderOutput(t *testing.T) {
	t.Run("should pass strings through", func(t *testing.T) {
		s, err := renderOutput("plain")
		require.NoError(t, err)
		assert.Equal(t, "plain", s)
	})

	t.Run("should marshal structured values", func(t *testing.T) {
		s, err := renderOutput(map[string]interface{}{"ok": true})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, s)
	})

	t.Run("should render nil as empty", func(t *testing.T) {
		s, err := renderOutput(nil)
		require.NoError(t, err)
		assert.Empty(t, s)
	})
}
