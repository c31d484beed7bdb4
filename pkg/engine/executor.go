package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/correlation"
	"github.com/brewkit/assistant-engine/internal/metrics"
	"github.com/brewkit/assistant-engine/pkg/assistant"
	"github.com/brewkit/assistant-engine/pkg/tools"
)

// CallContext carries diagnostic fields for one tool invocation.
type CallContext struct {
	CallID        string
	ThreadID      string
	RunID         string
	CorrelationID string
}

// Executor resolves and invokes registered tools on behalf of the remote
// agent. Every failure mode is converted into a ToolOutput carrying a
// human-readable error string; ExecuteTool never returns an error and never
// panics past its own boundary.
type Executor struct {
	registry *tools.Registry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewExecutor creates a tool executor over a populated registry.
func NewExecutor(registry *tools.Registry, logger zerolog.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		registry: registry,
		logger:   logger.With().Str("component", "tool_executor").Logger(),
		metrics:  m,
	}
}

// ExecuteTool runs one tool call. rawArgs is the JSON-encoded argument
// mapping as delivered by the remote agent; an empty string means no
// arguments.
func (e *Executor) ExecuteTool(ctx context.Context, toolName, rawArgs string, cc CallContext) (out assistant.ToolOutput) {
	out = assistant.ToolOutput{ToolCallID: cc.CallID}
	start := time.Now()
	shortID := correlation.Truncate(cc.CorrelationID)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("tool", toolName).
				Str("tool_call_id", cc.CallID).
				Str("correlation_id", cc.CorrelationID).
				Interface("panic", r).
				Msg("Tool execution panicked")
			out.Output = fmt.Sprintf("Error: Function '%s' execution failed: %v (correlation_id: %s)", toolName, r, shortID)
			e.observe(toolName, "panic", start)
		}
	}()

	args := map[string]interface{}{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			e.logger.Error().
				Str("tool", toolName).
				Str("tool_call_id", cc.CallID).
				Str("correlation_id", cc.CorrelationID).
				Err(err).
				Msg("Invalid JSON in tool arguments")
			out.Output = fmt.Sprintf("Error: Invalid JSON arguments: %v", err)
			e.observe(toolName, "invalid_args", start)
			return out
		}
	}

	def := e.registry.Get(toolName)
	if def == nil {
		e.logger.Error().
			Str("tool", toolName).
			Str("tool_call_id", cc.CallID).
			Str("thread_id", cc.ThreadID).
			Str("correlation_id", cc.CorrelationID).
			Msg("Unknown function not found in registry")
		out.Output = fmt.Sprintf("Error: Function '%s' not available (correlation_id: %s)", toolName, shortID)
		e.observe(toolName, "unknown", start)
		return out
	}

	if missing := e.registry.MissingRequired(toolName, args); len(missing) > 0 {
		err := fmt.Errorf("Missing required arguments: %s", strings.Join(missing, ", "))
		e.logger.Error().
			Str("tool", toolName).
			Str("tool_call_id", cc.CallID).
			Str("correlation_id", cc.CorrelationID).
			Err(err).
			Msg("Invalid arguments for function")
		out.Output = fmt.Sprintf("Error: Invalid arguments for function '%s': %v (correlation_id: %s)", toolName, err, shortID)
		e.observe(toolName, "invalid_args", start)
		return out
	}

	if extra := e.registry.Unexpected(toolName, args); len(extra) > 0 {
		e.logger.Warn().
			Str("tool", toolName).
			Strs("unexpected_params", extra).
			Str("correlation_id", cc.CorrelationID).
			Msg("Function received unexpected parameters")
	}

	if err := e.registry.ValidateArgs(toolName, args); err != nil {
		e.logger.Error().
			Str("tool", toolName).
			Str("tool_call_id", cc.CallID).
			Str("correlation_id", cc.CorrelationID).
			Err(err).
			Msg("Invalid arguments for function")
		out.Output = fmt.Sprintf("Error: Invalid arguments for function '%s': %v (correlation_id: %s)", toolName, err, shortID)
		e.observe(toolName, "invalid_args", start)
		return out
	}

	e.logger.Debug().
		Str("tool", toolName).
		Str("tool_call_id", cc.CallID).
		Str("correlation_id", cc.CorrelationID).
		Msg("Executing function")

	result, err := def.Handler(ctx, args)
	if err != nil {
		e.logger.Error().
			Str("tool", toolName).
			Str("tool_call_id", cc.CallID).
			Str("correlation_id", cc.CorrelationID).
			Err(err).
			Msg("Function execution failed")
		out.Output = fmt.Sprintf("Error: Function '%s' execution failed: %v (correlation_id: %s)", toolName, err, shortID)
		e.observe(toolName, "error", start)
		return out
	}

	rendered, err := renderOutput(result)
	if err != nil {
		e.logger.Error().
			Str("tool", toolName).
			Str("tool_call_id", cc.CallID).
			Str("correlation_id", cc.CorrelationID).
			Err(err).
			Msg("Function execution failed")
		out.Output = fmt.Sprintf("Error: Function '%s' execution failed: %v (correlation_id: %s)", toolName, err, shortID)
		e.observe(toolName, "error", start)
		return out
	}

	e.logger.Info().
		Str("tool", toolName).
		Str("tool_call_id", cc.CallID).
		Str("thread_id", cc.ThreadID).
		Str("correlation_id", cc.CorrelationID).
		Msg("Function executed successfully")
	e.observe(toolName, "success", start)

	out.Output = rendered
	return out
}

func (e *Executor) observe(tool, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	e.metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

func renderOutput(result interface{}) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("unserializable result: %w", err)
		}
		return string(data), nil
	}
}
