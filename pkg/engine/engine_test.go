package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/config"
	"github.com/brewkit/assistant-engine/pkg/assistant"
)

// fakeStream replays a fixed event sequence.
type fakeStream struct {
	events []assistant.RunEvent
	idx    int
	err    error
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.idx >= len(s.events) {
		return false
	}
	s.idx++
	return true
}

func (s *fakeStream) Event() assistant.RunEvent { return s.events[s.idx-1] }
func (s *fakeStream) Err() error                { return s.err }
func (s *fakeStream) Close() error              { s.closed = true; return nil }

type callPair struct {
	threadID string
	runID    string
}

type submitCall struct {
	threadID string
	runID    string
	outputs  []assistant.ToolOutput
}

// fakeClient records calls and delegates to optional overrides.
type fakeClient struct {
	mu sync.Mutex

	createThreadFn    func(ctx context.Context) (string, error)
	createMessageFn   func(ctx context.Context, threadID, role, content string) (*assistant.Message, error)
	streamRunFn       func(ctx context.Context, threadID, assistantID string) (assistant.EventStream, error)
	retrieveRunFn     func(ctx context.Context, threadID, runID string) (*assistant.Run, error)
	retrieveMessageFn func(ctx context.Context, threadID, messageID string) (*assistant.Message, error)
	submitFn          func(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (*assistant.Run, error)
	cancelFn          func(ctx context.Context, threadID, runID string) error

	submitCalls      []submitCall
	cancelCalls      []callPair
	retrieveRunCalls int
}

func (c *fakeClient) CreateThread(ctx context.Context) (string, error) {
	if c.createThreadFn != nil {
		return c.createThreadFn(ctx)
	}
	return "t1", nil
}

func (c *fakeClient) CreateMessage(ctx context.Context, threadID, role, content string) (*assistant.Message, error) {
	if c.createMessageFn != nil {
		return c.createMessageFn(ctx, threadID, role, content)
	}
	return &assistant.Message{ID: "msg_user", Role: role}, nil
}

func (c *fakeClient) StreamRun(ctx context.Context, threadID, assistantID string) (assistant.EventStream, error) {
	if c.streamRunFn != nil {
		return c.streamRunFn(ctx, threadID, assistantID)
	}
	return &fakeStream{}, nil
}

func (c *fakeClient) RetrieveRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	c.mu.Lock()
	c.retrieveRunCalls++
	c.mu.Unlock()
	if c.retrieveRunFn != nil {
		return c.retrieveRunFn(ctx, threadID, runID)
	}
	return &assistant.Run{ID: runID, ThreadID: threadID, Status: "in_progress"}, nil
}

func (c *fakeClient) ListRunSteps(ctx context.Context, threadID, runID string) ([]assistant.Step, error) {
	return nil, nil
}

func (c *fakeClient) RetrieveStep(ctx context.Context, threadID, runID, stepID string) (*assistant.Step, error) {
	return nil, nil
}

func (c *fakeClient) RetrieveMessage(ctx context.Context, threadID, messageID string) (*assistant.Message, error) {
	if c.retrieveMessageFn != nil {
		return c.retrieveMessageFn(ctx, threadID, messageID)
	}
	return &assistant.Message{ID: messageID}, nil
}

func (c *fakeClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (*assistant.Run, error) {
	c.mu.Lock()
	c.submitCalls = append(c.submitCalls, submitCall{threadID: threadID, runID: runID, outputs: outputs})
	c.mu.Unlock()
	if c.submitFn != nil {
		return c.submitFn(ctx, threadID, runID, outputs)
	}
	return &assistant.Run{ID: runID, ThreadID: threadID, Status: "in_progress"}, nil
}

func (c *fakeClient) CancelRun(ctx context.Context, threadID, runID string) error {
	c.mu.Lock()
	c.cancelCalls = append(c.cancelCalls, callPair{threadID: threadID, runID: runID})
	c.mu.Unlock()
	if c.cancelFn != nil {
		return c.cancelFn(ctx, threadID, runID)
	}
	return nil
}

// Event fixtures built through the same parser production uses.

func runCreatedEvent(runID string) assistant.RunEvent {
	return assistant.ParseEvent(assistant.EventRunCreated,
		[]byte(fmt.Sprintf(`{"id":%q,"status":"queued"}`, runID)))
}

func runCompletedEvent(runID string) assistant.RunEvent {
	return assistant.ParseEvent(assistant.EventRunCompleted,
		[]byte(fmt.Sprintf(`{"id":%q,"status":"completed"}`, runID)))
}

func messageStepEvent(messageID string) assistant.RunEvent {
	return assistant.ParseEvent(assistant.EventStepCompleted,
		[]byte(fmt.Sprintf(`{"id":"step_msg","step_details":{"type":"message_creation","message_creation":{"message_id":%q}}}`, messageID)))
}

func toolStepEvent(callID, name, args string) assistant.RunEvent {
	return assistant.ParseEvent(assistant.EventStepCompleted,
		[]byte(fmt.Sprintf(`{"id":"step_tools","step_details":{"type":"tool_calls","tool_calls":[{"id":%q,"type":"function","function":{"name":%q,"arguments":%q}}]}}`, callID, name, args)))
}

func requiresActionEvent(runID, toolCallsJSON string) assistant.RunEvent {
	return assistant.ParseEvent(assistant.EventRunRequiresAction,
		[]byte(fmt.Sprintf(`{"id":%q,"status":"requires_action","required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":%s}}}`, runID, toolCallsJSON)))
}

func instantWait(context.Context, time.Duration) error { return nil }

func testEngineConfig() *config.EngineAssistantConfig {
	return &config.EngineAssistantConfig{
		AssistantID:   "asst_1",
		AssistantName: "test",
	}
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
