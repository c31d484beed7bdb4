package assistant

import (
	"encoding/json"
	"strings"
)

// Event names emitted by the remote run stream.
const (
	EventThreadCreated = "thread.created"

	EventRunCreated        = "thread.run.created"
	EventRunQueued         = "thread.run.queued"
	EventRunInProgress     = "thread.run.in_progress"
	EventRunRequiresAction = "thread.run.requires_action"
	EventRunCompleted      = "thread.run.completed"
	EventRunFailed         = "thread.run.failed"
	EventRunCancelled      = "thread.run.cancelled"
	EventRunExpired        = "thread.run.expired"

	EventStepCreated    = "thread.run.step.created"
	EventStepInProgress = "thread.run.step.in_progress"
	EventStepDelta      = "thread.run.step.delta"
	EventStepCompleted  = "thread.run.step.completed"

	EventMessageCreated    = "thread.message.created"
	EventMessageInProgress = "thread.message.in_progress"
	EventMessageDelta      = "thread.message.delta"
	EventMessageCompleted  = "thread.message.completed"
)

// Run statuses that terminate a run. No further events follow them.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Tool call types.
const (
	ToolTypeFunction        = "function"
	ToolTypeCodeInterpreter = "code_interpreter"
	ToolTypeRetrieval       = "retrieval"
)

// Step types.
const (
	StepTypeMessageCreation = "message_creation"
	StepTypeToolCalls       = "tool_calls"
)

// ActionSubmitToolOutputs is the required-action type the orchestrator acts on.
const ActionSubmitToolOutputs = "submit_tool_outputs"

// terminalEvents maps terminal run event names.
var terminalEvents = map[string]bool{
	EventRunCompleted: true,
	EventRunFailed:    true,
	EventRunCancelled: true,
	EventRunExpired:   true,
}

// TerminalStatuses is the set of run statuses after which cancellation is a no-op.
var TerminalStatuses = map[string]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
	StatusExpired:   true,
}

// FunctionCall identifies the local function a tool call targets.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single invocation request emitted by the remote agent.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function,omitempty"`
}

// ToolOutput is the result of executing one ToolCall.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// MessageCreation references the message produced by a message_creation step.
type MessageCreation struct {
	MessageID string `json:"message_id"`
}

// StepDetails is the payload of a run step, discriminated by Type.
type StepDetails struct {
	Type            string           `json:"type"`
	MessageCreation *MessageCreation `json:"message_creation,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
}

// Step is one unit of work inside a run.
type Step struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id,omitempty"`
	Status      string      `json:"status,omitempty"`
	StepDetails StepDetails `json:"step_details"`
}

// SubmitToolOutputsAction lists the tool calls the remote side is waiting on.
type SubmitToolOutputsAction struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// RequiredAction describes what the remote run needs before it can continue.
type RequiredAction struct {
	Type              string                   `json:"type"`
	SubmitToolOutputs *SubmitToolOutputsAction `json:"submit_tool_outputs,omitempty"`
}

// Run is the remote-managed execution of the assistant against a thread.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
}

// IsTerminal reports whether the run has reached a terminal status.
func (r *Run) IsTerminal() bool {
	return r != nil && TerminalStatuses[r.Status]
}

// MessageContent is one content block of a thread message.
type MessageContent struct {
	Type string `json:"type"`
	Text struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

// Message is a message stored on a remote thread.
type Message struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	Content []MessageContent `json:"content"`
}

// Text concatenates the message's text blocks in order.
func (m *Message) Text() []string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" || c.Text.Value != "" {
			parts = append(parts, c.Text.Value)
		}
	}
	return parts
}

// RunEvent is one item from the remote event stream. Exactly one of Run or
// Step is populated for the event names the orchestrator dispatches on;
// unknown events carry only the name and raw payload and are forwarded
// opaquely. Events are immutable once received.
type RunEvent struct {
	Event string          `json:"event"`
	Run   *Run            `json:"-"`
	Step  *Step           `json:"-"`
	Raw   json.RawMessage `json:"data,omitempty"`
}

// IsTerminal reports whether this is a terminal run event.
func (e RunEvent) IsTerminal() bool {
	return terminalEvents[e.Event]
}

// Envelope serializes the event as {"event": ..., "data": ...} for transports.
func (e RunEvent) Envelope() ([]byte, error) {
	data := e.Raw
	if data == nil {
		var err error
		switch {
		case e.Run != nil:
			data, err = json.Marshal(e.Run)
		case e.Step != nil:
			data, err = json.Marshal(e.Step)
		default:
			data = json.RawMessage("null")
		}
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: e.Event, Data: data})
}

// ParseEvent decodes a raw payload into a RunEvent for the given event name.
// Payloads that fail to decode still produce a forwardable event carrying
// the raw bytes; dispatch fields stay nil.
func ParseEvent(name string, payload []byte) RunEvent {
	ev := RunEvent{Event: name, Raw: append(json.RawMessage(nil), payload...)}

	switch {
	case strings.HasPrefix(name, "thread.run.step"):
		var step Step
		if err := json.Unmarshal(payload, &step); err == nil {
			ev.Step = &step
		}
	case strings.HasPrefix(name, "thread.run."):
		var run Run
		if err := json.Unmarshal(payload, &run); err == nil {
			ev.Run = &run
		}
	}

	return ev
}
