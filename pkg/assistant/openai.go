package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

// IsRemoteError reports whether err was returned by the remote API, as
// opposed to a local failure.
func IsRemoteError(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr)
}

// OpenAIClient adapts the OpenAI Assistants API to the Client interface.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a client for the given API key.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// FunctionSpec describes one callable exposed to the remote assistant.
type FunctionSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// AssistantSpec describes a remote assistant registration.
type AssistantSpec struct {
	Name            string
	Instructions    string
	Model           string
	CodeInterpreter bool
	FileSearch      bool
	Functions       []FunctionSpec
}

// CreateAssistant registers a new remote assistant and returns its id.
func (c *OpenAIClient) CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error) {
	params := openai.BetaAssistantNewParams{
		Model:        shared.ChatModel(spec.Model),
		Name:         openai.String(spec.Name),
		Instructions: openai.String(spec.Instructions),
	}

	if spec.CodeInterpreter {
		params.Tools = append(params.Tools, openai.AssistantToolUnionParam{
			OfCodeInterpreter: &openai.CodeInterpreterToolParam{},
		})
	}
	if spec.FileSearch {
		params.Tools = append(params.Tools, openai.AssistantToolUnionParam{
			OfFileSearch: &openai.FileSearchToolParam{},
		})
	}
	for _, fn := range spec.Functions {
		params.Tools = append(params.Tools, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        fn.Name,
					Description: openai.String(fn.Description),
					Parameters:  shared.FunctionParameters(fn.Parameters),
				},
			},
		})
	}

	created, err := c.client.Beta.Assistants.New(ctx, params)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// CreateThread creates a new conversation thread.
func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

// CreateMessage appends a message to a thread.
func (c *OpenAIClient) CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error) {
	msg, err := c.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRole(role),
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(content),
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeMessage(msg.RawJSON())
}

// StreamRun opens a streaming run on a thread.
func (c *OpenAIClient) StreamRun(ctx context.Context, threadID, assistantID string) (EventStream, error) {
	stream := c.client.Beta.Threads.Runs.NewStreaming(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return &openaiEventStream{stream: stream}, nil
}

// RetrieveRun fetches the current state of a run.
func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := c.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	return decodeRun(run.RawJSON())
}

// ListRunSteps lists a run's steps in ascending order.
func (c *OpenAIClient) ListRunSteps(ctx context.Context, threadID, runID string) ([]Step, error) {
	page, err := c.client.Beta.Threads.Runs.Steps.List(ctx, threadID, runID, openai.BetaThreadRunStepListParams{})
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(page.Data))
	for _, s := range page.Data {
		step, err := decodeStep(s.RawJSON())
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, nil
}

// RetrieveStep fetches one step's details.
func (c *OpenAIClient) RetrieveStep(ctx context.Context, threadID, runID, stepID string) (*Step, error) {
	step, err := c.client.Beta.Threads.Runs.Steps.Get(ctx, threadID, runID, stepID, openai.BetaThreadRunStepGetParams{})
	if err != nil {
		return nil, err
	}
	return decodeStep(step.RawJSON())
}

// RetrieveMessage fetches a thread message.
func (c *OpenAIClient) RetrieveMessage(ctx context.Context, threadID, messageID string) (*Message, error) {
	msg, err := c.client.Beta.Threads.Messages.Get(ctx, threadID, messageID)
	if err != nil {
		return nil, err
	}
	return decodeMessage(msg.RawJSON())
}

// SubmitToolOutputs pushes a batch of tool outputs to a waiting run.
func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	params := openai.BetaThreadRunSubmitToolOutputsParams{}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(out.ToolCallID),
			Output:     openai.String(out.Output),
		})
	}

	run, err := c.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params)
	if err != nil {
		return nil, err
	}
	return decodeRun(run.RawJSON())
}

// CancelRun requests cancellation of a run.
func (c *OpenAIClient) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := c.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	return err
}

// openaiEventStream adapts the SDK's SSE stream to EventStream.
type openaiEventStream struct {
	stream  *ssestream.Stream[openai.AssistantStreamEventUnion]
	current RunEvent
}

func (s *openaiEventStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	ev := s.stream.Current()
	s.current = ParseEvent(ev.Event, []byte(ev.JSON.Data.Raw()))
	return true
}

func (s *openaiEventStream) Event() RunEvent {
	return s.current
}

func (s *openaiEventStream) Err() error {
	return s.stream.Err()
}

func (s *openaiEventStream) Close() error {
	return s.stream.Close()
}

func decodeRun(raw string) (*Run, error) {
	var run Run
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

func decodeStep(raw string) (*Step, error) {
	var step Step
	if err := json.Unmarshal([]byte(raw), &step); err != nil {
		return nil, fmt.Errorf("failed to decode run step: %w", err)
	}
	return &step, nil
}

func decodeMessage(raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
