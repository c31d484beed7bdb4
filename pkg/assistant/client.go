package assistant

import "context"

// EventStream iterates a streaming run's events. Next reports whether
// another event is available; Err surfaces the stream failure, if any,
// after Next returns false.
type EventStream interface {
	Next() bool
	Event() RunEvent
	Err() error
	Close() error
}

// Client is the remote agent API surface the engine consumes. The wire
// protocol belongs to the remote service; implementations adapt it to the
// types in this package.
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error)
	StreamRun(ctx context.Context, threadID, assistantID string) (EventStream, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)
	ListRunSteps(ctx context.Context, threadID, runID string) ([]Step, error)
	RetrieveStep(ctx context.Context, threadID, runID, stepID string) (*Step, error)
	RetrieveMessage(ctx context.Context, threadID, messageID string) (*Message, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
}
