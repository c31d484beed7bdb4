package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/config"
	"github.com/brewkit/assistant-engine/internal/correlation"
	"github.com/brewkit/assistant-engine/internal/metrics"
	"github.com/brewkit/assistant-engine/pkg/assistant"
)

// eventBuffer decouples event forwarding from tool dispatch so side effects
// run as soon as an event is handed off, without waiting for the consumer.
const eventBuffer = 16

// runContext is the per-turn state the orchestrator threads through one run.
type runContext struct {
	threadID      string
	runID         string
	correlationID string
	state         runState

	pending    map[string]assistant.ToolOutput
	order      []string
	dispatched map[string]bool
}

func newRunContext(threadID, correlationID string) *runContext {
	return &runContext{
		threadID:      threadID,
		correlationID: correlationID,
		state:         stateStreaming,
		pending:       make(map[string]assistant.ToolOutput),
		dispatched:    make(map[string]bool),
	}
}

// add records a tool output. A duplicate call id overwrites in place and
// keeps its original batch position.
func (rc *runContext) add(out assistant.ToolOutput) {
	if _, exists := rc.pending[out.ToolCallID]; !exists {
		rc.order = append(rc.order, out.ToolCallID)
	}
	rc.pending[out.ToolCallID] = out
}

// batch returns the pending outputs in arrival order.
func (rc *runContext) batch() []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, 0, len(rc.pending))
	for _, id := range rc.order {
		outputs = append(outputs, rc.pending[id])
	}
	return outputs
}

func (rc *runContext) clear() {
	rc.pending = make(map[string]assistant.ToolOutput)
	rc.order = nil
}

// Orchestrator drives one conversational turn: it creates the user message,
// opens a streaming run, forwards every remote event in arrival order, and
// handles tool round-trips and submission recovery along the way.
type Orchestrator struct {
	client    assistant.Client
	config    *config.EngineAssistantConfig
	executor  *Executor
	submitter *Submitter
	canceller *Canceller
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewOrchestrator wires the run orchestrator and its collaborators.
func NewOrchestrator(
	client assistant.Client,
	cfg *config.EngineAssistantConfig,
	executor *Executor,
	submitter *Submitter,
	canceller *Canceller,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		client:    client,
		config:    cfg,
		executor:  executor,
		submitter: submitter,
		canceller: canceller,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		metrics:   m,
	}
}

// CreateThread opens a fresh remote conversation thread.
func (o *Orchestrator) CreateThread(ctx context.Context) (string, error) {
	ctx, correlationID := correlation.FromContextOrNew(ctx)

	threadID, err := o.client.CreateThread(ctx)
	if err != nil {
		return "", o.classify(err, "create thread", "creating thread", correlationID)
	}

	o.logger.Info().
		Str("thread_id", threadID).
		Str("correlation_id", correlationID).
		Msg("Thread created successfully")
	return threadID, nil
}

// IterateRunEvents runs one turn and streams every remote event in arrival
// order. Each event is handed to the consumer before any tool dispatch or
// submission it triggers. The error channel carries at most one error and
// both channels close when the turn ends; stopping consumption via ctx
// abandons the turn.
func (o *Orchestrator) IterateRunEvents(ctx context.Context, threadID, query string) (<-chan assistant.RunEvent, <-chan error) {
	ctx, correlationID := correlation.FromContextOrNew(ctx)

	events := make(chan assistant.RunEvent, eventBuffer)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)

		o.logger.Info().
			Str("thread_id", threadID).
			Str("correlation_id", correlationID).
			Msg("Starting run processing")

		start := time.Now()

		if _, err := o.client.CreateMessage(ctx, threadID, "user", query); err != nil {
			errc <- o.classify(err, "create message", "creating message", correlationID)
			return
		}
		o.logger.Info().
			Str("thread_id", threadID).
			Str("correlation_id", correlationID).
			Msg("Message created successfully")

		stream, err := o.client.StreamRun(ctx, threadID, o.config.AssistantID)
		if err != nil {
			errc <- o.classify(err, "create run", "creating run", correlationID)
			return
		}
		defer stream.Close()
		o.logger.Info().
			Str("thread_id", threadID).
			Str("assistant_id", o.config.AssistantID).
			Str("correlation_id", correlationID).
			Msg("Run stream created successfully")

		rc := newRunContext(threadID, correlationID)

		for stream.Next() {
			ev := stream.Event()

			if o.metrics != nil {
				o.metrics.RunEventsTotal.WithLabelValues(ev.Event).Inc()
			}

			// Forward before dispatch: the consumer must see the event
			// before any side effect it triggers.
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}

			rc.state = nextState(rc.state, ev)
			o.handleEvent(ctx, rc, ev)

			if ev.IsTerminal() && o.metrics != nil {
				o.metrics.RunsTotal.WithLabelValues(strings.TrimPrefix(ev.Event, "thread.run.")).Inc()
				o.metrics.RunDuration.Observe(time.Since(start).Seconds())
			}
		}

		if err := stream.Err(); err != nil {
			errc <- o.classify(err, "stream run events", "streaming run events", correlationID)
		}
	}()

	return events, errc
}

// handleEvent applies one event's side effects after it has been forwarded.
func (o *Orchestrator) handleEvent(ctx context.Context, rc *runContext, ev assistant.RunEvent) {
	switch {
	case ev.Event == assistant.EventRunCreated && ev.Run != nil:
		rc.runID = ev.Run.ID

	case ev.Event == assistant.EventStepCompleted && ev.Step != nil &&
		ev.Step.StepDetails.Type == assistant.StepTypeToolCalls:
		o.dispatchToolCalls(ctx, rc, ev.Step.StepDetails.ToolCalls, true)

	case ev.Event == assistant.EventRunRequiresAction && ev.Run != nil &&
		ev.Run.RequiredAction != nil &&
		ev.Run.RequiredAction.Type == assistant.ActionSubmitToolOutputs:
		// Function calls were already dispatched on step completion; only
		// the non-function entries of the action descriptor are new work.
		if sto := ev.Run.RequiredAction.SubmitToolOutputs; sto != nil {
			o.dispatchToolCalls(ctx, rc, sto.ToolCalls, false)
		}
		o.submitPending(ctx, rc)
	}
}

// dispatchToolCalls executes or placeholder-fills each call. A call id is
// dispatched at most once per run regardless of how many events mention it.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, rc *runContext, calls []assistant.ToolCall, includeFunctions bool) {
	for _, call := range calls {
		if rc.dispatched[call.ID] {
			continue
		}

		switch call.Type {
		case assistant.ToolTypeFunction:
			if !includeFunctions {
				continue
			}
			rc.dispatched[call.ID] = true
			out := o.executor.ExecuteTool(ctx, call.Function.Name, call.Function.Arguments, CallContext{
				CallID:        call.ID,
				ThreadID:      rc.threadID,
				RunID:         rc.runID,
				CorrelationID: rc.correlationID,
			})
			rc.add(out)

		case assistant.ToolTypeCodeInterpreter:
			rc.dispatched[call.ID] = true
			rc.add(assistant.ToolOutput{ToolCallID: call.ID, Output: "code_interpreter"})

		case assistant.ToolTypeRetrieval:
			rc.dispatched[call.ID] = true
			rc.add(assistant.ToolOutput{ToolCallID: call.ID, Output: "retrieval"})
		}
	}
}

// submitPending delivers the accumulated batch once the run id is known.
// Permanent submission failure is compensated by cancelling the run; either
// way the batch is cleared and the stream keeps being consumed.
func (o *Orchestrator) submitPending(ctx context.Context, rc *runContext) {
	if len(rc.pending) == 0 || rc.runID == "" {
		return
	}

	result := o.submitter.Submit(ctx, rc.threadID, rc.runID, rc.batch())
	if result == nil {
		o.logger.Error().
			Str("thread_id", rc.threadID).
			Str("run_id", rc.runID).
			Str("correlation_id", rc.correlationID).
			Msg("Tool output submission failed permanently, attempting to cancel run to prevent hanging state")
		o.canceller.CancelSafely(ctx, rc.threadID, rc.runID)
	}

	rc.clear()
	rc.state = outputsSubmitted(rc.state)
}

// ProcessRun drives one turn to completion and collects the assistant's
// reply texts in order. It consumes the raw iterator to its natural end so
// tool round-trips finish even after the last message was produced.
func (o *Orchestrator) ProcessRun(ctx context.Context, threadID, query string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, correlationID := correlation.FromContextOrNew(ctx)

	o.logger.Info().
		Str("thread_id", threadID).
		Str("correlation_id", correlationID).
		Int("message_length", len(query)).
		Msg("Processing chat request")

	events, errc := o.IterateRunEvents(ctx, threadID, query)

	var messages []string
	for ev := range events {
		if ev.Event != assistant.EventStepCompleted || ev.Step == nil {
			continue
		}
		details := ev.Step.StepDetails
		if details.Type != assistant.StepTypeMessageCreation || details.MessageCreation == nil {
			continue
		}

		msg, err := o.client.RetrieveMessage(ctx, threadID, details.MessageCreation.MessageID)
		if err != nil {
			return nil, o.classify(err, "retrieve message", "retrieving message", correlationID)
		}
		messages = append(messages, msg.Text()...)
	}

	if err := <-errc; err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("thread_id", threadID).
		Str("correlation_id", correlationID).
		Int("message_count", len(messages)).
		Msg("Run processing completed")
	return messages, nil
}

// ProcessRunStream is the raw streaming view of one turn.
func (o *Orchestrator) ProcessRunStream(ctx context.Context, threadID, query string) (<-chan assistant.RunEvent, <-chan error) {
	return o.IterateRunEvents(ctx, threadID, query)
}

func (o *Orchestrator) classify(err error, remoteOp, localOp, correlationID string) error {
	if assistant.IsRemoteError(err) {
		o.logger.Error().
			Err(err).
			Str("operation", remoteOp).
			Str("correlation_id", correlationID).
			Msg("Remote API call failed")
		return &RemoteError{Operation: remoteOp, CorrelationID: correlationID, Err: err}
	}

	o.logger.Error().
		Err(err).
		Str("operation", localOp).
		Str("correlation_id", correlationID).
		Msg("Unexpected error")
	return &UnexpectedError{Operation: localOp, CorrelationID: correlationID, Err: err}
}
