package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/correlation"
	"github.com/brewkit/assistant-engine/internal/metrics"
	"github.com/brewkit/assistant-engine/pkg/assistant"
)

// Canceller drives a stuck run into a terminal state. CancelSafely tolerates
// the run already being terminal and never returns an error.
type Canceller struct {
	client  assistant.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewCanceller creates a run canceller.
func NewCanceller(client assistant.Client, logger zerolog.Logger, m *metrics.Metrics) *Canceller {
	return &Canceller{
		client:  client,
		logger:  logger.With().Str("component", "canceller").Logger(),
		metrics: m,
	}
}

// CancelSafely cancels a run unless it already reached a terminal status.
// It returns true when the run is terminal afterwards as far as we know,
// false when both the status check and the cancel call failed.
func (c *Canceller) CancelSafely(ctx context.Context, threadID, runID string) bool {
	ctx, correlationID := correlation.FromContextOrNew(ctx)

	run, err := c.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("thread_id", threadID).
			Str("run_id", runID).
			Str("correlation_id", correlationID).
			Msg("Failed to retrieve run before cancel")
	} else if run.IsTerminal() {
		c.count("already_terminal")
		c.logger.Info().
			Str("thread_id", threadID).
			Str("run_id", runID).
			Str("status", run.Status).
			Str("correlation_id", correlationID).
			Msg("Run already in terminal state")
		return true
	}

	if err := c.client.CancelRun(ctx, threadID, runID); err != nil {
		c.count("failure")
		c.logger.Error().
			Err(err).
			Str("thread_id", threadID).
			Str("run_id", runID).
			Str("correlation_id", correlationID).
			Msg("Failed to cancel run")
		return false
	}

	c.count("cancelled")
	c.logger.Info().
		Str("thread_id", threadID).
		Str("run_id", runID).
		Str("correlation_id", correlationID).
		Msg("Successfully cancelled run")
	return true
}

func (c *Canceller) count(outcome string) {
	if c.metrics != nil {
		c.metrics.RunCancelsTotal.WithLabelValues(outcome).Inc()
	}
}
