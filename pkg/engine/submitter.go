package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/correlation"
	"github.com/brewkit/assistant-engine/internal/metrics"
	"github.com/brewkit/assistant-engine/pkg/assistant"
)

// Submitter pushes batches of tool outputs to a waiting run, retrying with
// exponential backoff. Submit never returns an error; a nil run is the single
// permanent-failure sentinel callers must check.
type Submitter struct {
	client  assistant.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics

	retries     int
	baseBackoff float64

	// wait is swapped in tests so retries complete instantly.
	wait func(ctx context.Context, d time.Duration) error
}

// NewSubmitter creates a submitter. retries bounds the total attempts;
// baseBackoff is the exponential base in seconds (wait = base^attempt).
func NewSubmitter(client assistant.Client, logger zerolog.Logger, m *metrics.Metrics, retries int, baseBackoff float64) *Submitter {
	return &Submitter{
		client:      client,
		logger:      logger.With().Str("component", "submitter").Logger(),
		metrics:     m,
		retries:     retries,
		baseBackoff: baseBackoff,
		wait:        sleepCtx,
	}
}

// Submit attempts to deliver outputs, retrying transient failures. It returns
// the updated run on success and nil after exhausting all attempts or when
// ctx is cancelled mid-wait. The remote state after a nil return is unknown;
// callers must assume a non-submitted state and drive explicit recovery.
func (s *Submitter) Submit(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) *assistant.Run {
	ctx, correlationID := correlation.FromContextOrNew(ctx)

	s.logger.Info().
		Str("thread_id", threadID).
		Str("run_id", runID).
		Str("correlation_id", correlationID).
		Int("tool_count", len(outputs)).
		Msg("Submitting tool outputs")

	for attempt := 0; attempt < s.retries; attempt++ {
		run, err := s.client.SubmitToolOutputs(ctx, threadID, runID, outputs)
		if err == nil {
			s.count("success")
			s.logger.Info().
				Str("thread_id", threadID).
				Str("run_id", runID).
				Str("correlation_id", correlationID).
				Int("tool_count", len(outputs)).
				Int("attempt", attempt+1).
				Int("max_retries", s.retries).
				Msg("Successfully submitted tool outputs")
			return run
		}

		s.count("failure")
		last := attempt == s.retries-1
		waitTime := s.backoff(attempt)
		if last {
			waitTime = 0
		}

		s.logger.Error().
			Err(err).
			Str("thread_id", threadID).
			Str("run_id", runID).
			Str("correlation_id", correlationID).
			Int("attempt", attempt+1).
			Int("max_retries", s.retries).
			Dur("wait_time", waitTime).
			Msg("Tool output submission failed")

		if last {
			s.count("permanent_failure")
			s.logger.Error().
				Str("thread_id", threadID).
				Str("run_id", runID).
				Str("correlation_id", correlationID).
				Int("tool_count", len(outputs)).
				Int("max_retries", s.retries).
				Msg("Permanent failure: unable to submit tool outputs")
			return nil
		}

		if err := s.wait(ctx, waitTime); err != nil {
			s.count("abandoned")
			s.logger.Warn().
				Str("thread_id", threadID).
				Str("run_id", runID).
				Str("correlation_id", correlationID).
				Msg("Submission abandoned, context cancelled during backoff")
			return nil
		}
	}

	return nil
}

func (s *Submitter) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(s.baseBackoff, float64(attempt)) * float64(time.Second))
}

func (s *Submitter) count(outcome string) {
	if s.metrics != nil {
		s.metrics.SubmissionAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
