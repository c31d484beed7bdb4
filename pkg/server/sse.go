package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/correlation"
	"github.com/brewkit/assistant-engine/internal/metrics"
	"github.com/brewkit/assistant-engine/pkg/assistant"
	"github.com/brewkit/assistant-engine/pkg/engine"
)

// sseStreamEvents is the set of run events forwarded to SSE clients. Delta
// and lifecycle noise outside this set stays server-side.
var sseStreamEvents = map[string]bool{
	assistant.EventRunCreated:        true,
	assistant.EventRunQueued:         true,
	assistant.EventRunInProgress:     true,
	assistant.EventRunRequiresAction: true,
	assistant.EventRunCompleted:      true,
	assistant.EventRunFailed:         true,

	assistant.EventMessageCreated:    true,
	assistant.EventMessageInProgress: true,
	assistant.EventMessageDelta:      true,
	assistant.EventMessageCompleted:  true,

	assistant.EventStepCreated:    true,
	assistant.EventStepInProgress: true,
	assistant.EventStepDelta:      true,
	assistant.EventStepCompleted:  true,
}

// sseEvent is one wire frame. Either comment is set (keepalive) or the
// event/data/id triple is.
type sseEvent struct {
	comment string
	event   string
	data    string
	id      string
	retry   time.Duration
}

func (e sseEvent) writeTo(w io.Writer) error {
	if e.comment != "" {
		if _, err := fmt.Fprintf(w, ": %s\n", e.comment); err != nil {
			return err
		}
		if e.retry > 0 {
			if _, err := fmt.Fprintf(w, "retry: %d\n", e.retry.Milliseconds()); err != nil {
				return err
			}
		}
		_, err := fmt.Fprint(w, "\n")
		return err
	}

	if e.id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", e.id); err != nil {
			return err
		}
	}
	if e.event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.event); err != nil {
			return err
		}
	}
	if e.retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", e.retry.Milliseconds()); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", e.data); err != nil {
		return err
	}
	return nil
}

// SSEConfig tunes the SSE adapter.
type SSEConfig struct {
	HeartbeatInterval     time.Duration
	MaxConnectionDuration time.Duration
	RetryInterval         time.Duration
	MaxConnectionsPerIP   int
}

// SSEStreamHandler formats run events as Server-Sent Events, adding
// heartbeats, a per-IP connection cap, a wall-clock connection timeout, and
// a trailing metadata event.
type SSEStreamHandler struct {
	engine  Engine
	cfg     SSEConfig
	limiter *ConnectionLimiter
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSSEStreamHandler creates the SSE adapter.
func NewSSEStreamHandler(eng Engine, cfg SSEConfig, limiter *ConnectionLimiter, logger zerolog.Logger, m *metrics.Metrics) *SSEStreamHandler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.MaxConnectionDuration <= 0 {
		cfg.MaxConnectionDuration = 5 * time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	return &SSEStreamHandler{
		engine:  eng,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With().Str("component", "sse").Logger(),
		metrics: m,
	}
}

// Stream runs one turn and writes its events to w until the stream ends,
// the connection times out, or the client goes away.
func (h *SSEStreamHandler) Stream(w http.ResponseWriter, r *http.Request, threadID, query string) {
	ctx, correlationID := correlation.FromContextOrNew(r.Context())
	shortID := correlation.Truncate(correlationID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Correlation-ID", correlationID)

	ip := clientIP(r)
	release, ok := h.limiter.Acquire(ip)
	if !ok {
		h.logger.Warn().
			Str("ip", ip).
			Str("thread_id", threadID).
			Str("correlation_id", correlationID).
			Msg("SSE connection rejected by rate limiter")
		h.writeError(w, flusher, shortID, shortID+"_error", "Rate limit exceeded", "RateLimitError")
		return
	}
	defer release()

	if h.metrics != nil {
		h.metrics.StreamsActive.WithLabelValues("sse").Inc()
		defer h.metrics.StreamsActive.WithLabelValues("sse").Dec()
	}

	start := time.Now()
	eventCount := 0

	events, errc := h.engine.ProcessRunStream(ctx, threadID, query)

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	timeout := time.NewTimer(h.cfg.MaxConnectionDuration)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timeout.C:
			h.logger.Warn().
				Str("thread_id", threadID).
				Str("correlation_id", correlationID).
				Msg("SSE connection timeout reached")
			h.writeError(w, flusher, shortID, shortID+"_timeout", "Connection timeout reached", "ConnectionTimeoutError")
			return

		case <-heartbeat.C:
			ev := sseEvent{comment: "keepalive", retry: h.cfg.RetryInterval}
			if err := ev.writeTo(w); err != nil {
				return
			}
			flusher.Flush()

		case ev, open := <-events:
			if !open {
				if err := <-errc; err != nil {
					h.logger.Error().
						Err(err).
						Str("thread_id", threadID).
						Str("correlation_id", correlationID).
						Msg("Error in SSE stream")
					h.writeError(w, flusher, shortID, shortID+"_error", err.Error(), errorType(err))
				}
				return
			}

			if !sseStreamEvents[ev.Event] {
				continue
			}

			payload, err := ev.Envelope()
			if err != nil {
				continue
			}

			eventCount++
			frame := sseEvent{
				event: ev.Event,
				data:  string(payload),
				id:    fmt.Sprintf("%s_%s_%d", shortID, ev.Event, eventCount),
				retry: h.cfg.RetryInterval,
			}
			if err := frame.writeTo(w); err != nil {
				return
			}
			flusher.Flush()

			if ev.Event == assistant.EventRunCompleted {
				h.writeMetadata(w, flusher, shortID, threadID, start, eventCount)
			}
		}
	}
}

func (h *SSEStreamHandler) writeMetadata(w io.Writer, flusher http.Flusher, shortID, threadID string, start time.Time, eventCount int) {
	elapsed := math.Round(time.Since(start).Seconds()*1000) / 1000
	data, err := json.Marshal(map[string]interface{}{
		"correlation_id":       shortID,
		"elapsed_time_seconds": elapsed,
		"event_count":          eventCount,
		"thread_id":            threadID,
	})
	if err != nil {
		return
	}

	ev := sseEvent{event: "metadata", data: string(data), id: shortID + "_metadata"}
	if err := ev.writeTo(w); err == nil {
		flusher.Flush()
	}
}

func (h *SSEStreamHandler) writeError(w io.Writer, flusher http.Flusher, shortID, id, message, errType string) {
	data, err := json.Marshal(map[string]string{
		"error":          message,
		"error_type":     errType,
		"correlation_id": shortID,
	})
	if err != nil {
		return
	}

	ev := sseEvent{event: "error", data: string(data), id: id}
	if err := ev.writeTo(w); err == nil {
		flusher.Flush()
	}
}

func errorType(err error) string {
	switch err.(type) {
	case *engine.RemoteError:
		return "RemoteError"
	case *engine.UnexpectedError:
		return "UnexpectedError"
	default:
		return "Error"
	}
}
