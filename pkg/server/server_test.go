package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewkit/assistant-engine/pkg/assistant"
	"github.com/brewkit/assistant-engine/pkg/engine"
)

// fakeEngine replays canned responses and event sequences.
type fakeEngine struct {
	threadID  string
	threadErr error

	responses []string
	runErr    error

	events     []assistant.RunEvent
	streamErr  error
	eventDelay time.Duration
}

func (f *fakeEngine) CreateThread(context.Context) (string, error) {
	if f.threadErr != nil {
		return "", f.threadErr
	}
	return f.threadID, nil
}

func (f *fakeEngine) ProcessRun(context.Context, string, string) ([]string, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.responses, nil
}

func (f *fakeEngine) ProcessRunStream(ctx context.Context, threadID, query string) (<-chan assistant.RunEvent, <-chan error) {
	events := make(chan assistant.RunEvent)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)
		for _, ev := range f.events {
			if f.eventDelay > 0 {
				select {
				case <-time.After(f.eventDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.streamErr != nil {
			errc <- f.streamErr
		}
	}()

	return events, errc
}

func newTestServer(t *testing.T, eng Engine) *Server {
	t.Helper()
	s, err := NewServer(Config{
		Host:           "127.0.0.1",
		Port:           8000,
		InitialMessage: "Hello! How can I help?",
		SSE: SSEConfig{
			HeartbeatInterval:     time.Second,
			MaxConnectionDuration: 5 * time.Second,
			RetryInterval:         5 * time.Second,
			MaxConnectionsPerIP:   5,
		},
		Engine: eng,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func runEvent(name, runID string) assistant.RunEvent {
	return assistant.ParseEvent(name, []byte(fmt.Sprintf(`{"id":%q}`, runID)))
}

func TestNewServer(t *testing.T) {
	t.Run("should reject invalid port", func(t *testing.T) {
		_, err := NewServer(Config{Port: 0, Engine: &fakeEngine{}})
		assert.Error(t, err)
	})

	t.Run("should require an engine", func(t *testing.T) {
		_, err := NewServer(Config{Port: 8000})
		assert.Error(t, err)
	})
}

func TestServer_Root(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Assistant Engine is running")
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Start(t *testing.T) {
	t.Run("should return thread id and initial message", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{threadID: "t1"})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/start", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp StartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "t1", resp.ThreadID)
		assert.Equal(t, "Hello! How can I help?", resp.InitialMessage)
		assert.NotEmpty(t, resp.CorrelationID)
		assert.Equal(t, resp.CorrelationID, rec.Header().Get("X-Correlation-ID"))
	})

	t.Run("should map remote errors to 502", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{
			threadErr: &engine.RemoteError{Operation: "create thread", CorrelationID: "cid", Err: errors.New("x")},
		})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/start", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "failed to create thread")
	})

	t.Run("should map unexpected errors to 500", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{
			threadErr: &engine.UnexpectedError{Operation: "creating thread", CorrelationID: "cid", Err: errors.New("x")},
		})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/start", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("should reject non-GET methods", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestServer_Chat(t *testing.T) {
	t.Run("should return collected responses", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{responses: []string{"hello", "world"}})

		body := strings.NewReader(`{"thread_id":"t1","message":"hi"}`)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", body))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"hello", "world"}, resp.Responses)
	})

	t.Run("should reject missing thread_id", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})

		body := strings.NewReader(`{"message":"hi"}`)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Missing thread_id")
		assert.Contains(t, rec.Body.String(), "correlation_id")
	})

	t.Run("should reject malformed body", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})

		body := strings.NewReader(`{not json`)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should surface processing failure", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{
			runErr: &engine.RemoteError{Operation: "create run", CorrelationID: "cid", Err: errors.New("x")},
		})

		body := strings.NewReader(`{"thread_id":"t1","message":"hi"}`)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", body))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestServer_ChatSSE(t *testing.T) {
	sseRequest := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		req.Header.Set("Accept", "text/event-stream")
		req.RemoteAddr = "10.0.0.1:54321"
		return req
	}

	t.Run("should stream filtered events with metadata", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{events: []assistant.RunEvent{
			runEvent(assistant.EventRunCreated, "r1"),
			assistant.ParseEvent("thread.run.step.cancelled.detail", []byte(`{}`)),
			runEvent(assistant.EventRunCompleted, "r1"),
		}})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, sseRequest(`{"thread_id":"t1","message":"hi"}`))

		out := rec.Body.String()
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
		assert.Contains(t, out, "event: "+assistant.EventRunCreated)
		assert.Contains(t, out, "event: "+assistant.EventRunCompleted)
		assert.NotContains(t, out, "thread.run.step.cancelled.detail")
		assert.Contains(t, out, "event: metadata")
		assert.Contains(t, out, `"event_count":2`)
		assert.Contains(t, out, `"thread_id":"t1"`)
		assert.Contains(t, out, "retry: 5000")
	})

	t.Run("should number event ids with truncated correlation id", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{events: []assistant.RunEvent{
			runEvent(assistant.EventRunCreated, "r1"),
		}})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, sseRequest(`{"thread_id":"t1","message":"hi"}`))

		correlationID := rec.Header().Get("X-Correlation-ID")
		require.NotEmpty(t, correlationID)
		assert.Contains(t, rec.Body.String(),
			fmt.Sprintf("id: %s_%s_1", correlationID[:8], assistant.EventRunCreated))
		assert.NotContains(t, rec.Body.String(), "id: "+correlationID+"_")
	})

	t.Run("should emit error event on stream failure", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{
			streamErr: &engine.RemoteError{Operation: "create run", CorrelationID: "cid", Err: errors.New("x")},
		})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, sseRequest(`{"thread_id":"t1","message":"hi"}`))

		out := rec.Body.String()
		assert.Contains(t, out, "event: error")
		assert.Contains(t, out, `"error_type":"RemoteError"`)
	})

	t.Run("should emit heartbeats while the stream is quiet", func(t *testing.T) {
		eng := &fakeEngine{
			events:     []assistant.RunEvent{runEvent(assistant.EventRunCreated, "r1")},
			eventDelay: 80 * time.Millisecond,
		}
		limiter := NewConnectionLimiter(5, nil)
		h := NewSSEStreamHandler(eng, SSEConfig{
			HeartbeatInterval:     20 * time.Millisecond,
			MaxConnectionDuration: time.Second,
			RetryInterval:         5 * time.Second,
		}, limiter, zerolog.Nop(), nil)

		rec := httptest.NewRecorder()
		h.Stream(rec, sseRequest(`{}`), "t1", "hi")

		assert.Contains(t, rec.Body.String(), ": keepalive")
	})

	t.Run("should end the connection at the maximum duration", func(t *testing.T) {
		eng := &fakeEngine{
			events:     []assistant.RunEvent{runEvent(assistant.EventRunCreated, "r1")},
			eventDelay: 500 * time.Millisecond,
		}
		limiter := NewConnectionLimiter(5, nil)
		h := NewSSEStreamHandler(eng, SSEConfig{
			HeartbeatInterval:     time.Second,
			MaxConnectionDuration: 30 * time.Millisecond,
			RetryInterval:         5 * time.Second,
		}, limiter, zerolog.Nop(), nil)

		rec := httptest.NewRecorder()
		h.Stream(rec, sseRequest(`{}`), "t1", "hi")

		out := rec.Body.String()
		assert.Contains(t, out, "Connection timeout reached")
		assert.Contains(t, out, "ConnectionTimeoutError")
		assert.Contains(t, out, "_timeout")
	})

	t.Run("should reject connections over the per-IP limit", func(t *testing.T) {
		eng := &fakeEngine{events: []assistant.RunEvent{runEvent(assistant.EventRunCreated, "r1")}}
		limiter := NewConnectionLimiter(1, nil)
		release, ok := limiter.Acquire("10.0.0.1")
		require.True(t, ok)
		defer release()

		h := NewSSEStreamHandler(eng, SSEConfig{
			HeartbeatInterval:     time.Second,
			MaxConnectionDuration: time.Second,
			RetryInterval:         5 * time.Second,
		}, limiter, zerolog.Nop(), nil)

		rec := httptest.NewRecorder()
		h.Stream(rec, sseRequest(`{}`), "t1", "hi")

		out := rec.Body.String()
		assert.Contains(t, out, "Rate limit exceeded")
		assert.Contains(t, out, "RateLimitError")
	})
}

func TestClientIP(t *testing.T) {
	t.Run("should prefer forwarded header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		assert.Equal(t, "203.0.113.7", clientIP(req))
	})

	t.Run("should strip the port from the remote address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.9:1234"
		assert.Equal(t, "192.0.2.9", clientIP(req))
	})
}
