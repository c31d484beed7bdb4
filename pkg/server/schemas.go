package server

import (
	"context"

	"github.com/brewkit/assistant-engine/pkg/assistant"
)

// Engine is the orchestration surface the transport adapters consume.
type Engine interface {
	CreateThread(ctx context.Context) (string, error)
	ProcessRun(ctx context.Context, threadID, query string) ([]string, error)
	ProcessRunStream(ctx context.Context, threadID, query string) (<-chan assistant.RunEvent, <-chan error)
}

// ChatRequest is the body of POST /chat and of each WebSocket frame.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatResponse carries the collected assistant replies.
type ChatResponse struct {
	Responses []string `json:"responses"`
}

// StartResponse is returned by GET /start.
type StartResponse struct {
	ThreadID       string `json:"thread_id"`
	InitialMessage string `json:"initial_message"`
	CorrelationID  string `json:"correlation_id"`
}

// ErrorResponse is the JSON error body for HTTP failures.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// WSError is an error frame pushed to WebSocket clients.
type WSError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Timestamp string `json:"timestamp"`
}
