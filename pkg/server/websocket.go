package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/correlation"
	"github.com/brewkit/assistant-engine/internal/metrics"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// WSHandler forwards run events over a WebSocket connection. The connection
// stays open across multiple request/response cycles until the client
// disconnects.
type WSHandler struct {
	engine   Engine
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewWSHandler creates the WebSocket adapter.
func NewWSHandler(eng Engine, logger zerolog.Logger, m *metrics.Metrics) *WSHandler {
	return &WSHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "websocket").Logger(),
		metrics: m,
	}
}

// ServeHTTP upgrades the connection and runs the message loop.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	connID, _ := gonanoid.New()
	h.logger.Info().
		Str("connection_id", connID).
		Str("ip", r.RemoteAddr).
		Msg("WebSocket connection accepted")

	if h.metrics != nil {
		h.metrics.StreamsActive.WithLabelValues("websocket").Inc()
		defer h.metrics.StreamsActive.WithLabelValues("websocket").Dec()
	}

	defer func() {
		conn.Close()
		h.logger.Info().Str("connection_id", connID).Msg("WebSocket connection closing")
	}()

	h.messageLoop(r.Context(), conn, connID)
}

func (h *WSHandler) messageLoop(ctx context.Context, conn *websocket.Conn, connID string) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error().Err(err).Str("connection_id", connID).Msg("WebSocket error")
			}
			return
		}

		var req ChatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			h.logger.Warn().
				Err(err).
				Str("connection_id", connID).
				Msg("WebSocket JSON parsing error")
			h.sendError(conn, connID, "JSON parsing error", "invalid_json")
			continue
		}

		if req.ThreadID == "" || req.Message == "" {
			h.logger.Warn().
				Str("connection_id", connID).
				Bool("has_thread_id", req.ThreadID != "").
				Bool("has_message", req.Message != "").
				Msg("WebSocket request missing required fields")
			h.sendError(conn, connID, "Missing thread_id or message", "missing_fields")
			continue
		}

		// Each request/response cycle gets its own correlation id.
		correlationID := correlation.New()
		turnCtx := correlation.WithID(ctx, correlationID)
		h.logger.Info().
			Str("connection_id", connID).
			Str("thread_id", req.ThreadID).
			Str("correlation_id", correlationID).
			Int("message_length", len(req.Message)).
			Msg("Starting WebSocket stream")

		if !h.streamTurn(turnCtx, conn, connID, req) {
			return
		}
	}
}

// streamTurn pushes one turn's events to the client. It returns false when
// the connection is no longer writable.
func (h *WSHandler) streamTurn(ctx context.Context, conn *websocket.Conn, connID string, req ChatRequest) bool {
	events, errc := h.engine.ProcessRunStream(ctx, req.ThreadID, req.Message)

	for ev := range events {
		payload, err := ev.Envelope()
		if err != nil {
			h.logger.Error().
				Err(err).
				Str("connection_id", connID).
				Str("event", ev.Event).
				Msg("Failed to serialize event")
			continue
		}

		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Error().
				Err(err).
				Str("connection_id", connID).
				Msg("Failed to send event")
			return false
		}
	}

	if err := <-errc; err != nil {
		h.logger.Error().
			Err(err).
			Str("connection_id", connID).
			Str("thread_id", req.ThreadID).
			Msg("Error processing WebSocket stream")
		h.sendError(conn, connID, err.Error(), "processing_error")
	}
	return true
}

func (h *WSHandler) sendError(conn *websocket.Conn, connID, message, code string) {
	frame := WSError{
		Error:     message,
		ErrorCode: code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Debug().
			Err(err).
			Str("connection_id", connID).
			Str("error_code", code).
			Msg("Failed to send WebSocket error message")
	}
}
