package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brewkit/assistant-engine/internal/correlation"
	"github.com/brewkit/assistant-engine/internal/metrics"
	"github.com/brewkit/assistant-engine/pkg/engine"
)

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	InitialMessage string
	SSE            SSEConfig
	Engine         Engine
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Server exposes the orchestration engine over HTTP, SSE and WebSocket.
type Server struct {
	host           string
	port           int
	initialMessage string
	engine         Engine
	sse            *SSEStreamHandler
	ws             *WSHandler
	limiter        *ConnectionLimiter
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	server         *http.Server
}

// NewServer creates the transport server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	limiter := NewConnectionLimiter(cfg.SSE.MaxConnectionsPerIP, cfg.Metrics)

	return &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		initialMessage: cfg.InitialMessage,
		engine:         cfg.Engine,
		sse:            NewSSEStreamHandler(cfg.Engine, cfg.SSE, limiter, cfg.Logger, cfg.Metrics),
		ws:             NewWSHandler(cfg.Engine, cfg.Logger, cfg.Metrics),
		limiter:        limiter,
		logger:         cfg.Logger.With().Str("component", "server").Logger(),
		metrics:        cfg.Metrics,
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/chat", s.handleChat)
	mux.Handle("/ws/chat", s.ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Assistant Engine is running"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	correlationID := correlation.New()
	ctx := correlation.WithID(r.Context(), correlationID)

	threadID, err := s.engine.CreateThread(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("X-Correlation-ID", correlationID)
	writeJSON(w, http.StatusOK, StartResponse{
		ThreadID:       threadID,
		InitialMessage: s.initialMessage,
		CorrelationID:  correlationID,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	correlationID := correlation.New()
	ctx := correlation.WithID(r.Context(), correlationID)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Detail: fmt.Sprintf("Invalid request body (correlation_id: %s)", correlation.Truncate(correlationID)),
		})
		return
	}
	if req.ThreadID == "" {
		s.logger.Error().Str("correlation_id", correlationID).Msg("Missing thread_id")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Detail: fmt.Sprintf("Missing thread_id (correlation_id: %s)", correlation.Truncate(correlationID)),
		})
		return
	}

	if wantsSSE(r) {
		s.sse.Stream(w, r.WithContext(ctx), req.ThreadID, req.Message)
		return
	}

	responses, err := s.engine.ProcessRun(ctx, req.ThreadID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("X-Correlation-ID", correlationID)
	writeJSON(w, http.StatusOK, ChatResponse{Responses: responses})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var remote *engine.RemoteError
	if errors.As(err, &remote) {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, ErrorResponse{Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// clientIP extracts the caller's IP, preferring the first X-Forwarded-For
// hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
