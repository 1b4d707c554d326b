// Package gateway exposes the HTTP surface: session creation and the
// streaming chat endpoint clients connect to directly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/canonhq/canon/internal/assistant"
	"github.com/canonhq/canon/internal/observability"
	"github.com/canonhq/canon/internal/run"
	"github.com/canonhq/canon/internal/store"
)

// Threads is the conversation surface the gateway needs from the reasoning
// service client.
type Threads interface {
	CreateThread(ctx context.Context) (threadID string, err error)
	AddUserMessage(ctx context.Context, threadID, text string) error
}

// RunStarter starts a streaming run on a thread.
type RunStarter interface {
	StreamRun(ctx context.Context, threadID string, req openai.RunRequest) (assistant.EventStream, error)
}

// Streamer is the full streaming surface: starting runs and resuming them
// with tool outputs.
type Streamer interface {
	RunStarter
	run.Resumer
}

// Config configures the gateway server.
type Config struct {
	Addr string

	// PublicBaseURL is the externally reachable base URL, used to build the
	// stream_url returned from session creation. Chat responses are
	// long-lived streams, so clients connect here directly rather than
	// through the routing layer.
	PublicBaseURL string
}

// Server is the HTTP gateway.
type Server struct {
	config   Config
	verifier *Verifier
	threads  Threads
	streamer Streamer
	tools    run.ToolRunner
	sessions store.SessionStore
	records  store.AssistantStore

	logger  *observability.Logger
	metrics *observability.Metrics

	httpServer *http.Server
	newID      func() string
}

// NewServer wires the gateway.
func NewServer(config Config, verifier *Verifier, threads Threads, streamer Streamer, tools run.ToolRunner, sessions store.SessionStore, records store.AssistantStore, logger *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		config:   config,
		verifier: verifier,
		threads:  threads,
		streamer: streamer,
		tools:    tools,
		sessions: sessions,
		records:  records,
		logger:   logger,
		metrics:  metrics,
		newID:    uuid.NewString,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/sessions", s.instrument("/v1/sessions", s.handleCreateSession))
	mux.HandleFunc("POST /v1/chat", s.instrument("/v1/chat", s.handleChat))
	return mux
}

// Start serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info(ctx, "gateway listening", "addr", listener.Addr().String())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// instrument records request latency per route.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		s.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	}
}

// statusRecorder captures the response status for metrics. Flush is forwarded
// so streaming handlers behind it still flush per record.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// handleCreateSession opens a conversation for the caller. The caller must
// already have a knowledge index; chatting with nothing indexed is a 404, not
// an implicit index creation.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := s.verifier.Authenticate(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx = observability.WithUser(ctx, identity.UserID)

	record, err := s.records.GetByUser(ctx, identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no knowledge index for user")
		return
	}
	if err != nil {
		s.logger.Error(ctx, "load index record", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	threadID, err := s.threads.CreateThread(ctx)
	if err != nil {
		s.logger.Error(ctx, "create thread", "error", err)
		s.writeError(w, http.StatusBadGateway, "could not create conversation")
		return
	}

	session := &store.Session{
		ID:          s.newID(),
		UserID:      identity.UserID,
		AssistantID: record.AssistantID,
		ThreadID:    threadID,
		Credential:  identity.Credential,
		CreatedAt:   time.Now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Error(ctx, "persist session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info(ctx, "session created", "session_id", session.ID, "thread_id", threadID)
	s.writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: session.ID,
		StreamURL: s.config.PublicBaseURL + "/v1/chat?session_id=" + session.ID,
	})
}

type chatRequest struct {
	Message      string `json:"message"`
	Instructions string `json:"instructions,omitempty"`
}

// handleChat appends the user's message and streams the run back as
// newline-delimited JSON, one record per content event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := s.verifier.Authenticate(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx = observability.WithUser(ctx, identity.UserID)

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		s.logger.Error(ctx, "load session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Sessions are only visible to the user who created them.
	if session.UserID != identity.UserID {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	ctx = observability.WithSession(ctx, session.ID)

	if err := s.threads.AddUserMessage(ctx, session.ThreadID, req.Message); err != nil {
		s.logger.Error(ctx, "append message", "error", err)
		s.writeError(w, http.StatusBadGateway, "could not append message")
		return
	}

	stream, err := s.streamer.StreamRun(ctx, session.ThreadID, openai.RunRequest{
		AssistantID:  session.AssistantID,
		Instructions: req.Instructions,
	})
	if err != nil {
		s.logger.Error(ctx, "start run", "error", err)
		s.writeError(w, http.StatusBadGateway, "could not start run")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()

	handler := run.NewHandler(s.streamer, s.tools, w, session.Credential, s.logger, s.metrics)
	if err := handler.Drain(ctx, stream); err != nil {
		// The handler already wrote the terminal error record; the response
		// is committed, so there is nothing else to send.
		s.logger.Error(ctx, "run drain", "error", err, "session_id", session.ID)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(context.Background(), "encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
