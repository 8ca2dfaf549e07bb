package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inspector exposes read access to persisted checkpoints.
// checkpoint.Manager satisfies it.
type Inspector interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, workflowID string) (*domain.Checkpoint, error)
}

// Server serves the read-only inspection API.
type Server struct {
	Inspector Inspector
	Streams   *StreamManager

	gatherer prometheus.Gatherer
	version  string
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithStreams shares a StreamManager, typically one whose Hooks are installed on a Party.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler over the inspector.
func NewHandler(insp Inspector, opts ...Option) http.Handler {
	s := &Server{
		Inspector: insp,
		version:   "dev",
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/events", s.SubscribeEvents)
	r.Get("/workflows", s.ListWorkflows)
	r.Get("/workflows/{workflowID}", s.GetWorkflow)
	r.Get("/workflows/{workflowID}/sessions/{sessionID}", s.GetSession)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "parley-http",
		"version": s.version,
	})
}

// ListWorkflows handles the GET /workflows request.
func (s *Server) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Inspector.List(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("List error: %v", err), http.StatusInternalServerError)
		s.logger.Error("List failed", "error", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

// GetWorkflow handles the GET /workflows/{workflowID} request.
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	cp, ok := s.load(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, cp)
}

// GetSession handles the GET /workflows/{workflowID}/sessions/{sessionID} request.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	cp, ok := s.load(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if session, ok := cp.Session(sessionID); ok {
		s.writeJSON(w, http.StatusOK, session)
		return
	}
	if ts, ok := cp.Tombstones[sessionID]; ok {
		s.writeJSON(w, http.StatusGone, ts)
		return
	}
	http.Error(w, "Session not found", http.StatusNotFound)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (*domain.Checkpoint, bool) {
	workflowID := chi.URLParam(r, "workflowID")
	cp, err := s.Inspector.Load(r.Context(), workflowID)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Load error: %v", err), http.StatusInternalServerError)
		s.logger.Error("Load failed", "error", err, "workflow_id", workflowID)
		return nil, false
	}
	return cp, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "error", err)
	}
}

// SubscribeEvents handles the GET /events request (SSE).
// With ?workflow_id= only that workflow's transitions are streamed.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topic := r.URL.Query().Get("workflow_id")
	if topic == "" {
		topic = allTopics
	}
	ch, cancel := s.Streams.Subscribe(topic)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "topic", topic)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

const allTopics = "*"

// StreamManager fans status transitions out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // topic -> set of channels
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

func (sm *StreamManager) Subscribe(topic string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[topic]; !ok {
		sm.subscribers[topic] = make(map[chan<- string]struct{})
	}
	sm.subscribers[topic][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[topic]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, topic)
			}
		}
	}
}

// Broadcast sends msg to subscribers of the workflow and to global subscribers.
func (sm *StreamManager) Broadcast(workflowID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, topic := range []string{workflowID, allTopics} {
		for ch := range sm.subscribers[topic] {
			select {
			case ch <- msg:
			default:
				// slow client
				sm.logger.Warn("SSE: client buffer full, dropping message", "workflow_id", workflowID)
			}
		}
	}
}

type statusMessage struct {
	WorkflowID string               `json:"workflow_id"`
	SessionID  string               `json:"session_id"`
	From       domain.SessionStatus `json:"from"`
	To         domain.SessionStatus `json:"to"`
	Reason     string               `json:"reason,omitempty"`
}

// Hooks returns lifecycle hooks that broadcast every status transition.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStatusChange: func(_ context.Context, ev *domain.StatusEvent) {
			b, err := json.Marshal(statusMessage{
				WorkflowID: ev.WorkflowID,
				SessionID:  ev.SessionID,
				From:       ev.From,
				To:         ev.To,
				Reason:     ev.Reason,
			})
			if err != nil {
				return
			}
			sm.Broadcast(ev.WorkflowID, string(b))
		},
	}
}
