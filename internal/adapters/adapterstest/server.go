// Package adapterstest provides a scripted wingman server for tests.
package adapterstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/streamctl/internal/adapters"
	"github.com/opencode-ai/streamctl/internal/models"
)

// Script is one scripted stream response.
type Script struct {
	// Status, when set, rejects the request with this status instead of streaming.
	Status int

	// Chunks are written and flushed one at a time.
	Chunks []string

	// Delay is slept between chunks.
	Delay time.Duration

	// Hold keeps the stream open after the last chunk until it is closed or
	// the client goes away.
	Hold chan struct{}

	// Started is closed once the first chunk was flushed.
	Started chan struct{}
}

// Server is a fake wingman server.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	sessions    map[string]*models.SessionRecord
	order       []string
	scripts     map[string][]Script
	requests    []adapters.MessageRequest
	getFailures []int
	gets        int
	nextID      int
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		sessions: make(map[string]*models.SessionRecord),
		scripts:  make(map[string][]Script),
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/message/stream", s.handleStream)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Frame renders one event-stream frame.
func Frame(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

// AddSession registers a session with the given history.
func (s *Server) AddSession(id string, history []models.StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		s.order = append(s.order, id)
	}
	s.sessions[id] = &models.SessionRecord{
		ID:        id,
		History:   history,
		CreatedAt: time.Unix(0, 0).UTC().Format(time.RFC3339),
	}
}

// SetHistory replaces a session's stored history.
func (s *Server) SetHistory(id string, history []models.StoredMessage) {
	s.AddSession(id, history)
}

// QueueStream queues a scripted response for the next stream request on id.
func (s *Server) QueueStream(id string, script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[id] = append(s.scripts[id], script)
}

// FailGets makes the next GET /sessions/{id} calls fail with the given
// statuses, one per call.
func (s *Server) FailGets(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getFailures = append(s.getFailures, statuses...)
}

// Requests returns the stream requests received so far.
func (s *Server) Requests() []adapters.MessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]adapters.MessageRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Gets returns how many GET /sessions/{id} calls were received.
func (s *Server) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]*models.SessionRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkDir string `json:"work_dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("sess-%d", s.nextID)
	rec := &models.SessionRecord{ID: id, WorkDir: req.WorkDir, History: []models.StoredMessage{}}
	s.sessions[id] = rec
	s.order = append(s.order, id)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	s.gets++
	if len(s.getFailures) > 0 {
		status := s.getFailures[0]
		s.getFailures = s.getFailures[1:]
		s.mu.Unlock()
		writeError(w, status, "injected failure")
		return
	}
	rec, ok := s.sessions[id]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req adapters.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	_, known := s.sessions[id]
	var script Script
	queued := s.scripts[id]
	if len(queued) > 0 {
		script = queued[0]
		s.scripts[id] = queued[1:]
	}
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if !known {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if script.Status != 0 {
		writeError(w, script.Status, "scripted failure")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for i, chunk := range script.Chunks {
		if i > 0 && script.Delay > 0 {
			select {
			case <-time.After(script.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if i == 0 && script.Started != nil {
			close(script.Started)
		}
	}
	if len(script.Chunks) == 0 && script.Started != nil {
		close(script.Started)
	}

	if script.Hold != nil {
		select {
		case <-script.Hold:
		case <-r.Context().Done():
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
