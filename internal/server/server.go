package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/cors"

	"github.com/egeucak/api-doc-gpt/internal/agent"
	"github.com/egeucak/api-doc-gpt/internal/config"
	"github.com/egeucak/api-doc-gpt/internal/store"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

// Engine is a live conversation.
type Engine interface {
	Ask(ctx context.Context, question string) (string, error)
	SessionID() string
}

// Factory starts a new conversation.
type Factory func(ctx context.Context) (Engine, error)

type liveEngine struct {
	mu     sync.Mutex
	engine Engine
}

// Server exposes sessions and questions over HTTP.
type Server struct {
	cfg       *config.Config
	store     store.Store
	newEngine Factory
	logger    *slog.Logger
	mux       *http.ServeMux

	// engines are kept for the life of the process; deleting the session
	// is the only eviction.
	mu      sync.Mutex
	engines map[string]*liveEngine
}

// New constructs a new Server with routes registered.
func New(cfg *config.Config, st store.Store, newEngine Factory, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if newEngine == nil {
		return nil, errors.New("engine factory is nil")
	}

	srv := &Server{
		cfg:       cfg,
		store:     st,
		newEngine: newEngine,
		logger:    logger,
		mux:       http.NewServeMux(),
		engines:   make(map[string]*liveEngine),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	if len(s.cfg.Server.CORSOrigins) == 0 {
		return cors.AllowAll().Handler(s.mux)
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.mux)
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	s.mux.HandleFunc("/api/ask", s.handleAsk)
	s.mux.HandleFunc("/api/tables", s.handleTables)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	id, tail, ok := splitPath(r.URL.Path, "/api/sessions/")
	if !ok || id == "" || tail != "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleSessionDetail(w, id)
	case http.MethodDelete:
		s.handleSessionDelete(w, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, id string) {
	sess, err := s.store.GetSession(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	turns, err := s.store.GetTurns(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Session *types.Session     `json:"session"`
		Turns   []types.StoredTurn `json:"turns"`
	}{
		Session: sess,
		Turns:   turns,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, id string) {
	if err := s.store.DeleteSession(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	delete(s.engines, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Question  string `json:"question"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question required", http.StatusBadRequest)
		return
	}

	live, status, err := s.engineFor(r.Context(), req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	live.mu.Lock()
	answer, err := live.engine.Ask(r.Context(), req.Question)
	live.mu.Unlock()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("ask failed", "session", live.engine.SessionID(), "err", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"session_id": live.engine.SessionID(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": live.engine.SessionID(), "answer": answer})
}

func (s *Server) engineFor(ctx context.Context, sessionID string) (*liveEngine, int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		s.mu.Lock()
		live, ok := s.engines[sessionID]
		s.mu.Unlock()
		if !ok {
			return nil, http.StatusNotFound, errors.New("session is not active")
		}
		return live, http.StatusOK, nil
	}

	e, err := s.newEngine(ctx)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if e.SessionID() == "" {
		return nil, http.StatusInternalServerError, errors.New("engine has no session id")
	}
	live := &liveEngine{engine: e}
	s.mu.Lock()
	s.engines[e.SessionID()] = live
	s.mu.Unlock()
	return live, http.StatusOK, nil
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d, err := agent.Describe(r.Context(), s.cfg, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"title": d.Title, "base_url": d.BaseURL, "tables": d.Tables})
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
