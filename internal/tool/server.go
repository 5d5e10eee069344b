package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server exposes a registry over HTTP so heavy tools (browser automation)
// can live in their own process. Proxied calls arrive at /api/tools/run
// and go through the same dispatcher as local calls.
type Server struct {
	dispatcher *Dispatcher
	registry   *Registry
	logger     *slog.Logger
	httpServer *http.Server
}

func NewServer(addr string, dispatcher *Dispatcher, registry *Registry, logger *slog.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ToolsRunPath, s.handleRun)
	mux.HandleFunc("GET /api/tools", s.handleList)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("tool server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("tool server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing tool name"})
		return
	}

	s.logger.Info("remote dispatch", "tool", req.Tool)
	result := s.dispatcher.Dispatch(r.Context(), req.Tool, req.Args)
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Definitions()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": len(s.registry.Names())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
