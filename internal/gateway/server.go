// Package gateway exposes the engine over HTTP: a small JSON API for tasks,
// nodes and events, plus the WebSocket endpoint remote nodes connect to.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/droverhq/drover/internal/agents"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/remote"
	"github.com/droverhq/drover/internal/tasks"
)

// Deps are the collaborators the server exposes. Supervisor and Bus may be
// nil; the matching endpoints then degrade gracefully.
type Deps struct {
	Repo       *tasks.Repository
	Nodes      *remote.Registry
	Bus        *events.Bus
	Supervisor *agents.Supervisor
}

// Server is the drover gateway HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	hub        *Hub
	deps       Deps
}

// NewServer wires routes and the node hub. It does not start listening.
func NewServer(deps Deps, host string, port int) *Server {
	hub := NewHub(deps.Nodes, deps.Bus)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		router: r,
		hub:    hub,
		deps:   deps,
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/tasks", s.handleListTasks)
	r.Post("/api/tasks", s.handleCreateTask)
	r.Get("/api/tasks/{id}", s.handleGetTask)
	r.Get("/api/nodes", s.handleNodes)
	r.Get("/api/events", s.handleEvents)
	r.Get("/ws", hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Handler returns the route tree, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the node hub so the supervisor can delegate through it.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins listening and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server and node connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"connected_nodes": s.hub.Connected(),
		"time":            time.Now().Format(time.RFC3339),
	}
	if s.deps.Supervisor != nil {
		out["queued"] = s.deps.Supervisor.QueueLen()
		out["active"] = s.deps.Supervisor.ActiveCount()
		out["workers"] = s.deps.Supervisor.WorkerStatuses()
	}
	if s.deps.Repo != nil {
		out["tasks"] = len(s.deps.Repo.ListAll())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var list []*tasks.Task
	if status := r.URL.Query().Get("status"); status != "" {
		list = s.deps.Repo.ListByStatus(tasks.Status(status))
	} else {
		list = s.deps.Repo.ListAll()
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal     string `json:"goal"`
		Priority int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Goal == "" {
		http.Error(w, "goal is required", http.StatusBadRequest)
		return
	}

	task, err := s.deps.Repo.Create(req.Goal)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if req.Priority != 0 {
		task.Priority = req.Priority
		if err := s.deps.Repo.Update(task); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(events.NewTaskEvent(events.EventTaskCreated, events.SourceGateway, task.ID, map[string]any{"goal": task.Goal}))
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, ok := s.deps.Repo.Get(id)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Nodes == nil {
		writeJSON(w, http.StatusOK, []remote.Node{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Nodes.List())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if s.deps.Bus == nil {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Bus.History(limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("gateway response encode", "error", err)
	}
}
