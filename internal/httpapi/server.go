// Package httpapi exposes the harness over HTTP: the inbound message
// webhook, operator takeover endpoints, and fleet administration.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/haasonsaas/crew/internal/directory"
	"github.com/haasonsaas/crew/internal/pipeline"
	"github.com/haasonsaas/crew/internal/sessions"
	"github.com/haasonsaas/crew/internal/team"
	"github.com/haasonsaas/crew/pkg/models"
)

// Handler serves the harness HTTP API.
type Handler struct {
	pipeline  *pipeline.Pipeline
	harness   *team.Harness
	store     sessions.Store
	directory *directory.Directory
	logger    *slog.Logger
}

// NewHandler assembles the API handler.
func NewHandler(p *pipeline.Pipeline, h *team.Harness, store sessions.Store, dir *directory.Directory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pipeline: p, harness: h, store: store, directory: dir, logger: logger}
}

// Mount registers all routes on a mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/inbound", h.handleInbound)
	mux.HandleFunc("POST /v1/sessions/{id}/operator-message", h.handleOperatorMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/resume", h.handleResume)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("PUT /v1/orgs", h.handlePutOrg)
	mux.HandleFunc("PUT /v1/agents", h.handlePutAgent)
	mux.HandleFunc("GET /v1/agents", h.handleListAgents)
	mux.HandleFunc("POST /v1/agents/{id}/workers", h.handleAcquireWorker)
	mux.HandleFunc("GET /healthz", handleHealthz)
}

type inboundRequest struct {
	OrgID     string `json:"org_id"`
	AgentID   string `json:"agent_id"`
	Channel   string `json:"channel"`
	ContactID string `json:"contact_id"`
	Text      string `json:"text"`
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := h.pipeline.HandleInbound(r.Context(), pipeline.Inbound{
		OrgID:     req.OrgID,
		AgentID:   req.AgentID,
		Channel:   models.ChannelType(req.Channel),
		ContactID: req.ContactID,
		Text:      req.Text,
	})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrEmptyMessage),
			errors.Is(err, pipeline.ErrUnknownAgent),
			errors.Is(err, pipeline.ErrAgentOrgMismatch):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("inbound handling failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type operatorMessageRequest struct {
	OperatorID string `json:"operator_id"`
	Text       string `json:"text"`
}

func (h *Handler) handleOperatorMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req operatorMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OperatorID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "operator_id and text are required")
		return
	}
	if err := h.harness.HandleHumanMessage(r.Context(), session, req.OperatorID, req.Text); err != nil {
		if errors.Is(err, team.ErrNotHandedOff) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("operator message failed", "session_id", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if err := h.harness.Resume(r.Context(), session); err != nil {
		if errors.Is(err, team.ErrNotHandedOff) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("resume failed", "session_id", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handlePutOrg(w http.ResponseWriter, r *http.Request) {
	var org models.Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil || org.ID == "" {
		writeError(w, http.StatusBadRequest, "organization with id is required")
		return
	}
	h.directory.PutOrg(&org)
	writeJSON(w, http.StatusOK, &org)
}

func (h *Handler) handlePutAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil || agent.ID == "" || agent.OrgID == "" {
		writeError(w, http.StatusBadRequest, "agent with id and org_id is required")
		return
	}
	h.directory.PutAgent(&agent)
	writeJSON(w, http.StatusOK, &agent)
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.Agents())
}

func (h *Handler) handleAcquireWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := h.directory.AcquireWorker(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	session, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		h.logger.Error("session lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return session, true
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server runs the API with graceful shutdown.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer binds the handler to an address.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http listen: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Start serves in a goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("http server listening", "addr", s.server.Addr)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
}
