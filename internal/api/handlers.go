package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxgate/voxgate/internal/dashboard"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/database/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.coordinator.AgentList()
	if agents == nil {
		agents = []dashboard.AgentInfo{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.List())
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.executor.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

// listEntry is the wire form of blacklist and whitelist rows.
type listEntry struct {
	CallerID string    `json:"caller_id"`
	Reason   string    `json:"reason,omitempty"`
	Note     string    `json:"note,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

func (s *Server) handleBlacklistList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.access.Blacklist(r.Context())
	if err != nil {
		s.logger.Error("listing blacklist", "error", err)
		writeError(w, http.StatusInternalServerError, "listing blacklist failed")
		return
	}

	out := make([]listEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, listEntry{CallerID: e.CallerID, Reason: e.Reason, AddedAt: e.BlockedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
		Reason   string `json:"reason"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	req.CallerID = strings.TrimSpace(req.CallerID)
	if req.CallerID == "" {
		writeError(w, http.StatusBadRequest, "caller_id is required")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if err := s.access.AddToBlacklist(r.Context(), req.CallerID, req.Reason); err != nil {
		s.logger.Error("adding to blacklist", "caller_id", req.CallerID, "error", err)
		writeError(w, http.StatusInternalServerError, "adding to blacklist failed")
		return
	}

	s.hub.Broadcast(dashboard.NewBlacklistUpdated())
	writeJSON(w, http.StatusCreated, map[string]string{"caller_id": req.CallerID})
}

func (s *Server) handleBlacklistRemove(w http.ResponseWriter, r *http.Request) {
	caller := chi.URLParam(r, "caller")
	if err := s.access.RemoveFromBlacklist(r.Context(), caller); err != nil {
		s.logger.Error("removing from blacklist", "caller_id", caller, "error", err)
		writeError(w, http.StatusInternalServerError, "removing from blacklist failed")
		return
	}
	s.hub.Broadcast(dashboard.NewBlacklistUpdated())
	writeJSON(w, http.StatusOK, map[string]string{"caller_id": caller})
}

func (s *Server) handleWhitelistList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.access.Whitelist(r.Context())
	if err != nil {
		s.logger.Error("listing whitelist", "error", err)
		writeError(w, http.StatusInternalServerError, "listing whitelist failed")
		return
	}

	out := make([]listEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, listEntry{CallerID: e.CallerID, Note: e.Note, AddedAt: e.AddedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
		Note     string `json:"note"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	req.CallerID = strings.TrimSpace(req.CallerID)
	if req.CallerID == "" {
		writeError(w, http.StatusBadRequest, "caller_id is required")
		return
	}

	if err := s.access.AddToWhitelist(r.Context(), req.CallerID, req.Note); err != nil {
		s.logger.Error("adding to whitelist", "caller_id", req.CallerID, "error", err)
		writeError(w, http.StatusInternalServerError, "adding to whitelist failed")
		return
	}

	s.hub.Broadcast(dashboard.NewWhitelistUpdated())
	writeJSON(w, http.StatusCreated, map[string]string{"caller_id": req.CallerID})
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	caller := chi.URLParam(r, "caller")
	if err := s.access.RemoveFromWhitelist(r.Context(), caller); err != nil {
		s.logger.Error("removing from whitelist", "caller_id", caller, "error", err)
		writeError(w, http.StatusInternalServerError, "removing from whitelist failed")
		return
	}
	s.hub.Broadcast(dashboard.NewWhitelistUpdated())
	writeJSON(w, http.StatusOK, map[string]string{"caller_id": caller})
}

// callSummary is the list view of a call record. Transcript and logs are
// only included in the detail view.
type callSummary struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"caller_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationS  int        `json:"duration_s"`
	CostCents  float64    `json:"cost_cents"`
	EndReason  string     `json:"end_reason,omitempty"`
	Model      string     `json:"model,omitempty"`
	FinalAgent string     `json:"final_agent,omitempty"`
}

type callDetail struct {
	callSummary
	Transcript json.RawMessage `json:"transcript"`
	Logs       string          `json:"logs"`
}

func summarize(c *models.Call) callSummary {
	return callSummary{
		ID:         c.ID,
		CallerID:   c.CallerID,
		StartedAt:  c.StartedAt,
		EndedAt:    c.EndedAt,
		DurationS:  c.DurationS,
		CostCents:  c.CostCents,
		EndReason:  c.EndReason,
		Model:      c.Model,
		FinalAgent: c.FinalAgent,
	}
}

func (s *Server) handleCallList(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter := database.CallListFilter{
		CallerID: r.URL.Query().Get("caller_id"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}

	calls, total, err := s.calls.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing calls", "error", err)
		writeError(w, http.StatusInternalServerError, "listing calls failed")
		return
	}

	summaries := make([]callSummary, 0, len(calls))
	for i := range calls {
		summaries = append(summaries, summarize(&calls[i]))
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  summaries,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

func (s *Server) handleCallGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.calls.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("loading call", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading call failed")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	transcript := json.RawMessage(c.Transcript)
	if len(transcript) == 0 {
		transcript = json.RawMessage("[]")
	}
	writeJSON(w, http.StatusOK, callDetail{
		callSummary: summarize(c),
		Transcript:  transcript,
		Logs:        c.Logs,
	})
}

func (s *Server) handleActiveHangup(w http.ResponseWriter, r *http.Request) {
	sup := s.coordinator.ActiveSupervisor()
	if sup == nil {
		writeError(w, http.StatusNotFound, "no active call")
		return
	}
	sup.Hangup("api_hangup")
	writeJSON(w, http.StatusOK, map[string]string{"status": "hangup requested"})
}
