package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/jingkaihe/skillgate/pkg/skills"
)

// CreateSessionRequest is the optional body of POST /sessions.
type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// TransitionRequest is the body of POST /sessions/{id}/transitions.
type TransitionRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// ModeInfo describes one mode's action policy.
type ModeInfo struct {
	Mode    mode.Mode     `json:"mode"`
	Allowed []mode.Action `json:"allowed"`
	Denied  []mode.Action `json:"denied"`
}

// SkillInfo is a catalog entry as listed by GET /skills.
type SkillInfo struct {
	skills.Descriptor
	Rules   []string `json:"rules"`
	Enabled bool     `json:"enabled"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	var opts []session.Option
	if id := strings.TrimSpace(req.ID); id != "" {
		opts = append(opts, session.WithID(id))
	}

	c, err := s.manager.Create(ctx, opts...)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	state, err := s.manager.Snapshot(c.ID())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, state)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string][]string{"sessions": s.manager.IDs()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := s.manager.Snapshot(mux.Vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, state)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.manager.Close(ctx, mux.Vars(r)["id"]); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var turn session.Turn
	if err := decodeBody(w, r, &turn); err != nil {
		writeError(ctx, w, err)
		return
	}
	turn.Action = mode.ParseAction(string(turn.Action))
	if turn.AssumedMode != "" {
		m, err := mode.Parse(string(turn.AssumedMode))
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		turn.AssumedMode = m
	}

	decision, err := s.manager.Handle(ctx, mux.Vars(r)["id"], turn)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, decision)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransitionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	to, err := mode.Parse(req.To)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	rec, err := s.manager.Transition(ctx, mux.Vars(r)["id"], to, req.Reason)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, rec)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.lister == nil {
		writeError(ctx, w, errNoAuditLog)
		return
	}

	entries, err := s.lister.List(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"transitions": entries})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	modes := mode.All()
	infos := make([]ModeInfo, 0, len(modes))
	for _, m := range modes {
		infos = append(infos, ModeInfo{Mode: m, Allowed: mode.Allowed(m), Denied: mode.Denied(m)})
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"modes": infos})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	reg := s.manager.Registry()
	var infos []SkillInfo
	for _, p := range reg.Packs() {
		for _, desc := range p.Descriptors {
			info := SkillInfo{Descriptor: desc, Enabled: p.Enabled}
			for _, rule := range desc.Rules {
				info.Rules = append(info.Rules, rule.String())
			}
			infos = append(infos, info)
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"skills": infos})
}
