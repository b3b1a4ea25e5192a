package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/quorumforge/aiorch/internal/core"
)

func (s *Server) agentAct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind    core.AgentTaskKind    `json:"kind"`
		Prompt  string                `json:"prompt"`
		Context map[string]interface{} `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	task := &core.AgentTask{
		ID:      uuid.NewString(),
		Kind:    body.Kind,
		Prompt:  body.Prompt,
		Context: body.Context,
		Results: map[string]string{},
		State:   core.AgentTaskPending,
	}
	result, err := s.bundle.Swarm.Act(r.Context(), task, body.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) visibleUsers(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	ids := s.bundle.Access.VisibleUserIDs(identity, tenantUserIDsFrom(r))
	if ids == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"unbounded": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_ids": ids})
}
