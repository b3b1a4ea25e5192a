package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quorumforge/aiorch/internal/core"
)

func (s *Server) submitWorkflow(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	var body struct {
		ProjectID string                 `json:"project_id"`
		Steps     []core.StepName        `json:"steps"`
		Config    map[string]interface{} `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	id, err := s.bundle.Workflow.Submit(r.Context(), identity, body.ProjectID, body.Steps, body.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id})
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	wf, err := s.bundle.Workflow.Get(r.Context(), identity, chi.URLParam(r, "workflowID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	status, err := s.bundle.Workflow.Cancel(r.Context(), identity, chi.URLParam(r, "workflowID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) workflowLogs(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	chunks, err := s.bundle.Workflow.Logs(r.Context(), identity, chi.URLParam(r, "workflowID"), queryInt(r, "from", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}
