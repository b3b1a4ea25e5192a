package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quorumforge/aiorch/internal/access"
)

// authorizeSandboxOp loads the project and checks identity against op
// (RUN for start, STOP for stop/exec/logs) before touching the Sandbox
// Supervisor, since internal/sandbox.Manager itself takes no identity —
// spec §4.1 requires every operation to consult the Access Resolver, and
// this translator is where that consultation happens for the sandbox
// surface.
func (s *Server) authorizeSandboxOp(w http.ResponseWriter, r *http.Request, projectID string, op access.Operation) bool {
	identity := identityFrom(r)
	p, err := s.bundle.Registry.Get(r.Context(), identity, projectID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if err := s.bundle.Access.Authorize(identity, p, op); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func (s *Server) startSandbox(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.authorizeSandboxOp(w, r, projectID, access.OpRun) {
		return
	}
	p, err := s.bundle.Registry.GetUnchecked(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	sb, err := s.bundle.Sandbox.Start(r.Context(), p.ID, p.LocalPath, p.Language, p.Framework)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

func (s *Server) stopSandbox(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.authorizeSandboxOp(w, r, projectID, access.OpStop) {
		return
	}
	if err := s.bundle.Sandbox.Stop(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) execSandbox(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.authorizeSandboxOp(w, r, projectID, access.OpRun) {
		return
	}
	var body struct {
		Command []string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	exitCode, stdout, stderr, err := s.bundle.Sandbox.Exec(r.Context(), projectID, body.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exit_code": exitCode, "stdout": stdout, "stderr": stderr,
	})
}

func (s *Server) sandboxLogs(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.authorizeSandboxOp(w, r, projectID, access.OpRead) {
		return
	}
	lines, err := s.bundle.Sandbox.Logs(projectID, queryInt(r, "n", 200))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

// streamSandboxLogs exposes Sandbox Supervisor's streamLogs (spec §4.4)
// as a restartable-from-now Server-Sent-Events feed: one line per event,
// no history replay, closing when the client disconnects.
func (s *Server) streamSandboxLogs(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.authorizeSandboxOp(w, r, projectID, access.OpRead) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "streaming unsupported"})
		return
	}
	ch, cancel, err := s.bundle.Sandbox.StreamLogs(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(bw, "data: %s\n\n", line)
			bw.Flush()
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(bw, ": keep-alive\n\n")
			bw.Flush()
			flusher.Flush()
		}
	}
}
