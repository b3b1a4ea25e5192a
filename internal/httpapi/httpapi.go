// Package httpapi is the thin HTTP translator spec §9 calls for:
// "ad-hoc exception -> HTTP mapping scattered across controllers...
// centralize on the error-kind taxonomy in §7; the HTTP boundary is a
// single translator." It exposes exactly the "Exposed" operation list of
// spec §6 (Workflow submit/get/cancel/logs, Sandbox start/stop/exec/logs/
// streamLogs, Project CRUD+listing, Agent act, Access
// visibleUserIds/authorize) over the app.Bundle — it is not the UI-serving
// surface spec §1 names as a non-goal, which remains an external
// collaborator.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/quorumforge/aiorch/internal/app"
	"github.com/quorumforge/aiorch/internal/core"
)

// Server wraps an app.Bundle with its chi router.
type Server struct {
	bundle *app.Bundle
	router chi.Router
}

// New builds the HTTP translator over bundle.
func New(bundle *app.Bundle) *Server {
	s := &Server{bundle: bundle}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)
	r.Use(s.identityMiddleware)

	r.Route("/v1/projects", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Post("/", s.createProject)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.getProject)
			r.Patch("/", s.updateProject)
			r.Delete("/", s.deleteProject)
			r.Post("/touch", s.touchProject)
		})
	})

	r.Route("/v1/workflows", func(r chi.Router) {
		r.Post("/", s.submitWorkflow)
		r.Route("/{workflowID}", func(r chi.Router) {
			r.Get("/", s.getWorkflow)
			r.Post("/cancel", s.cancelWorkflow)
			r.Get("/logs", s.workflowLogs)
		})
	})

	r.Route("/v1/sandboxes/{projectID}", func(r chi.Router) {
		r.Post("/start", s.startSandbox)
		r.Post("/stop", s.stopSandbox)
		r.Post("/exec", s.execSandbox)
		r.Get("/logs", s.sandboxLogs)
		r.Get("/stream", s.streamSandboxLogs)
	})

	r.Post("/v1/agent/act", s.agentAct)
	r.Get("/v1/access/visible-users", s.visibleUsers)

	return r
}

// writeJSON writes v as the response body with status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the (status, code, message, details) quadruple of spec §7.
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError translates any error returned by a core operation into an
// HTTP status + the spec §7 error-kind quadruple. This is the "single
// translator" spec §9 requires: no handler below does its own kind->status
// mapping.
func writeError(w http.ResponseWriter, err error) {
	de, ok := err.(*core.DomainError)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: string(core.KindInternal), Message: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch de.Kind {
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindAlreadyExists, core.KindAlreadyRunning, core.KindAlreadyInitialized:
		status = http.StatusConflict
	case core.KindDenied:
		status = http.StatusForbidden
	case core.KindPrecondition:
		status = http.StatusBadRequest
	case core.KindExternal:
		status = http.StatusBadGateway
	case core.KindTimeout:
		status = http.StatusGatewayTimeout
	case core.KindCancelled:
		status = http.StatusConflict
	case core.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Code: de.Code, Message: de.Message, Details: de.Details})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
