package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/registry"
	"github.com/quorumforge/aiorch/internal/storage"
)

// tenantUserIDsFrom reads the optional comma-separated tenant roster a
// caller may pass for ENTERPRISE-scoped listing. The core has no owned
// User/Tenant table (spec §1); enumerating a tenant's users is the
// surrounding (external) identity system's job.
func tenantUserIDsFrom(r *http.Request) []string {
	raw := r.URL.Query().Get("tenant_user_ids")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	filter := storage.ProjectFilter{
		TenantID:  r.URL.Query().Get("tenant_id"),
		Status:    core.ProjectStatus(r.URL.Query().Get("status")),
		Language:  r.URL.Query().Get("language"),
		Framework: r.URL.Query().Get("framework"),
		Search:    r.URL.Query().Get("search"),
		Page:      queryInt(r, "page", 1),
		PageSize:  queryInt(r, "page_size", 20),
	}
	items, total, page, pageSize, err := s.bundle.Registry.List(r.Context(), identity, tenantUserIDsFrom(r), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items, "total": total, "page": page, "page_size": pageSize,
	})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	var body struct {
		OwnerUserID string              `json:"owner_user_id"`
		Spec        registry.CreateSpec `json:"spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	owner := body.OwnerUserID
	if owner == "" {
		owner = identity.UserID
	}
	p, err := s.bundle.Registry.Create(r.Context(), identity, owner, body.Spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	p, err := s.bundle.Registry.Get(r.Context(), identity, chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	var patch registry.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	p, err := s.bundle.Registry.Update(r.Context(), identity, chi.URLParam(r, "projectID"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	hard := r.URL.Query().Get("hard") == "true"
	if err := s.bundle.Registry.Delete(r.Context(), identity, chi.URLParam(r, "projectID"), hard); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) touchProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := s.bundle.Registry.TouchLastOpened(r.Context(), identity, chi.URLParam(r, "projectID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
