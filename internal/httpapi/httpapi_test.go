package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quorumforge/aiorch/internal/app"
	"github.com/quorumforge/aiorch/internal/config"
	"github.com/quorumforge/aiorch/internal/testutil"
)

// newTestServer boots a real app.Bundle against a fresh temp-directory
// SQLite store and wraps it in the HTTP translator, mirroring the
// teacher's internal/api test pattern of exercising handlers through a
// real router rather than mocking every collaborator.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := testutil.TempDir(t)
	cfg := config.Config{
		Log:     config.LogConfig{Level: "error", Format: "text"},
		Storage: config.StorageConfig{Root: dir},
		LLM:     config.LLMConfig{Tier: "BALANCED", BatchWindowMs: 50, MaxBatch: 5},
		Workflow: config.WorkflowConfig{MaxConcurrency: 4},
		Sandbox:  config.SandboxConfig{GraceMs: 5000, InternalPort: 8080},
	}
	bundle, err := app.NewBundle(cfg)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = bundle.Close() })
	return New(bundle)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		testutil.AssertNoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func devHeaders(userID, tenantID string) map[string]string {
	return map[string]string{
		"X-User-Id":   userID,
		"X-Tenant-Id": tenantID,
		"X-User-Role": "DEV",
	}
}

func TestIdentityMiddleware_RejectsMissingIdentity(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/projects/", nil, nil)
	testutil.AssertEqual(t, rec.Code, http.StatusUnauthorized)
}

func TestIdentityMiddleware_RejectsInvalidRole(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/projects/", nil, map[string]string{
		"X-User-Id": "u1", "X-Tenant-Id": "t1", "X-User-Role": "SUPERUSER",
	})
	testutil.AssertEqual(t, rec.Code, http.StatusUnauthorized)
}

func TestProjectCRUD_HappyPath(t *testing.T) {
	s := newTestServer(t)
	h := devHeaders("u1", "t1")

	createBody := map[string]interface{}{
		"spec": map[string]interface{}{
			"name":      "demo",
			"language":  "go",
			"framework": "none",
			"localPath": "/store/demo",
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/", createBody, h)
	testutil.AssertEqual(t, rec.Code, http.StatusCreated)

	var created map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id, _ := created["ID"].(string)
	testutil.AssertTrue(t, id != "", "expected created project to carry an ID")

	rec = doJSON(t, s, http.MethodGet, "/v1/projects/"+id+"/", nil, h)
	testutil.AssertEqual(t, rec.Code, http.StatusOK)

	rec = doJSON(t, s, http.MethodGet, "/v1/projects/", nil, h)
	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	var listed map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	testutil.AssertEqual(t, listed["total"].(float64), float64(1))

	rec = doJSON(t, s, http.MethodDelete, "/v1/projects/"+id+"/", nil, h)
	testutil.AssertEqual(t, rec.Code, http.StatusNoContent)
}

func TestGetProject_NotFoundMapsTo404(t *testing.T) {
	s := newTestServer(t)
	h := devHeaders("u1", "t1")
	rec := doJSON(t, s, http.MethodGet, "/v1/projects/does-not-exist/", nil, h)
	testutil.AssertEqual(t, rec.Code, http.StatusNotFound)
	var body errorBody
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	testutil.AssertEqual(t, body.Code, "NOT_FOUND")
}

func TestProjectOwnershipDenial_MapsTo403(t *testing.T) {
	s := newTestServer(t)
	owner := devHeaders("owner", "t1")
	stranger := devHeaders("stranger", "t1")

	createBody := map[string]interface{}{
		"spec": map[string]interface{}{
			"name":      "private",
			"language":  "go",
			"localPath": "/store/private",
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/", createBody, owner)
	testutil.AssertEqual(t, rec.Code, http.StatusCreated)
	var created map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["ID"].(string)

	rec = doJSON(t, s, http.MethodGet, "/v1/projects/"+id+"/", nil, stranger)
	testutil.AssertEqual(t, rec.Code, http.StatusForbidden)
}

func TestVisibleUsers_AdminIsUnbounded(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/access/visible-users", nil, map[string]string{
		"X-User-Id": "root", "X-Tenant-Id": "t1", "X-User-Role": "ADMIN",
	})
	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	var body map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	testutil.AssertTrue(t, body["unbounded"] == true, "expected ADMIN to be unbounded")
}

func TestVisibleUsers_DevSeesOnlySelf(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/access/visible-users", nil, devHeaders("u1", "t1"))
	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	var body map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	ids, ok := body["user_ids"].([]interface{})
	testutil.AssertTrue(t, ok, "expected user_ids list")
	testutil.AssertLen(t, ids, 1)
	testutil.AssertEqual(t, ids[0].(string), "u1")
}

func TestSandboxExec_NotRunningMapsToBadGateway(t *testing.T) {
	s := newTestServer(t)
	h := devHeaders("u1", "t1")
	createBody := map[string]interface{}{
		"spec": map[string]interface{}{
			"name":      "sandboxed",
			"language":  "go",
			"localPath": "/store/sandboxed",
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/", createBody, h)
	testutil.AssertEqual(t, rec.Code, http.StatusCreated)
	var created map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["ID"].(string)

	rec = doJSON(t, s, http.MethodPost, "/v1/sandboxes/"+id+"/exec", map[string]interface{}{
		"command": []string{"echo", "hi"},
	}, h)
	testutil.AssertTrue(t, rec.Code >= 400, "expected exec against an unstarted sandbox to fail")
}

func TestWorkflowSubmit_InvalidStepRejected(t *testing.T) {
	s := newTestServer(t)
	h := devHeaders("u1", "t1")
	createBody := map[string]interface{}{
		"spec": map[string]interface{}{
			"name":      "wf-project",
			"language":  "go",
			"localPath": "/store/wf-project",
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/", createBody, h)
	testutil.AssertEqual(t, rec.Code, http.StatusCreated)
	var created map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["ID"].(string)

	rec = doJSON(t, s, http.MethodPost, "/v1/workflows/", map[string]interface{}{
		"project_id": id,
		"steps":      []string{"not_a_real_step"},
	}, h)
	testutil.AssertTrue(t, rec.Code >= 400, "expected INVALID_STEP to surface as an HTTP error")
}
