package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/changegate/pkg/auth"
	"github.com/Mindburn-Labs/changegate/pkg/changes"
	"github.com/Mindburn-Labs/changegate/pkg/contracts"
	"github.com/Mindburn-Labs/changegate/pkg/store"
)

var start = time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	roles := auth.NewStaticRoleDirectory(map[string]string{
		"alice": "developer",
		"bob":   "it",
		"erin":  "change-manager",
	})
	svc := changes.NewService(store.NewMemoryChangeRequestStore(), nil, nil, roles).
		WithClock(func() time.Time { return start.Add(time.Hour) })
	return NewServer(NewHandler(svc, roles), ServerOptions{})
}

func do(t *testing.T, h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeCR(t *testing.T, w *httptest.ResponseRecorder) contracts.ChangeRequest {
	t.Helper()
	var cr contracts.ChangeRequest
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cr))
	return cr
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func createBody() string {
	return fmt.Sprintf(`{
		"title": "Router Upgrade",
		"description": "core firmware",
		"priority": "high",
		"implementation_plan": "flash",
		"rollback_plan": "flash back",
		"start_date": %q,
		"end_date": %q
	}`, start.Format(time.RFC3339), start.Add(48*time.Hour).Format(time.RFC3339))
}

func TestChangeRequestFlow(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", createBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/v1/change-requests/CHG00001", w.Header().Get("Location"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	cr := decodeCR(t, w)
	assert.Equal(t, contracts.StatusDraft, cr.Status)
	assert.Equal(t, contracts.PriorityP2, cr.Priority)

	w = do(t, h, http.MethodPost, "/api/v1/change-requests/1/submit", "alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/api/v1/change-requests/CHG00001/approve", "alice", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "forbidden", p.Kind)
	assert.Equal(t, "/api/v1/change-requests/CHG00001/approve", p.Instance)

	w = do(t, h, http.MethodPost, "/api/v1/change-requests/CHG00001/approve", "bob", `{"assign_to":"carol"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cr = decodeCR(t, w)
	assert.Equal(t, contracts.StatusApproved, cr.Status)
	assert.Equal(t, "carol", *cr.AssignedTo)

	w = do(t, h, http.MethodPost, "/api/v1/change-requests/CHG00001/approve", "bob", "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decodeProblem(t, w).Kind)

	w = do(t, h, http.MethodPost, "/api/v1/change-requests/CHG00001/start", "carol", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/api/v1/change-requests/CHG00001/close", "carol", `{"reason":"successful","notes":"done"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, contracts.StatusCompleted, decodeCR(t, w).Status)

	w = do(t, h, http.MethodGet, "/api/v1/change-requests/CHG00001/audit", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ar AuditResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ar))
	assert.True(t, ar.ChainValid)
	assert.Len(t, ar.Entries, 5)
	assert.Equal(t, ar.Entries[4].EntryHash, ar.ChainHead)
}

func TestMissingActorIsUnauthorized(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/api/v1/change-requests", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, http.StatusUnauthorized, decodeProblem(t, w).Status)

	w = do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateValidation(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", `{"title":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "validation", p.Kind)
	assert.Equal(t, "title", p.Field)

	w = do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", `{"title":"x","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := `{"title":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	w = do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUpdateRejectsRiskFields(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", createBody()).Code)

	w := do(t, h, http.MethodPatch, "/api/v1/change-requests/CHG00001", "alice", `{"risk_level":"low"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "risk_level", decodeProblem(t, w).Field)

	w = do(t, h, http.MethodPatch, "/api/v1/change-requests/CHG00001", "alice", `{"title":"Router Upgrade v2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Router Upgrade v2", decodeCR(t, w).Title)
}

func TestGetErrors(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 11; i++ {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", createBody()).Code)
	}

	w := do(t, h, http.MethodGet, "/api/v1/change-requests/CHG99999", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/change-requests/1", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ambiguous_id", decodeProblem(t, w).Kind)

	w = do(t, h, http.MethodGet, "/api/v1/change-requests/11", "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListQuery(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", createBody()).Code)
	}
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/change-requests/CHG00002/submit", "alice", "").Code)

	w := do(t, h, http.MethodGet, "/api/v1/change-requests?status=submitted,draft&limit=2&page=1", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p changes.Page
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 2, p.TotalPages)
	assert.Len(t, p.Items, 2)

	w = do(t, h, http.MethodGet, "/api/v1/change-requests?status=submitted&from=2026-01-12&to=2026-01-12", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, 1, p.Total)

	w = do(t, h, http.MethodGet, "/api/v1/change-requests?from=yesterday", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/change-requests?page=two", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRiskAdministration(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/risk/thresholds", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	gap := `[{"id":"low","level":"low","min_score":0,"max_score":2},{"id":"high","level":"high","min_score":3,"max_score":5}]`
	w = do(t, h, http.MethodPut, "/api/v1/risk/thresholds", "bob", gap)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/risk/thresholds", "erin", gap)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "configuration", decodeProblem(t, w).Kind)

	ok := `[{"id":"low","level":"low","min_score":0,"max_score":1.5},{"id":"medium","level":"medium","min_score":1.5,"max_score":3},{"id":"high","level":"high","min_score":3,"max_score":5}]`
	w = do(t, h, http.MethodPut, "/api/v1/risk/thresholds", "erin", ok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ts []contracts.RiskThreshold
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ts))
	assert.Len(t, ts, 3)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/change-requests", "alice", createBody()).Code)
	answers := `{"answers":[{"question_id":"q1","option_id":"c"},{"question_id":"q2","option_id":"c"},{"question_id":"q3","option_id":"c"},{"question_id":"q4","option_id":"c"}]}`
	w = do(t, h, http.MethodPost, "/api/v1/change-requests/CHG00001/risk-assessment", "alice", answers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cr := decodeCR(t, w)
	assert.Equal(t, 3.0, cr.RiskScore)
	assert.Equal(t, contracts.RiskMedium, cr.RiskLevel)

	w = do(t, h, http.MethodGet, "/api/v1/risk/questions", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var qs []contracts.RiskAssessmentQuestion
	require.NoError(t, json.NewDecoder(w.Body).Decode(&qs))
	assert.Len(t, qs, 4)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewGlobalRateLimiter(1, 2)
	defer limiter.Close()
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code, "within burst")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.1.1.1:4000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per client")
}

func TestWriteServiceError_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/change-requests", nil)
	WriteServiceError(w, r, errors.New("pq: connection refused to host=10.0.0.1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w)
	assert.NotContains(t, p.Detail, "10.0.0.1")
}
