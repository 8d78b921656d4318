package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/handler"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/cache"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/preference"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/client-portal-bfa-go/internal/repository"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// fakeDataSource serves canned rows per table and applies eq filters on
// columns the rows carry.
type fakeDataSource struct {
	mu      sync.Mutex
	rows    map[string]string
	selects []string
	rpcs    []string
	pingErr error
}

func (f *fakeDataSource) Select(_ context.Context, q *domain.Query) ([]byte, error) {
	f.mu.Lock()
	f.selects = append(f.selects, q.Table)
	raw, ok := f.rows[q.Table]
	f.mu.Unlock()
	if !ok {
		return []byte("[]"), nil
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if matches(row, q.Filters) {
			out = append(out, row)
		}
	}
	return json.Marshal(out)
}

func matches(row map[string]any, filters []domain.Filter) bool {
	for _, f := range filters {
		v, ok := row[f.Column]
		if f.Op != domain.OpEq || !ok {
			continue
		}
		if fmt.Sprint(v) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func (f *fakeDataSource) Insert(_ context.Context, table string, row map[string]any) ([]byte, error) {
	row["id"] = "new-" + table
	b, _ := json.Marshal([]map[string]any{row})
	return b, nil
}

func (f *fakeDataSource) Update(context.Context, string, []domain.Filter, map[string]any) error {
	return nil
}

func (f *fakeDataSource) RPC(_ context.Context, fn string, _ map[string]any) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs = append(f.rpcs, fn)
	return []byte(`[]`), nil
}

func (f *fakeDataSource) Ping(context.Context) error { return f.pingErr }

func (f *fakeDataSource) selectCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.selects {
		if t == table {
			n++
		}
	}
	return n
}

type fakeSessions struct{}

func (fakeSessions) SignIn(_ context.Context, email, _ string) (*domain.Session, error) {
	return &domain.Session{AccessToken: "tok", User: domain.Identity{ID: "user-1", Email: email}}, nil
}

func (fakeSessions) SignOut(context.Context, string) error { return nil }

func (fakeSessions) CurrentUser(_ context.Context, token string) (*domain.Identity, error) {
	if token != "tok" {
		return nil, &domain.ErrUnauthorized{Message: "invalid session"}
	}
	return &domain.Identity{ID: "user-1", Email: "alice@example.com"}, nil
}

type fakeStorage struct{}

func (fakeStorage) Upload(context.Context, string, string, string, io.Reader) error {
	return nil
}

const projectRows = `[
	{"id":"p1","name":"Alpha","account_id":"t1","data_table":"executions"},
	{"id":"p2","name":"Beta","account_id":"t1","data_table":"executions"}
]`

func clientProfile() string {
	return `[{"id":"prof-1","user_id":"user-1","email":"alice@example.com","role":"viewer","tenant_id":"t1","project_id":"p1"}]`
}

func adminProfile() string {
	return `[{"id":"prof-1","user_id":"user-1","email":"alice@example.com","role":"admin","tenant_id":"t1","project_id":null}]`
}

func executionRows() string {
	now := time.Now().UTC().Format(time.RFC3339)
	return fmt.Sprintf(`[
		{"id":1,"tenant_id":"t1","workflow_name":"sync","status":"success","timestamp":%q,"duration_ms":1200},
		{"id":2,"tenant_id":"t1","workflow_name":"export","status":"error","timestamp":%q,"duration_ms":300}
	]`, now, now)
}

type testEnv struct {
	router http.Handler
	ds     *fakeDataSource
}

func newTestEnv(t *testing.T, profileRows string) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	ds := &fakeDataSource{rows: map[string]string{
		domain.TableProfiles:   profileRows,
		domain.TableProject:    projectRows,
		domain.TableExecutions: executionRows(),
	}}

	profiles := repository.NewProfiles(ds)
	projects := repository.NewProjects(ds, cache.New[*domain.Project](16, time.Minute), metrics, logger)
	roles := service.NewRoleResolver(profiles, projects, preference.NewMemoryStore(), metrics, logger)
	execs := service.NewExecutionAggregator(ds, projects, resilience.NewBulkhead(4), service.Limits{}, metrics, logger)
	convs := service.NewConversationAggregator(ds, metrics, logger)
	docs := service.NewDocumentFeed(ds, metrics, logger)

	router := handler.NewRouter(handler.Deps{
		Sessions:      service.NewSessionService(fakeSessions{}, logger),
		Verifier:      service.NewTokenVerifier(testSecret, "authenticated"),
		Roles:         roles,
		Executions:    execs,
		Conversations: convs,
		Documents:     docs,
		Admin:         service.NewAdminService(profiles, projects, repository.NewTenants(ds), ds, fakeStorage{}, metrics, logger),
		Dashboard: service.DashboardDeps{
			Roles:         roles,
			Executions:    execs,
			Conversations: convs,
			Documents:     docs,
			Metrics:       metrics,
			Logger:        logger,
		},
		HealthChecks: map[string]handler.Pinger{"datasource": ds},
		Metrics:      metrics,
		Logger:       logger,
	})
	return &testEnv{router: router, ds: ds}
}

func bearer(t *testing.T) string {
	t.Helper()
	claims := service.AccessClaims{
		Email: "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if auth {
		req.Header.Set("Authorization", "Bearer "+bearer(t))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	rec := env.do(t, http.MethodGet, "/healthz", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var hs domain.HealthStatus
	json.NewDecoder(rec.Body).Decode(&hs)
	if hs.Status != "healthy" || len(hs.Services) != 2 {
		t.Errorf("health = %+v", hs)
	}

	env.ds.pingErr = errors.New("down")
	rec = env.do(t, http.MethodGet, "/healthz", nil, false)
	json.NewDecoder(rec.Body).Decode(&hs)
	if hs.Status != "degraded" {
		t.Errorf("expected degraded, got %s", hs.Status)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	if rec := env.do(t, http.MethodGet, "/readyz", nil, false); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	env.do(t, http.MethodGet, "/v1/executions", nil, true)
	rec := env.do(t, http.MethodGet, "/metrics", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "portal_records_fetched_total") {
		t.Error("expected portal metrics in exposition")
	}
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	if rec := env.do(t, http.MethodGet, "/v1/role", nil, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/role", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}
	if n := env.ds.selectCount(domain.TableProfiles); n != 0 {
		t.Errorf("profiles read %d times for unauthenticated calls", n)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	rec := env.do(t, http.MethodPost, "/v1/auth/login", domain.LoginRequest{Email: "alice@example.com", Password: "pw"}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/v1/auth/login", domain.LoginRequest{Email: "nope"}, false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodGet, "/v1/auth/me", nil, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRole_Client(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	rec := env.do(t, http.MethodGet, "/v1/role", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var state domain.RoleState
	json.NewDecoder(rec.Body).Decode(&state)
	if state.CanSwitchRoles || state.ViewMode != domain.ViewModeClient || state.AssignedProjectID != "p1" {
		t.Errorf("state = %+v", state)
	}
}

func TestSwitchViewMode(t *testing.T) {
	client := newTestEnv(t, clientProfile())
	rec := client.do(t, http.MethodPut, "/v1/role/view-mode", domain.ViewModeRequest{Mode: "admin"}, true)
	if rec.Code != http.StatusForbidden {
		t.Errorf("client to admin: expected 403, got %d", rec.Code)
	}

	admin := newTestEnv(t, adminProfile())
	rec = admin.do(t, http.MethodPut, "/v1/role/view-mode", domain.ViewModeRequest{Mode: "client"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin to client: expected 200, got %d", rec.Code)
	}
	var state domain.RoleState
	json.NewDecoder(rec.Body).Decode(&state)
	if state.ViewMode != domain.ViewModeClient {
		t.Errorf("view mode = %s", state.ViewMode)
	}

	rec = admin.do(t, http.MethodPut, "/v1/role/view-mode", domain.ViewModeRequest{Mode: "root"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad mode: expected 400, got %d", rec.Code)
	}
}

func TestProjects_ClientSeesAssignedOnly(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	rec := env.do(t, http.MethodGet, "/v1/projects", nil, true)
	var projects []domain.Project
	json.NewDecoder(rec.Body).Decode(&projects)
	if len(projects) != 1 || projects[0].ID != "p1" {
		t.Errorf("projects = %+v", projects)
	}
}

func TestExecutions(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	rec := env.do(t, http.MethodGet, "/v1/executions?project=p2", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var res domain.ExecutionResult
	json.NewDecoder(rec.Body).Decode(&res)
	if len(res.Records) != 2 || res.KPIs.TotalProcessed != 2 || res.KPIs.FailedOps != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestExecutions_BadDateRange(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	for _, q := range []string{"from=2024-13-01", "from=2024-02-01&to=2024-01-01", "to=yesterday"} {
		if rec := env.do(t, http.MethodGet, "/v1/executions?"+q, nil, true); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
	if n := env.ds.selectCount(domain.TableExecutions); n != 0 {
		t.Errorf("executions read %d times for invalid ranges", n)
	}
}

func TestExecutions_ClientLensWithoutProjectIsEmpty(t *testing.T) {
	env := newTestEnv(t, adminProfile())
	if rec := env.do(t, http.MethodPut, "/v1/role/view-mode", domain.ViewModeRequest{Mode: "client"}, true); rec.Code != http.StatusOK {
		t.Fatalf("switch: expected 200, got %d", rec.Code)
	}

	for _, path := range []string{"/v1/executions?project=all", "/v1/executions?project=p2"} {
		rec := env.do(t, http.MethodGet, path, nil, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var res domain.ExecutionResult
		json.NewDecoder(rec.Body).Decode(&res)
		if len(res.Records) != 0 || res.KPIs.TotalProcessed != 0 {
			t.Errorf("%s: result = %+v", path, res)
		}
	}
	rec := env.do(t, http.MethodGet, "/v1/conversations?project=p1", nil, true)
	var convs domain.ConversationsResponse
	json.NewDecoder(rec.Body).Decode(&convs)
	if rec.Code != http.StatusOK || len(convs.Messages) != 0 {
		t.Errorf("conversations = %d %+v", rec.Code, convs)
	}
	if n := env.ds.selectCount(domain.TableExecutions); n != 0 {
		t.Errorf("executions read %d times under an empty client lens", n)
	}
}

func TestExecutionsTimeline(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	rec := env.do(t, http.MethodGet, "/v1/executions/timeline", nil, true)
	var tl domain.TimelineResponse
	json.NewDecoder(rec.Body).Decode(&tl)
	if len(tl.Timeline) != 1 || tl.Timeline[0].Count != 2 {
		t.Errorf("timeline = %+v", tl)
	}
}

func TestExecutionsExportCSV(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	rec := env.do(t, http.MethodGet, "/v1/executions/export.csv", nil, true)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %s", ct)
	}
	if lines := strings.Count(rec.Body.String(), "\n"); lines != 3 {
		t.Errorf("expected header plus 2 rows, got %d lines", lines)
	}
}

func TestConversations(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	env.ds.rows[domain.TableMulch] = `[{"id":7,"session_id":"s1","message":{"type":"human","content":"hi"},"project_id":"p1"}]`
	rec := env.do(t, http.MethodGet, "/v1/conversations", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp domain.ConversationsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Messages) != 1 || len(resp.Groups) != 1 || resp.Groups[0].SessionID != "s1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestDocuments(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	env.ds.rows[domain.TableDocuments] = `[{"id":9,"content":"handbook","metadata":{"source":"upload"}}]`
	rec := env.do(t, http.MethodGet, "/v1/documents", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp domain.DocumentsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Documents) != 1 || resp.Documents[0].ID != "9" || *resp.Documents[0].Content != "handbook" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAdmin_ForbiddenForClient(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	for _, path := range []string{"/v1/admin/users", "/v1/admin/tenants", "/v1/admin/kpis", "/v1/admin/tables/profiles"} {
		if rec := env.do(t, http.MethodGet, path, nil, true); rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", path, rec.Code)
		}
	}
	if len(env.ds.rpcs) != 0 {
		t.Errorf("rpcs = %v", env.ds.rpcs)
	}
}

func TestAdmin_Operations(t *testing.T) {
	env := newTestEnv(t, adminProfile())
	if rec := env.do(t, http.MethodGet, "/v1/admin/users", nil, true); rec.Code != http.StatusOK {
		t.Errorf("users: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/admin/kpis?days_back=7", nil, true); rec.Code != http.StatusOK {
		t.Errorf("kpis: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/admin/kpis?days_back=x", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("kpis bad days: expected 400, got %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/v1/admin/executions/bulk",
		domain.BulkImportRequest{ProjectID: "p1", Lines: "sync,success,10,2024-01-01\nexport,failed"}, true)
	var res domain.BulkImportResult
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Success != 2 {
		t.Errorf("bulk = %+v", res)
	}
	if rec := env.do(t, http.MethodGet, "/v1/admin/tables/secrets", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("browse: expected 400, got %d", rec.Code)
	}
}

func TestAdmin_UpdateDataSourceUnknownProject(t *testing.T) {
	env := newTestEnv(t, adminProfile())
	req := domain.DataSourceRequest{DataTable: "mulchbg"}
	if rec := env.do(t, http.MethodPut, "/v1/admin/projects/ghost/data-source", req, true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown project: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/v1/admin/projects/p2/data-source", req, true); rec.Code != http.StatusOK {
		t.Errorf("known project: expected 200, got %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	router := handler.NewRouter(handler.Deps{
		CORSOrigins: []string{"https://app.example.com"},
		Metrics:     observability.NewMetrics(),
		Logger:      zap.NewNop(),
	})
	req := httptest.NewRequest(http.MethodOptions, "/v1/executions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}
