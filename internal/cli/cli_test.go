package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

func fakePortal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req domain.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		json.NewEncoder(w).Encode(domain.Session{AccessToken: "tok-1", User: domain.Identity{ID: "u1", Email: req.Email}})
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "missing bearer token"})
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("GET /v1/role", authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.RoleState{
			Profile:  &domain.Profile{Email: "alice@example.com", Role: "admin"},
			ViewMode: domain.ViewModeAdmin, CanSwitchRoles: true, IsAdmin: true,
		})
	}))
	mux.HandleFunc("GET /v1/executions", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("project") != "p1" || r.URL.Query().Get("from") != "2024-01-01" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(domain.ExecutionResult{
			KPIs:    domain.KPISummary{TotalProcessed: 4, SuccessRate: 75, FailedOps: 1, LastUpdate: time.Now()},
			Sources: []domain.SourceOutcome{{Table: "mulchbg", Error: "timeout"}},
			Partial: true,
		})
	}))
	mux.HandleFunc("GET /v1/conversations", authed(func(w http.ResponseWriter, r *http.Request) {
		msg := domain.ConversationMessage{ID: "1", SessionID: "s1", Message: json.RawMessage(`{"type":"ai","content":"hello there"}`)}
		json.NewEncoder(w).Encode(domain.ConversationsResponse{
			Messages: []domain.ConversationMessage{msg},
			Groups:   []domain.ConversationGroup{{SessionID: "s1", Messages: []domain.ConversationMessage{msg}}},
		})
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func useTempCredentials(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	orig := credentialsPath
	credentialsPath = func() (string, error) { return path, nil }
	t.Cleanup(func() { credentialsPath = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	serverURL, token, jsonOutput = "", "", false
	selectProject, rangeFrom, rangeTo = domain.AllProjects, "", ""
	loginEmail, loginPassword = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginSavesCredentials(t *testing.T) {
	useTempCredentials(t)
	srv := fakePortal(t)

	out, err := run(t, "login", "--server", srv.URL, "--email", "alice@example.com", "--password", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Signed in as alice@example.com") {
		t.Errorf("output = %q", out)
	}

	saved, err := readCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if saved.AccessToken != "tok-1" || saved.Server != srv.URL {
		t.Errorf("saved = %+v", saved)
	}

	// later commands pick up server and token from the saved file
	out, err = run(t, "role")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Role:         admin") {
		t.Errorf("role output = %q", out)
	}
}

func TestLoginRejected(t *testing.T) {
	useTempCredentials(t)
	srv := fakePortal(t)

	_, err := run(t, "login", "--server", srv.URL, "--email", "a@b.c", "--password", "bad")
	var apiErr *apiError
	if err == nil || !strings.Contains(err.Error(), "invalid credentials") {
		t.Fatalf("err = %v", err)
	}
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("expected 401 apiError, got %v", err)
	}
	if _, err := readCredentials(); err == nil {
		t.Error("credentials saved after a failed login")
	}
}

func TestCommandsRequireLogin(t *testing.T) {
	useTempCredentials(t)
	if _, err := run(t, "projects"); err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Errorf("err = %v", err)
	}
}

func TestKPIs(t *testing.T) {
	useTempCredentials(t)
	srv := fakePortal(t)

	out, err := run(t, "kpis", "--server", srv.URL, "--token", "tok-1", "--project", "p1", "--from", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Total processed:  4", "Success rate:     75.0%", "mulchbg unavailable", "partial data"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConversationsJSON(t *testing.T) {
	useTempCredentials(t)
	srv := fakePortal(t)

	out, err := run(t, "conversations", "--server", srv.URL, "--token", "tok-1", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var resp domain.ConversationsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}

	out, err = run(t, "conversations", "--server", srv.URL, "--token", "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "== s1 (1 messages)") || !strings.Contains(out, "[ai] hello there") {
		t.Errorf("output = %q", out)
	}
}

func TestSwitchModeValidatesLocally(t *testing.T) {
	useTempCredentials(t)
	if _, err := run(t, "switch-mode", "root", "--token", "x"); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("a", 200)
	if got := []rune(preview(long)); len(got) != contentPreview {
		t.Errorf("len = %d", len(got))
	}
	if got := preview("a\n  b"); got != "a b" {
		t.Errorf("got %q", got)
	}
}
