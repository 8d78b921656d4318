package handler_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dialLive(t *testing.T, env *testEnv, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	return dialPath(t, env, "/v1/dashboard/live", query)
}

func dialPath(t *testing.T, env *testEnv, path, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?access_token=" + bearer(t) + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn, ctx
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) domain.LiveMessage {
	t.Helper()
	var msg domain.LiveMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read live message: %v", err)
	}
	return msg
}

func TestDashboardLive_PushesSnapshot(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	conn, ctx := dialLive(t, env, "")

	msg := readMessage(t, ctx, conn)
	if msg.Type != domain.LiveMsgSnapshot || msg.Snapshot == nil {
		t.Fatalf("expected snapshot, got %+v", msg)
	}
	if msg.Snapshot.Selection != "p1" || len(msg.Snapshot.Executions.Records) != 2 {
		t.Errorf("snapshot = %+v", msg.Snapshot)
	}
}

func TestDashboardLive_SelectAndErrors(t *testing.T) {
	env := newTestEnv(t, adminProfile())
	conn, ctx := dialLive(t, env, "")

	first := readMessage(t, ctx, conn)
	if first.Snapshot == nil || first.Snapshot.Selection != domain.AllProjects {
		t.Fatalf("first = %+v", first)
	}

	if err := wsjson.Write(ctx, conn, domain.SelectRequest{Type: domain.LiveMsgSelect, Project: "p2"}); err != nil {
		t.Fatal(err)
	}
	next := readMessage(t, ctx, conn)
	if next.Snapshot == nil || next.Snapshot.Selection != "p2" || next.Snapshot.Generation <= first.Snapshot.Generation {
		t.Errorf("after select = %+v", next.Snapshot)
	}

	if err := wsjson.Write(ctx, conn, domain.SelectRequest{Type: "bogus"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ctx, conn); msg.Type != domain.LiveMsgError {
		t.Errorf("expected error message, got %+v", msg)
	}
}

func TestDashboardLive_RequiresToken(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/dashboard/live", nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("response = %v", resp)
	}
}

func TestAdminLive_PushesOverview(t *testing.T) {
	env := newTestEnv(t, adminProfile())
	conn, ctx := dialPath(t, env, "/v1/admin/live", "")

	msg := readMessage(t, ctx, conn)
	if msg.Type != domain.LiveMsgAdmin || msg.Admin == nil {
		t.Fatalf("expected admin overview, got %+v", msg)
	}
	if len(msg.Admin.Users) != 1 || len(msg.Admin.Projects) != 2 {
		t.Errorf("overview = %+v", msg.Admin)
	}

	if err := wsjson.Write(ctx, conn, domain.SelectRequest{Type: domain.LiveMsgRefresh}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ctx, conn); msg.Type != domain.LiveMsgAdmin {
		t.Errorf("after refresh = %+v", msg)
	}
}

func TestAdminLive_ForbiddenForClient(t *testing.T) {
	env := newTestEnv(t, clientProfile())
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/admin/live?access_token=" + bearer(t)
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Errorf("response = %v", resp)
	}
}
