package service_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/preference"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"
)

type viewFixture struct {
	ds      *mockDataSource
	metrics *observability.Metrics
	snaps   chan domain.DashboardSnapshot
	view    *service.DashboardView
}

func newViewFixture(t *testing.T, ds *mockDataSource, profile *domain.Profile, projects []domain.Project, feed *mockFeed) *viewFixture {
	t.Helper()
	m := observability.NewMetrics()
	log := zap.NewNop()
	dir := &mockProjects{projects: projects}
	deps := service.DashboardDeps{
		Roles:         service.NewRoleResolver(&mockProfiles{profile: profile}, dir, preference.NewMemoryStore(), m, log),
		Executions:    service.NewExecutionAggregator(ds, dir, resilience.NewBulkhead(4), service.Limits{}, m, log),
		Conversations: service.NewConversationAggregator(ds, m, log),
		Documents:     service.NewDocumentFeed(ds, m, log),
		Metrics:       m,
		Logger:        log,
	}
	if feed != nil {
		deps.Live = service.NewLiveRefresh(feed, 10*time.Millisecond, m, log)
	}
	f := &viewFixture{ds: ds, metrics: m, snaps: make(chan domain.DashboardSnapshot, 32)}
	f.view = service.NewDashboardView(deps, alice, func(s domain.DashboardSnapshot) { f.snaps <- s })
	t.Cleanup(f.view.Close)
	return f
}

func (f *viewFixture) next(t *testing.T) domain.DashboardSnapshot {
	t.Helper()
	select {
	case s := <-f.snaps:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}
	return domain.DashboardSnapshot{}
}

var viewProjects = []domain.Project{
	{ID: "pa", Name: "A", AccountID: "t1", DataTable: domain.StrPtr("orders_a")},
	{ID: "pb", Name: "B", AccountID: "t1", DataTable: domain.StrPtr("orders_b")},
}

func adminProfile() *domain.Profile {
	return &domain.Profile{ID: "p1", Role: domain.RoleAdmin, TenantID: "t1"}
}

func TestDashboardView_RoleBeforeData(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{"orders_b": `[{"id":"x"}]`}}
	f := newViewFixture(t, ds, adminProfile(), viewProjects, nil)

	f.view.SetSelection("pb")
	f.view.SetDateRange(janRange())
	if ds.calls() != 0 {
		t.Fatalf("no fetch may run before the role resolves, got %d", ds.calls())
	}

	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := f.next(t)
	if s.Selection != "pb" || len(s.Executions.Records) != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if n := len(ds.selectsOn("orders_b")); n != 1 {
		t.Errorf("exactly one aggregation expected, got %d", n)
	}
	if len(ds.selectsOn("orders_a")) != 0 {
		t.Error("pre-start selection should not have been fetched")
	}
}

func TestDashboardView_LastSelectionWins(t *testing.T) {
	gate := make(chan struct{})
	ds := &mockDataSource{
		rows: map[string]string{"orders_b": `[{"id":"b1"}]`},
		gate: map[string]chan struct{}{"orders_a": gate},
	}
	f := newViewFixture(t, ds, adminProfile(), viewProjects, nil)
	f.view.SetSelection("pb")
	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.next(t)

	f.view.SetSelection("pa")
	f.view.SetSelection("pb")

	s := f.next(t)
	if s.Selection != "pb" {
		t.Fatalf("selection = %s, want pb", s.Selection)
	}
	close(gate)
	f.view.Close()

	select {
	case s := <-f.snaps:
		t.Fatalf("stale snapshot published: %+v", s)
	default:
	}
	if f.metrics.StaleDiscarded() < 1 {
		t.Error("stale result should be counted")
	}
	if snap, _ := f.view.Snapshot(); snap.Selection != "pb" {
		t.Errorf("final snapshot selection = %s", snap.Selection)
	}
}

func TestDashboardView_LateResultOfEarlierSelectionDiscarded(t *testing.T) {
	gate := make(chan struct{})
	ds := &mockDataSource{
		rows: map[string]string{
			"orders_a": `[{"id":"a1"},{"id":"a2"}]`,
			"orders_b": `[{"id":"b1"}]`,
		},
		gate:         map[string]chan struct{}{"orders_a": gate},
		ignoreCancel: true,
	}
	f := newViewFixture(t, ds, adminProfile(), viewProjects, nil)
	f.view.SetSelection("pb")
	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.next(t)

	f.view.SetSelection("pa")
	f.view.SetSelection("pb")
	if s := f.next(t); s.Selection != "pb" {
		t.Fatalf("selection = %s, want pb", s.Selection)
	}

	// A resolves with rows only after B has been published
	close(gate)
	deadline := time.Now().Add(2 * time.Second)
	for f.metrics.StaleDiscarded() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("late result was never discarded")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case s := <-f.snaps:
		t.Fatalf("stale snapshot published: %+v", s)
	case <-time.After(20 * time.Millisecond):
	}
	snap, ok := f.view.Snapshot()
	if !ok || snap.Selection != "pb" || len(snap.Executions.Records) != 1 || snap.Executions.Records[0].ID != "b1" {
		t.Errorf("final snapshot = %+v", snap)
	}
}

func TestDashboardView_FailureKeepsLastKnownGood(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{"orders_a": `[{"id":"a1"}]`}}
	f := newViewFixture(t, ds, adminProfile(), viewProjects[:1], nil)
	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	good := f.next(t)
	if good.Selection != "pa" || len(good.Executions.Records) != 1 {
		t.Fatalf("lone project should be auto-selected, got %+v", good)
	}

	ds.mu.Lock()
	ds.errs = map[string]error{"orders_a": errBoom}
	ds.mu.Unlock()
	f.view.Refresh()

	s := f.next(t)
	if s.Notice == "" {
		t.Error("expected a notice")
	}
	if len(s.Executions.Records) != 1 || s.Executions.Records[0].ID != "a1" {
		t.Errorf("last-known-good data lost: %+v", s.Executions.Records)
	}
}

func TestDashboardView_DocumentsKeptOnFailure(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{"documents": `[{"id":1,"content":"guide"}]`}}
	f := newViewFixture(t, ds, adminProfile(), viewProjects, nil)
	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := f.next(t)
	if len(s.Documents) != 1 || s.Documents[0].ID != "1" {
		t.Fatalf("documents = %+v", s.Documents)
	}
	if q := ds.selectsOn("documents")[0]; q.Limit != service.AdminDocumentLimit {
		t.Errorf("limit = %d", q.Limit)
	}

	ds.mu.Lock()
	ds.errs = map[string]error{"documents": errBoom}
	ds.mu.Unlock()
	f.view.Refresh()

	s = f.next(t)
	if len(s.Documents) != 1 || s.Notice != "" {
		t.Errorf("documents=%+v notice=%q", s.Documents, s.Notice)
	}
}

func TestDashboardView_ClientSeesAssignedProjectOnly(t *testing.T) {
	ds := &mockDataSource{}
	profile := &domain.Profile{ID: "p1", Role: domain.RoleViewer, TenantID: "t1", ProjectID: domain.StrPtr("pa")}
	f := newViewFixture(t, ds, profile, viewProjects, nil)
	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.next(t)

	f.view.SetSelection("pb")
	s := f.next(t)
	if s.Selection != "pa" {
		t.Errorf("client selection = %s, want pa", s.Selection)
	}
	if len(ds.selectsOn("orders_b")) != 0 {
		t.Error("client must never read another project's table")
	}
}

func TestDashboardView_LiveChangeRefreshes(t *testing.T) {
	feed := newMockFeed()
	ds := &mockDataSource{}
	f := newViewFixture(t, ds, adminProfile(), viewProjects, feed)
	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.next(t)

	feed.emit(domain.TableExecutions)
	f.next(t)

	f.view.Close()
	for _, table := range []string{domain.TableExecutions, domain.TableProject, "orders_a", "orders_b"} {
		if feed.releases(table) != 1 {
			t.Errorf("%s released %d times", table, feed.releases(table))
		}
	}
	if f.metrics.ActiveSubscriptions() != 0 {
		t.Error("subscription leaked")
	}
}

func TestDashboardView_NoPublishAfterClose(t *testing.T) {
	ds := &mockDataSource{}
	f := newViewFixture(t, ds, adminProfile(), viewProjects, nil)
	if err := f.view.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.next(t)
	f.view.Close()

	f.view.Refresh()
	f.view.SetSelection("pa")
	select {
	case s := <-f.snaps:
		t.Fatalf("published after close: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}
