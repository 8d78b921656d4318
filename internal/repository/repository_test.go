package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/cache"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
	"github.com/boddenberg/client-portal-bfa-go/internal/repository"
)

var (
	_ port.ProfileStore     = (*repository.Profiles)(nil)
	_ port.ProjectDirectory = (*repository.Projects)(nil)
	_ port.TenantStore      = (*repository.Tenants)(nil)
)

type update struct {
	table   string
	filters []domain.Filter
	patch   map[string]any
}

// mockDataSource returns canned bodies per table and records calls.
type mockDataSource struct {
	rows    map[string]string
	err     error
	selects []*domain.Query
	inserts []map[string]any
	updates []update
}

func (m *mockDataSource) Select(_ context.Context, q *domain.Query) ([]byte, error) {
	m.selects = append(m.selects, q)
	if m.err != nil {
		return nil, m.err
	}
	if b, ok := m.rows[q.Table]; ok {
		return []byte(b), nil
	}
	return []byte("[]"), nil
}

func (m *mockDataSource) Insert(_ context.Context, table string, row map[string]any) ([]byte, error) {
	m.inserts = append(m.inserts, row)
	if m.err != nil {
		return nil, m.err
	}
	return []byte(m.rows[table]), nil
}

func (m *mockDataSource) Update(_ context.Context, table string, filters []domain.Filter, patch map[string]any) error {
	m.updates = append(m.updates, update{table, filters, patch})
	return m.err
}

func (m *mockDataSource) RPC(context.Context, string, map[string]any) ([]byte, error) {
	return []byte("[]"), m.err
}

func (m *mockDataSource) Ping(context.Context) error { return m.err }

func newProjects(ds port.DataSource) *repository.Projects {
	return repository.NewProjects(ds, cache.New[*domain.Project](16, time.Minute), observability.NewMetrics(), zap.NewNop())
}

func TestProfiles_GetByUserID(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{
		"profiles": `[{"id":"p1","email":"a@b.c","role":"admin","tenant_id":"t1","project_id":null}]`,
	}}
	r := repository.NewProfiles(ds)

	p, err := r.GetByUserID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.Role != "admin" || p.ProjectID != nil {
		t.Fatalf("unexpected profile %+v", p)
	}
	q := ds.selects[0]
	if q.Filters[0].Column != "user_id" || q.Filters[0].Value != "u1" || q.Limit != 1 {
		t.Errorf("unexpected query %+v", q)
	}
}

func TestProfiles_GetByUserID_NoRow(t *testing.T) {
	r := repository.NewProfiles(&mockDataSource{})

	p, err := r.GetByUserID(context.Background(), "u1")
	if err != nil || p != nil {
		t.Fatalf("expected nil profile and no error, got %+v, %v", p, err)
	}
}

func TestProfiles_AssignProjectNilClears(t *testing.T) {
	ds := &mockDataSource{}
	r := repository.NewProfiles(ds)

	if err := r.AssignProject(context.Background(), "p1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := ds.updates[0]
	if v, ok := u.patch["project_id"]; !ok || v != nil {
		t.Errorf("expected project_id=null patch, got %v", u.patch)
	}
	if u.filters[0].Column != "id" || u.filters[0].Value != "p1" {
		t.Errorf("unexpected filters %+v", u.filters)
	}
}

func TestProjects_GetIsCached(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{"project": `[{"id":"p1","name":"Alpha","account_id":"a1","data_table":"mulchbg"}]`}}
	r := newProjects(ds)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := r.Get(ctx, "p1")
		if err != nil || p == nil || p.Table() != "mulchbg" {
			t.Fatalf("unexpected result %+v, %v", p, err)
		}
	}
	if len(ds.selects) != 1 {
		t.Errorf("expected 1 select, got %d", len(ds.selects))
	}

	r.Invalidate("p1")
	_, _ = r.Get(ctx, "p1")
	if len(ds.selects) != 2 {
		t.Errorf("expected refetch after invalidate, got %d selects", len(ds.selects))
	}
}

func TestProjects_ListByAccountSortedStable(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{"project": `[
		{"id":"3","name":"Zeta"},
		{"id":"1","name":"Alpha"},
		{"id":"2","name":"Alpha"}
	]`}}
	r := newProjects(ds)

	got, err := r.ListByAccount(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if ids[0] != "1" || ids[1] != "2" || ids[2] != "3" {
		t.Errorf("unexpected order %v", ids)
	}
}

func TestProjects_UpdateDataSourceInvalidates(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{"project": `[{"id":"p1","name":"Alpha"}]`}}
	r := newProjects(ds)
	ctx := context.Background()

	_, _ = r.Get(ctx, "p1")
	err := r.UpdateDataSource(ctx, "p1", "executions", domain.FilterConfig{Column: "tenant_id", Value: "t1", Type: "eq"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.updates[0].patch["filter_column"] != "tenant_id" {
		t.Errorf("unexpected patch %v", ds.updates[0].patch)
	}
	_, _ = r.Get(ctx, "p1")
	if len(ds.selects) != 2 {
		t.Errorf("expected cache invalidation, got %d selects", len(ds.selects))
	}
}

func TestProjects_CreateRequiresName(t *testing.T) {
	r := newProjects(&mockDataSource{})
	_, err := r.Create(context.Background(), domain.ProjectInput{})
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestTenants_CreateTrimsName(t *testing.T) {
	ds := &mockDataSource{rows: map[string]string{"tenants": `[{"id":"t9","name":"Acme"}]`}}
	r := repository.NewTenants(ds)

	tn, err := r.Create(context.Background(), "  Acme ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tn.ID != "t9" || ds.inserts[0]["name"] != "Acme" {
		t.Errorf("unexpected tenant %+v insert %v", tn, ds.inserts[0])
	}
}

func TestProjects_GetMissingRowIsNotFound(t *testing.T) {
	ds := &mockDataSource{}
	r := newProjects(ds)

	p, err := r.Get(context.Background(), "ghost")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) || nf.ID != "ghost" || p != nil {
		t.Fatalf("expected ErrNotFound, got %+v, %v", p, err)
	}
}

func TestProjects_UpdateDataSourceUnknownProject(t *testing.T) {
	ds := &mockDataSource{}
	r := newProjects(ds)

	err := r.UpdateDataSource(context.Background(), "ghost", "executions", domain.FilterConfig{})
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(ds.updates) != 0 {
		t.Errorf("unexpected update %+v", ds.updates)
	}
}
