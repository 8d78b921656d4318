package service_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

var errBoom = errors.New("boom")

type rpcCall struct {
	fn   string
	args map[string]any
}

// mockDataSource returns canned bodies per table. Safe for concurrent use.
type mockDataSource struct {
	mu      sync.Mutex
	rows    map[string]string
	errs    map[string]error
	rpc     map[string]string
	selects []*domain.Query
	inserts []map[string]any
	updates int
	rpcs    []rpcCall
	// gate, when set, blocks selects on the named table until closed.
	gate map[string]chan struct{}
	// ignoreCancel keeps gated selects blocked after ctx is cancelled, like
	// a driver that only notices cancellation once the query returns.
	ignoreCancel bool
}

func (m *mockDataSource) Select(ctx context.Context, q *domain.Query) ([]byte, error) {
	m.mu.Lock()
	m.selects = append(m.selects, q)
	gate := m.gate[q.Table]
	err := m.errs[q.Table]
	body, ok := m.rows[q.Table]
	ignoreCancel := m.ignoreCancel
	m.mu.Unlock()

	if gate != nil && ignoreCancel {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		body = "[]"
	}
	return []byte(body), nil
}

func (m *mockDataSource) Insert(_ context.Context, table string, row map[string]any) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts = append(m.inserts, row)
	if err := m.errs[table]; err != nil {
		return nil, err
	}
	return []byte("[]"), nil
}

func (m *mockDataSource) Update(_ context.Context, table string, _ []domain.Filter, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	return m.errs[table]
}

func (m *mockDataSource) RPC(_ context.Context, fn string, args map[string]any) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpcs = append(m.rpcs, rpcCall{fn, args})
	if err := m.errs["rpc:"+fn]; err != nil {
		return nil, err
	}
	if b, ok := m.rpc[fn]; ok {
		return []byte(b), nil
	}
	return []byte("[]"), nil
}

func (m *mockDataSource) Ping(context.Context) error { return nil }

// calls is the total number of data-source calls of any kind.
func (m *mockDataSource) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.selects) + len(m.inserts) + m.updates + len(m.rpcs)
}

func (m *mockDataSource) selectsOn(table string) []*domain.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Query
	for _, q := range m.selects {
		if q.Table == table {
			out = append(out, q)
		}
	}
	return out
}

type mockProfiles struct {
	mu       sync.Mutex
	profile  *domain.Profile
	legacy   *domain.LegacyUserProfile
	err      error
	list     []domain.Profile
	calls    int
	assigned map[string]*string
	roles    map[string]string
}

func (m *mockProfiles) GetByUserID(context.Context, string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.profile, m.err
}

func (m *mockProfiles) GetLegacy(context.Context, string) (*domain.LegacyUserProfile, error) {
	return m.legacy, nil
}

func (m *mockProfiles) List(context.Context, int) ([]domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.list, m.err
}

func (m *mockProfiles) ListUnassigned(context.Context) ([]domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.list, m.err
}

func (m *mockProfiles) ListByProject(context.Context, string) ([]domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.list, m.err
}

func (m *mockProfiles) UpdateRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.roles == nil {
		m.roles = map[string]string{}
	}
	m.roles[id] = role
	return m.err
}

func (m *mockProfiles) AssignProject(_ context.Context, id string, project *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.assigned == nil {
		m.assigned = map[string]*string{}
	}
	m.assigned[id] = project
	return m.err
}

func (m *mockProfiles) AssignTenant(context.Context, string, *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

type mockProjects struct {
	mu       sync.Mutex
	projects []domain.Project
	err      error
	calls    int
	created  []domain.ProjectInput
}

func (m *mockProjects) Get(_ context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.projects {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "project", ID: id}
}

func (m *mockProjects) ListByAccount(_ context.Context, account string) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Project
	for _, p := range m.projects {
		if p.AccountID == account {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProjects) ListAll(context.Context) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := append([]domain.Project(nil), m.projects...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockProjects) Create(_ context.Context, in domain.ProjectInput) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.created = append(m.created, in)
	return &domain.Project{ID: "new", Name: in.Name, AccountID: in.AccountID}, m.err
}

func (m *mockProjects) UpdateDataSource(context.Context, string, string, domain.FilterConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *mockProjects) Invalidate(string) {}

func (m *mockProjects) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockTenants struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockTenants) List(context.Context, int) ([]domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []domain.Tenant{{ID: "t1", Name: "Acme"}}, nil
}

func (m *mockTenants) Create(_ context.Context, name string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return &domain.Tenant{ID: "t2", Name: name}, nil
}

func (m *mockTenants) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type mockStorage struct {
	bucket, path string
	body         []byte
	calls        int
}

func (m *mockStorage) Upload(_ context.Context, bucket, path, _ string, body io.Reader) error {
	m.calls++
	m.bucket, m.path = bucket, path
	m.body, _ = io.ReadAll(body)
	return nil
}

// mockFeed hands out one channel per subscribed table.
type mockFeed struct {
	mu       sync.Mutex
	chans    map[string]chan domain.ChangeEvent
	released map[string]int
	// failTable makes Subscribe fail for that table.
	failTable string
}

func newMockFeed() *mockFeed {
	return &mockFeed{chans: map[string]chan domain.ChangeEvent{}, released: map[string]int{}}
}

func (f *mockFeed) Subscribe(_ context.Context, table string) (<-chan domain.ChangeEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if table == f.failTable {
		return nil, nil, errBoom
	}
	ch := make(chan domain.ChangeEvent, 16)
	f.chans[table] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released[table]++
	}, nil
}

func (f *mockFeed) emit(table string) {
	f.mu.Lock()
	ch := f.chans[table]
	f.mu.Unlock()
	ch <- domain.ChangeEvent{Table: table, Type: domain.ChangeInsert}
}

func (f *mockFeed) releases(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[table]
}

func adminRole(tenant string) domain.RoleState {
	return domain.RoleState{
		Profile:        &domain.Profile{ID: "p-admin", Role: domain.RoleAdmin, TenantID: tenant},
		ViewMode:       domain.ViewModeAdmin,
		CanSwitchRoles: true,
		IsAdmin:        true,
	}
}

func clientRole(tenant, project string) domain.RoleState {
	return domain.RoleState{
		Profile:           &domain.Profile{ID: "p-client", Role: domain.RoleViewer, TenantID: tenant, ProjectID: domain.StrPtr(project)},
		ViewMode:          domain.ViewModeClient,
		AssignedProjectID: project,
	}
}
