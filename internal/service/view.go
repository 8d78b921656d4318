package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
)

// noticeFetchFailed is shown over last-known-good data when a refresh fails.
const noticeFetchFailed = "Some data could not be refreshed; showing the last successful result."

// DashboardDeps are the collaborators of a dashboard view. Live may be nil
// when no change feed is configured, Documents when the documents panel is
// not served.
type DashboardDeps struct {
	Roles         *RoleResolver
	Executions    *ExecutionAggregator
	Conversations *ConversationAggregator
	Documents     *DocumentFeed
	Live          *LiveRefresh
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// DashboardView is the per-session dashboard state machine. It resolves the
// caller's role before any data fetch, and publishes only results whose
// selection is still current.
//
// publish is called with the view lock held and must not call back into
// the view.
type DashboardView struct {
	deps     DashboardDeps
	identity domain.Identity
	publish  func(domain.DashboardSnapshot)
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	role         domain.RoleState
	roleReady    bool
	projects     []domain.Project
	selection    string
	rng          domain.DateRange
	gen          uint64
	seq          uint64
	publishedSeq uint64
	cancelFlight context.CancelFunc
	last         *domain.DashboardSnapshot
	sub          *Subscription
	closed       bool
}

// NewDashboardView creates a view for identity. Nothing is fetched until
// Start.
func NewDashboardView(deps DashboardDeps, identity domain.Identity, publish func(domain.DashboardSnapshot)) *DashboardView {
	ctx, cancel := context.WithCancel(context.Background())
	return &DashboardView{
		deps:      deps,
		identity:  identity,
		publish:   publish,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		selection: domain.AllProjects,
		rng:       domain.DefaultDateRange(time.Now()),
	}
}

// Start resolves the role, settles the initial selection, subscribes to
// live changes and runs the first aggregation.
func (v *DashboardView) Start(ctx context.Context) error {
	role := v.deps.Roles.Resolve(ctx, v.identity)
	projects := v.deps.Roles.AccessibleProjects(ctx, role)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errors.New("dashboard view closed")
	}
	if tok := domain.AccessTokenFrom(ctx); tok != "" {
		v.ctx = domain.WithAccessToken(v.ctx, tok)
	}
	v.role = role
	v.projects = projects
	v.roleReady = true
	v.selection = autoSelect(role, projects, v.selection)
	v.gen++
	v.refreshLocked()
	v.mu.Unlock()

	if v.deps.Live == nil || !role.HasAccess() {
		return nil
	}
	sub, err := v.deps.Live.Subscribe(ctx, "dashboard", dashboardResources(projects), v.Refresh)
	if err != nil {
		// live refresh is best effort; the view still works on demand
		v.deps.Logger.Warn("live refresh unavailable", zap.String("user_id", v.identity.ID), zap.Error(err))
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		go sub.Close()
		return nil
	}
	v.sub = sub
	return nil
}

// Select changes project and date range together as one generation.
func (v *DashboardView) Select(project string, rng domain.DateRange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.rng = rng
	v.setSelectionLocked(project)
}

// SetSelection changes the selected project ("all" or an id).
func (v *DashboardView) SetSelection(project string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.setSelectionLocked(project)
}

// SetDateRange changes the date range.
func (v *DashboardView) SetDateRange(rng domain.DateRange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.rng = rng
	v.gen++
	if v.roleReady {
		v.refreshLocked()
	}
}

func (v *DashboardView) setSelectionLocked(project string) {
	if project == "" {
		project = domain.AllProjects
	}
	if v.roleReady {
		project = autoSelect(v.role, v.projects, project)
	}
	v.selection = project
	v.gen++
	if v.roleReady {
		v.refreshLocked()
	}
}

// SwitchViewMode changes the caller's view mode and re-aggregates under
// the new lens.
func (v *DashboardView) SwitchViewMode(ctx context.Context, mode string) error {
	v.mu.Lock()
	if !v.roleReady || v.closed {
		v.mu.Unlock()
		return &domain.ErrUnauthorized{Message: "role not resolved"}
	}
	role := v.role
	v.mu.Unlock()

	if err := v.deps.Roles.SwitchViewMode(ctx, v.identity, &role, mode); err != nil {
		return err
	}
	projects := v.deps.Roles.AccessibleProjects(ctx, role)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.role = role
	v.projects = projects
	v.setSelectionLocked(v.selection)
	return nil
}

// Refresh re-runs the aggregation for the current selection. Live changes
// and manual refreshes both land here.
func (v *DashboardView) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || !v.roleReady {
		return
	}
	v.refreshLocked()
}

// Snapshot returns the last published snapshot.
func (v *DashboardView) Snapshot() (domain.DashboardSnapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last == nil {
		return domain.DashboardSnapshot{}, false
	}
	return *v.last, true
}

// Role returns the resolved role state.
func (v *DashboardView) Role() domain.RoleState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.role
}

// Close cancels in-flight work and releases the live subscription. No
// snapshot is published after Close returns.
func (v *DashboardView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	if v.cancelFlight != nil {
		v.cancelFlight()
	}
	v.cancel()
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	v.wg.Wait()
}

// refreshLocked starts an aggregation for the current generation and
// cancels the previous one.
func (v *DashboardView) refreshLocked() {
	if v.cancelFlight != nil {
		v.cancelFlight()
	}
	ctx, cancel := context.WithCancel(v.ctx)
	v.cancelFlight = cancel
	v.seq++

	req := viewRequest{
		gen:       v.gen,
		seq:       v.seq,
		role:      v.role,
		projects:  v.projects,
		selection: v.selection,
		rng:       v.rng,
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer cancel()
		v.run(ctx, req)
	}()
}

type viewRequest struct {
	gen       uint64
	seq       uint64
	role      domain.RoleState
	projects  []domain.Project
	selection string
	rng       domain.DateRange
}

func (v *DashboardView) run(ctx context.Context, req viewRequest) {
	var (
		execs   *domain.ExecutionResult
		convs   []domain.ConversationMessage
		docs    []domain.Document
		execErr error
		convErr error
		docErr  error
	)

	g, gCtx := errgroup.WithContext(ctx)
	if clientWithoutProject(req.role) {
		execs = EmptyExecutionResult(v.now().UTC())
		convs = []domain.ConversationMessage{}
	} else {
		g.Go(func() error {
			execs, execErr = v.deps.Executions.FetchExecutions(gCtx, req.role, req.selection, req.rng)
			return nil
		})
		g.Go(func() error {
			convs, convErr = v.deps.Conversations.FetchConversations(gCtx, req.role, req.selection)
			return nil
		})
	}
	if v.deps.Documents != nil {
		g.Go(func() error {
			docs, docErr = v.deps.Documents.Recent(gCtx, req.role)
			return nil
		})
	}
	_ = g.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || req.gen != v.gen || req.seq <= v.publishedSeq || ctx.Err() != nil {
		v.deps.Metrics.IncrStaleDiscarded()
		v.deps.Logger.Debug("stale dashboard result discarded",
			zap.Uint64("generation", req.gen),
			zap.Uint64("current", v.gen),
			zap.String("selection", req.selection),
		)
		return
	}
	v.publishedSeq = req.seq

	if execErr != nil {
		v.deps.Logger.Warn("dashboard refresh failed",
			zap.String("user_id", v.identity.ID),
			zap.String("selection", req.selection),
			zap.Error(execErr),
		)
		snap := domain.DashboardSnapshot{
			Generation: req.gen,
			Selection:  req.selection,
			DateRange:  req.rng,
			ViewMode:   req.role.EffectiveMode(),
			Projects:   req.projects,
			Executions: *EmptyExecutionResult(v.now().UTC()),
			Documents:  []domain.Document{},
		}
		if v.last != nil {
			snap = *v.last
		}
		snap.Notice = noticeFetchFailed
		v.last = &snap
		v.publish(snap)
		return
	}

	snap := domain.DashboardSnapshot{
		Generation:    req.gen,
		Selection:     req.selection,
		DateRange:     req.rng,
		ViewMode:      req.role.EffectiveMode(),
		Projects:      req.projects,
		Executions:    *execs,
		Timeline:      Timeline(execs.Records),
		Status:        StatusBreakdown(execs.Records),
		Conversations: convs,
		Documents:     docs,
		UpdatedAt:     v.now().UTC(),
	}
	if docs == nil {
		snap.Documents = []domain.Document{}
	}
	if docErr != nil {
		// a documents failure keeps the previous list and adds no notice
		snap.Documents = []domain.Document{}
		if v.last != nil {
			snap.Documents = v.last.Documents
		}
	}
	if convErr != nil {
		v.deps.Logger.Warn("conversation refresh failed", zap.String("selection", req.selection), zap.Error(convErr))
		snap.Conversations = []domain.ConversationMessage{}
		if v.last != nil && v.last.Selection == req.selection {
			snap.Conversations = v.last.Conversations
		}
		snap.Notice = noticeFetchFailed
	}
	v.last = &snap
	v.publish(snap)
}

// clientWithoutProject is a privileged user browsing in client mode with no
// assigned project: there is nothing to show.
func clientWithoutProject(role domain.RoleState) bool {
	return role.EffectiveMode() == domain.ViewModeClient && role.AssignedProjectID == ""
}

// SettleSelection clamps a requested selection the way the dashboard does.
// ok is false when the caller's current lens has nothing to show.
func (r *RoleResolver) SettleSelection(ctx context.Context, role domain.RoleState, requested string) (selection string, ok bool) {
	if clientWithoutProject(role) {
		return "", false
	}
	return autoSelect(role, r.AccessibleProjects(ctx, role), requested), true
}

// autoSelect settles the requested selection against what the caller may
// see. Client mode always shows the assigned project; a lone accessible
// project replaces "all"; unknown projects fall back to "all".
func autoSelect(role domain.RoleState, projects []domain.Project, requested string) string {
	if role.EffectiveMode() == domain.ViewModeClient {
		if role.AssignedProjectID != "" {
			return role.AssignedProjectID
		}
		return domain.AllProjects
	}
	if requested == "" {
		requested = domain.AllProjects
	}
	if requested == domain.AllProjects {
		if len(projects) == 1 {
			return projects[0].ID
		}
		return requested
	}
	for _, p := range projects {
		if p.ID == requested {
			return requested
		}
	}
	return domain.AllProjects
}

// dashboardResources is the base dashboard resource set plus every data
// table the accessible projects read.
func dashboardResources(projects []domain.Project) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range domain.DashboardResources {
		add(t)
	}
	for _, p := range projects {
		add(p.Table())
	}
	add(domain.TableMulch)
	add(domain.TableChatMessage)
	return out
}
