package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

// RPCUserProjectDetails returns the caller's assigned project with its data
// table and row filter, resolved through the caller's own session.
const RPCUserProjectDetails = "get_user_project_details"

// Limits caps the rows read per table.
type Limits struct {
	Single    int
	Aggregate int
}

// ExecutionAggregator reads execution-like records from every physical
// table a selection maps to and summarizes them.
type ExecutionAggregator struct {
	ds       port.DataSource
	projects port.ProjectDirectory
	registry *TableRegistry
	bulkhead *resilience.Bulkhead
	limits   Limits
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutionAggregator creates the aggregator. Zero limits fall back to
// DefaultSingleLimit and DefaultAggregateLimit.
func NewExecutionAggregator(
	ds port.DataSource,
	projects port.ProjectDirectory,
	bulkhead *resilience.Bulkhead,
	limits Limits,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ExecutionAggregator {
	if limits.Single <= 0 {
		limits.Single = DefaultSingleLimit
	}
	if limits.Aggregate <= 0 {
		limits.Aggregate = DefaultAggregateLimit
	}
	return &ExecutionAggregator{
		ds:       ds,
		projects: projects,
		registry: NewTableRegistry(),
		bulkhead: bulkhead,
		limits:   limits,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// target is one table read of an aggregation pass.
type target struct {
	table string
	scope fetchScope
}

// FetchExecutions runs one aggregation pass for selection ("all" or a
// project id) over rng.
//
// With several tables a failing table is reported in Sources and the
// result is marked Partial. When the only table (or every table) fails the
// call returns ErrFetchFailed.
func (a *ExecutionAggregator) FetchExecutions(ctx context.Context, role domain.RoleState, selection string, rng domain.DateRange) (*domain.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "ExecutionAggregator.FetchExecutions")
	defer span.End()
	span.SetAttributes(attribute.String("selection", selection))

	start := time.Now()
	defer func() {
		a.metrics.RecordRequestDuration("executions", time.Since(start))
	}()

	now := a.now().UTC()
	targets, err := a.resolveTargets(ctx, role, selection, rng)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return EmptyExecutionResult(now), nil
	}
	span.SetAttributes(attribute.Int("tables", len(targets)))

	outcomes := make([]domain.SourceOutcome, len(targets))
	records := make([][]domain.ExecutionRecord, len(targets))

	g, gCtx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			// failures stay in outcomes so sibling fetches keep running
			recs, err := a.fetchTable(gCtx, t, now)
			outcomes[i] = domain.SourceOutcome{Table: t.table, Count: len(recs), Err: err}
			if err != nil {
				outcomes[i].Error = err.Error()
				return nil
			}
			records[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	var merged []domain.ExecutionRecord
	for i, o := range outcomes {
		if o.Failed() {
			failed++
			a.metrics.IncrSourceError(o.Table)
			a.logger.Warn("table fetch failed",
				zap.String("table", o.Table),
				zap.String("selection", selection),
				zap.Error(o.Err),
			)
			continue
		}
		merged = append(merged, records[i]...)
	}
	if failed == len(outcomes) {
		return nil, &domain.ErrFetchFailed{Table: outcomes[0].Table, Err: outcomes[0].Err}
	}

	if len(targets) > 1 {
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		})
	}
	if merged == nil {
		merged = []domain.ExecutionRecord{}
	}

	return &domain.ExecutionResult{
		Records: merged,
		KPIs:    ComputeKPIs(merged, now),
		Sources: outcomes,
		Partial: failed > 0,
	}, nil
}

// EmptyExecutionResult is the result of a view with nothing to read.
func EmptyExecutionResult(now time.Time) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Records: []domain.ExecutionRecord{},
		KPIs:    ComputeKPIs(nil, now),
		Sources: []domain.SourceOutcome{},
	}
}

// resolveTargets decides which tables to read. An empty slice means
// "nothing to read" and issues no query.
func (a *ExecutionAggregator) resolveTargets(ctx context.Context, role domain.RoleState, selection string, rng domain.DateRange) ([]target, error) {
	if !role.HasAccess() {
		return nil, nil
	}
	profile := role.Profile
	base := fetchScope{TenantID: profile.TenantID, Range: rng, Limit: a.limits.Single}

	if !profile.IsPrivileged() {
		if role.AssignedProjectID == "" {
			return nil, nil
		}
		if targets, ok := a.assignedTarget(ctx, role.AssignedProjectID, base); ok {
			return targets, nil
		}
		return a.projectTarget(ctx, role.AssignedProjectID, base)
	}

	if selection != "" && selection != domain.AllProjects {
		return a.projectTarget(ctx, selection, base)
	}

	projects, err := a.projects.ListByAccount(ctx, profile.TenantID)
	if err != nil {
		return nil, &domain.ErrFetchFailed{Table: domain.TableProject, Err: err}
	}
	base.Limit = a.limits.Aggregate
	seen := make(map[string]bool)
	var targets []target
	for _, p := range projects {
		table := p.Table()
		if seen[table] {
			continue
		}
		seen[table] = true
		targets = append(targets, target{table: table, scope: base})
	}
	return targets, nil
}

// assignedTarget reads the caller's project details from the data source.
// It reports false when the call fails or returns nothing, and the caller
// then falls back to the project directory.
func (a *ExecutionAggregator) assignedTarget(ctx context.Context, assigned string, scope fetchScope) ([]target, bool) {
	body, err := a.ds.RPC(ctx, RPCUserProjectDetails, nil)
	if err != nil {
		a.logger.Debug("project details unavailable, using project lookup", zap.Error(err))
		return nil, false
	}
	var rows []domain.ProjectDetails
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return nil, false
	}
	details := rows[0]
	for _, r := range rows {
		if r.ProjectID == assigned {
			details = r
			break
		}
	}
	if details.ProjectID == "" {
		return nil, false
	}
	p := details.Project()
	scope.ProjectID = p.ID
	scope.Filter = p.Filter()
	return []target{{table: p.Table(), scope: scope}}, true
}

func (a *ExecutionAggregator) projectTarget(ctx context.Context, projectID string, scope fetchScope) ([]target, error) {
	scope.ProjectID = projectID
	p, err := a.projects.Get(ctx, projectID)
	var notFound *domain.ErrNotFound
	if errors.As(err, &notFound) {
		// unknown project rows read the default table
		return []target{{table: domain.TableExecutions, scope: scope}}, nil
	}
	if err != nil {
		return nil, &domain.ErrFetchFailed{Table: domain.TableProject, Err: err}
	}
	scope.Filter = p.Filter()
	return []target{{table: p.Table(), scope: scope}}, nil
}

func (a *ExecutionAggregator) fetchTable(ctx context.Context, t target, now time.Time) ([]domain.ExecutionRecord, error) {
	ctx, span := tracer.Start(ctx, "ExecutionAggregator.fetchTable")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", t.table))

	spec := a.registry.lookup(t.table)
	var rows []domain.SourceRow
	err := a.bulkhead.Do(ctx, func(ctx context.Context) error {
		body, err := a.ds.Select(ctx, spec.build(t.table, t.scope))
		if err != nil {
			return err
		}
		rows, err = spec.decode(t.table, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.metrics.AddRecordsFetched(t.table, len(rows))

	out := make([]domain.ExecutionRecord, 0, len(rows))
	for i, row := range rows {
		rec := ToExecutionRecord(row, i, now)
		if spec.dated && !t.scope.Range.Contains(rec.Timestamp) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
