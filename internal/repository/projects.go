package repository

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

const projectCache = "project"

// Projects implements port.ProjectDirectory. Lookups by id go through cache.
type Projects struct {
	ds      port.DataSource
	cache   port.Cache[*domain.Project]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewProjects creates a project directory.
func NewProjects(ds port.DataSource, cache port.Cache[*domain.Project], metrics *observability.Metrics, logger *zap.Logger) *Projects {
	return &Projects{ds: ds, cache: cache, metrics: metrics, logger: logger}
}

// Get returns a project, or ErrNotFound when the row does not exist.
func (r *Projects) Get(ctx context.Context, id string) (*domain.Project, error) {
	if p, ok := r.cache.Get(id); ok {
		r.metrics.IncrCacheHit(projectCache)
		return p, nil
	}
	r.metrics.IncrCacheMiss(projectCache)

	body, err := r.ds.Select(ctx, domain.NewQuery(domain.TableProject).Eq("id", id).WithLimit(1))
	if err != nil {
		return nil, err
	}
	p, err := firstRow[domain.Project](domain.TableProject, body)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.ErrNotFound{Resource: "project", ID: id}
	}
	r.cache.Set(id, p)
	return p, nil
}

// ListByAccount returns the projects of an account sorted by name.
func (r *Projects) ListByAccount(ctx context.Context, accountID string) ([]domain.Project, error) {
	body, err := r.ds.Select(ctx, domain.NewQuery(domain.TableProject).Eq("account_id", accountID))
	if err != nil {
		return nil, err
	}
	projects, err := decodeRows[domain.Project](domain.TableProject, body)
	if err != nil {
		return nil, err
	}
	SortByName(projects)
	r.warm(projects)
	return projects, nil
}

// ListAll returns every project, newest first.
func (r *Projects) ListAll(ctx context.Context) ([]domain.Project, error) {
	body, err := r.ds.Select(ctx, domain.NewQuery(domain.TableProject).OrderBy("created_at", true))
	if err != nil {
		return nil, err
	}
	projects, err := decodeRows[domain.Project](domain.TableProject, body)
	if err != nil {
		return nil, err
	}
	r.warm(projects)
	return projects, nil
}

func (r *Projects) warm(projects []domain.Project) {
	for i := range projects {
		p := projects[i]
		r.cache.Set(p.ID, &p)
	}
}

// Create inserts a project.
func (r *Projects) Create(ctx context.Context, in domain.ProjectInput) (*domain.Project, error) {
	if in.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	row := map[string]any{"name": in.Name, "account_id": in.AccountID}
	if in.DataTable != "" {
		row["data_table"] = in.DataTable
	}
	body, err := r.ds.Insert(ctx, domain.TableProject, row)
	if err != nil {
		return nil, err
	}
	p, err := firstRow[domain.Project](domain.TableProject, body)
	if err != nil {
		return nil, err
	}
	if p == nil {
		// backends that do not return the representation
		p = &domain.Project{Name: in.Name, AccountID: in.AccountID, DataTable: domain.StrPtr(in.DataTable)}
	}
	r.logger.Info("project created", zap.String("name", in.Name), zap.String("account_id", in.AccountID))
	return p, nil
}

// UpdateDataSource edits the data table and row filter of a project. An
// unknown id is ErrNotFound.
func (r *Projects) UpdateDataSource(ctx context.Context, id, dataTable string, filter domain.FilterConfig) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	patch := map[string]any{
		"data_table":    nullable(domain.StrPtr(dataTable)),
		"filter_column": nullable(domain.StrPtr(filter.Column)),
		"filter_value":  nullable(domain.StrPtr(filter.Value)),
		"filter_type":   nullable(domain.StrPtr(filter.Type)),
	}
	if err := r.ds.Update(ctx, domain.TableProject, byID(id), patch); err != nil {
		return err
	}
	r.Invalidate(id)
	return nil
}

// Invalidate drops one cached project, or all of them when id is "".
func (r *Projects) Invalidate(id string) {
	if id == "" {
		if p, ok := r.cache.(interface{ Purge() }); ok {
			p.Purge()
		}
		return
	}
	r.cache.Delete(id)
}

// SortByName orders projects alphabetically, keeping input order for ties.
func SortByName(projects []domain.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].Name < projects[j].Name
	})
}
