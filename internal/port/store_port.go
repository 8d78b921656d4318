package port

import (
	"context"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// ProfileStore reads and mutates user profiles. Lookups return (nil, nil)
// when no row exists.
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	GetLegacy(ctx context.Context, userID string) (*domain.LegacyUserProfile, error)
	List(ctx context.Context, limit int) ([]domain.Profile, error)
	ListUnassigned(ctx context.Context) ([]domain.Profile, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.Profile, error)
	UpdateRole(ctx context.Context, profileID, role string) error
	AssignProject(ctx context.Context, profileID string, projectID *string) error
	AssignTenant(ctx context.Context, profileID string, tenantID *string) error
}

// ProjectDirectory is the queryable table of projects. Get and
// UpdateDataSource return *domain.ErrNotFound for an unknown id.
type ProjectDirectory interface {
	Get(ctx context.Context, id string) (*domain.Project, error)
	ListByAccount(ctx context.Context, accountID string) ([]domain.Project, error)
	ListAll(ctx context.Context) ([]domain.Project, error)
	Create(ctx context.Context, in domain.ProjectInput) (*domain.Project, error)
	UpdateDataSource(ctx context.Context, id, dataTable string, filter domain.FilterConfig) error
	// Invalidate drops a cached project ("" drops every entry).
	Invalidate(id string)
}

// TenantStore lists and creates tenants.
type TenantStore interface {
	List(ctx context.Context, limit int) ([]domain.Tenant, error)
	Create(ctx context.Context, name string) (*domain.Tenant, error)
}
