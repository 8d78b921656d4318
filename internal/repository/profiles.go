package repository

import (
	"context"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

var profileColumns = []string{"id", "user_id", "email", "full_name", "role", "tenant_id", "project_id", "created_at"}

// Profiles implements port.ProfileStore.
type Profiles struct {
	ds port.DataSource
}

// NewProfiles creates a profile repository.
func NewProfiles(ds port.DataSource) *Profiles {
	return &Profiles{ds: ds}
}

func (r *Profiles) list(ctx context.Context, q *domain.Query) ([]domain.Profile, error) {
	body, err := r.ds.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeRows[domain.Profile](domain.TableProfiles, body)
}

// GetByUserID returns the profile of an auth user, or nil.
func (r *Profiles) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	q := domain.NewQuery(domain.TableProfiles).Select(profileColumns...).Eq("user_id", userID).WithLimit(1)
	body, err := r.ds.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return firstRow[domain.Profile](domain.TableProfiles, body)
}

// GetLegacy returns the legacy user_profile row, or nil.
func (r *Profiles) GetLegacy(ctx context.Context, userID string) (*domain.LegacyUserProfile, error) {
	q := domain.NewQuery(domain.TableUserProfile).Eq("user_id", userID).WithLimit(1)
	body, err := r.ds.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return firstRow[domain.LegacyUserProfile](domain.TableUserProfile, body)
}

// List returns up to limit profiles.
func (r *Profiles) List(ctx context.Context, limit int) ([]domain.Profile, error) {
	return r.list(ctx, domain.NewQuery(domain.TableProfiles).Select(profileColumns...).WithLimit(limit))
}

// ListUnassigned returns profiles without a project.
func (r *Profiles) ListUnassigned(ctx context.Context) ([]domain.Profile, error) {
	return r.list(ctx, domain.NewQuery(domain.TableProfiles).Select(profileColumns...).Where("project_id", domain.OpIs, nil))
}

// ListByProject returns the members of a project.
func (r *Profiles) ListByProject(ctx context.Context, projectID string) ([]domain.Profile, error) {
	return r.list(ctx, domain.NewQuery(domain.TableProfiles).Select(profileColumns...).Eq("project_id", projectID))
}

func byID(id string) []domain.Filter {
	return []domain.Filter{{Column: "id", Op: domain.OpEq, Value: id}}
}

// UpdateRole stores a new role.
func (r *Profiles) UpdateRole(ctx context.Context, profileID, role string) error {
	return r.ds.Update(ctx, domain.TableProfiles, byID(profileID), map[string]any{"role": role})
}

// AssignProject sets or (with nil) clears the project assignment.
func (r *Profiles) AssignProject(ctx context.Context, profileID string, projectID *string) error {
	return r.ds.Update(ctx, domain.TableProfiles, byID(profileID), map[string]any{"project_id": nullable(projectID)})
}

// AssignTenant sets or (with nil) clears the tenant assignment.
func (r *Profiles) AssignTenant(ctx context.Context, profileID string, tenantID *string) error {
	return r.ds.Update(ctx, domain.TableProfiles, byID(profileID), map[string]any{"tenant_id": nullable(tenantID)})
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
