package repository

import (
	"context"
	"strings"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

// Tenants implements port.TenantStore.
type Tenants struct {
	ds port.DataSource
}

// NewTenants creates a tenant repository.
func NewTenants(ds port.DataSource) *Tenants {
	return &Tenants{ds: ds}
}

// List returns up to limit tenants.
func (r *Tenants) List(ctx context.Context, limit int) ([]domain.Tenant, error) {
	body, err := r.ds.Select(ctx, domain.NewQuery(domain.TableTenants).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	return decodeRows[domain.Tenant](domain.TableTenants, body)
}

// Create inserts a tenant. The name is trimmed and must not be empty.
func (r *Tenants) Create(ctx context.Context, name string) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	body, err := r.ds.Insert(ctx, domain.TableTenants, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	t, err := firstRow[domain.Tenant](domain.TableTenants, body)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = &domain.Tenant{Name: name}
	}
	return t, nil
}
