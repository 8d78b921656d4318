package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
	"github.com/boddenberg/client-portal-bfa-go/internal/repository"
)

var tracer = otel.Tracer("service")

// RoleResolver derives a caller's permissions from the profiles table and
// their stored view-mode preference.
type RoleResolver struct {
	profiles port.ProfileStore
	projects port.ProjectDirectory
	prefs    port.PreferenceStore
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewRoleResolver creates the resolver.
func NewRoleResolver(profiles port.ProfileStore, projects port.ProjectDirectory, prefs port.PreferenceStore, metrics *observability.Metrics, logger *zap.Logger) *RoleResolver {
	return &RoleResolver{
		profiles: profiles,
		projects: projects,
		prefs:    prefs,
		metrics:  metrics,
		logger:   logger,
	}
}

// Resolve never fails: a missing or unreadable profile yields a zero-access
// state with Loading=false.
func (r *RoleResolver) Resolve(ctx context.Context, id domain.Identity) domain.RoleState {
	ctx, span := tracer.Start(ctx, "RoleResolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", id.ID))

	noAccess := domain.RoleState{ViewMode: domain.ViewModeClient}

	profile, err := r.profiles.GetByUserID(ctx, id.ID)
	if err != nil {
		r.logger.Warn("profile lookup failed", zap.String("user_id", id.ID), zap.Error(err))
		return noAccess
	}
	if profile == nil {
		r.logger.Warn("no profile for user", zap.String("user_id", id.ID))
		return noAccess
	}

	// informational only
	legacy, err := r.profiles.GetLegacy(ctx, id.ID)
	if err != nil {
		r.logger.Debug("legacy profile lookup failed", zap.String("user_id", id.ID), zap.Error(err))
		legacy = nil
	}

	state := domain.RoleState{
		Profile:           profile,
		Legacy:            legacy,
		IsOwner:           profile.Role == domain.RoleOwner,
		IsAdmin:           profile.Role == domain.RoleAdmin,
		AssignedProjectID: profile.AssignedProject(),
	}
	state.CanSwitchRoles = state.IsOwner || state.IsAdmin

	stored, ok, err := r.prefs.GetViewMode(ctx, id.ID)
	if err != nil {
		r.logger.Warn("view mode lookup failed", zap.String("user_id", id.ID), zap.Error(err))
	}
	switch {
	case ok:
		state.ViewMode = stored
	case state.CanSwitchRoles:
		state.ViewMode = domain.ViewModeAdmin
	default:
		state.ViewMode = domain.ViewModeClient
	}
	return state
}

// SwitchViewMode stores a new view mode for the caller. Asking for admin
// without the privilege leaves state untouched and returns ErrForbidden
// before anything is written.
func (r *RoleResolver) SwitchViewMode(ctx context.Context, id domain.Identity, state *domain.RoleState, raw string) error {
	mode, ok := domain.ParseViewMode(raw)
	if !ok {
		return &domain.ErrValidation{Field: "mode", Message: "must be 'admin' or 'client'"}
	}
	if mode == domain.ViewModeAdmin && !state.CanSwitchRoles {
		r.logger.Warn("user cannot switch to admin mode", zap.String("user_id", id.ID))
		r.metrics.IncrRoleRejection()
		return &domain.ErrForbidden{Action: "switch to admin view"}
	}

	if err := r.prefs.SetViewMode(ctx, id.ID, mode); err != nil {
		return err
	}
	state.ViewMode = mode
	r.logger.Info("view mode switched", zap.String("user_id", id.ID), zap.String("mode", string(mode)))
	return nil
}

// AccessibleProjects lists the projects the caller may select, sorted by
// name. Lookup failures are logged and yield an empty list.
func (r *RoleResolver) AccessibleProjects(ctx context.Context, state domain.RoleState) []domain.Project {
	ctx, span := tracer.Start(ctx, "RoleResolver.AccessibleProjects")
	defer span.End()

	if !state.HasAccess() {
		return []domain.Project{}
	}

	if state.EffectiveMode() == domain.ViewModeClient {
		if state.AssignedProjectID == "" {
			return []domain.Project{}
		}
		p, err := r.projects.Get(ctx, state.AssignedProjectID)
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return []domain.Project{}
		}
		if err != nil {
			r.logger.Warn("assigned project lookup failed",
				zap.String("project_id", state.AssignedProjectID), zap.Error(err))
			return []domain.Project{}
		}
		return []domain.Project{*p}
	}

	var (
		projects []domain.Project
		err      error
	)
	if account := state.AccountID(); account != "" {
		projects, err = r.projects.ListByAccount(ctx, account)
	} else {
		projects, err = r.projects.ListAll(ctx)
	}
	if err != nil {
		r.logger.Warn("project listing failed", zap.Error(err))
		return []domain.Project{}
	}
	repository.SortByName(projects)
	return projects
}
