package handler

import (
	"net/http"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Role & projects
// ============================================================

func getRoleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, RoleFromContext(r.Context()))
	}
}

func switchViewModeHandler(roles *service.RoleResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/role/view-mode")
		defer span.End()

		var req domain.ViewModeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("view_mode", req.Mode))

		state := RoleFromContext(ctx)
		if err := roles.SwitchViewMode(ctx, IdentityFromContext(ctx), &state, req.Mode); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, state)
	}
}

func listProjectsHandler(roles *service.RoleResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/projects")
		defer span.End()

		writeJSON(w, http.StatusOK, roles.AccessibleProjects(ctx, RoleFromContext(ctx)))
	}
}
