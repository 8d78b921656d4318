package handler

import (
	"net/http"
	"strconv"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxUploadBytes = 10 << 20

// ============================================================
// Admin
// Every route requires effective admin mode; the service rejects
// everything else before touching a store.
// ============================================================

func registerAdminRoutes(r chi.Router, admin *service.AdminService, logger *zap.Logger) {
	r.Get("/users", listUsersHandler(admin, logger))
	r.Get("/users/unassigned", listUnassignedUsersHandler(admin, logger))
	r.Put("/users/{profileId}/role", updateUserRoleHandler(admin, logger))
	r.Put("/users/{profileId}/project", assignProjectHandler(admin, logger))
	r.Put("/users/{profileId}/tenant", assignTenantHandler(admin, logger))

	r.Get("/tenants", listTenantsHandler(admin, logger))
	r.Post("/tenants", createTenantHandler(admin, logger))
	r.Post("/tenants/{tenantId}/documents", uploadDocumentHandler(admin, logger))

	r.Get("/projects", listAdminProjectsHandler(admin, logger))
	r.Post("/projects", createProjectHandler(admin, logger))
	r.Get("/projects/{projectId}/members", listMembersHandler(admin, logger))
	r.Put("/projects/{projectId}/data-source", updateDataSourceHandler(admin, logger))

	r.Post("/real-projects", createRealProjectHandler(admin, logger))
	r.Post("/executions", addRealExecutionHandler(admin, logger))
	r.Post("/executions/bulk", bulkImportHandler(admin, logger))

	r.Get("/tables/{table}", browseTableHandler(admin, logger))
	r.Get("/kpis", adminKPIsHandler(admin, logger))
}

func listUsersHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/users")
		defer span.End()

		users, err := admin.ListUsers(ctx, RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func listUnassignedUsersHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/users/unassigned")
		defer span.End()

		users, err := admin.ListUnassignedUsers(ctx, RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func updateUserRoleHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/users/{profileId}/role")
		defer span.End()

		var req domain.RoleUpdateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := admin.UpdateUserRole(ctx, RoleFromContext(ctx), chi.URLParam(r, "profileId"), req.Role); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "role updated", ID: chi.URLParam(r, "profileId")})
	}
}

func assignProjectHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/users/{profileId}/project")
		defer span.End()

		var req domain.AssignmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := admin.AssignProject(ctx, RoleFromContext(ctx), chi.URLParam(r, "profileId"), req.ID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "project assignment updated", ID: chi.URLParam(r, "profileId")})
	}
}

func assignTenantHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/users/{profileId}/tenant")
		defer span.End()

		var req domain.AssignmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := admin.AssignTenant(ctx, RoleFromContext(ctx), chi.URLParam(r, "profileId"), req.ID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "tenant assignment updated", ID: chi.URLParam(r, "profileId")})
	}
}

func listTenantsHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/tenants")
		defer span.End()

		tenants, err := admin.ListTenants(ctx, RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tenants)
	}
}

func createTenantHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/tenants")
		defer span.End()

		var req domain.TenantRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		tenant, err := admin.CreateTenant(ctx, RoleFromContext(ctx), req.Name)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, tenant)
	}
}

func uploadDocumentHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/tenants/{tenantId}/documents")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
			return
		}
		defer file.Close()

		res, err := admin.UploadTenantDocument(ctx, RoleFromContext(ctx), chi.URLParam(r, "tenantId"),
			header.Filename, header.Header.Get("Content-Type"), file)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func listAdminProjectsHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/projects")
		defer span.End()

		projects, err := admin.ListProjects(ctx, RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func createProjectHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/projects")
		defer span.End()

		// account_id in the body is ignored; projects land in the caller's account
		var req domain.ProjectInput
		if !decodeJSON(w, r, &req) {
			return
		}
		p, err := admin.CreateProject(ctx, RoleFromContext(ctx), req.Name, req.DataTable)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func listMembersHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/projects/{projectId}/members")
		defer span.End()

		members, err := admin.ListProjectMembers(ctx, RoleFromContext(ctx), chi.URLParam(r, "projectId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, members)
	}
}

func updateDataSourceHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/projects/{projectId}/data-source")
		defer span.End()

		var req domain.DataSourceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := admin.UpdateProjectDataSource(ctx, RoleFromContext(ctx), chi.URLParam(r, "projectId"), req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "data source updated", ID: chi.URLParam(r, "projectId")})
	}
}

func createRealProjectHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/real-projects")
		defer span.End()

		var req domain.RealProjectRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		out, err := admin.CreateRealProject(ctx, RoleFromContext(ctx), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func addRealExecutionHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/executions")
		defer span.End()

		var req domain.RealExecutionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := admin.AddRealExecution(ctx, RoleFromContext(ctx), req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, domain.SuccessResponse{Message: "execution recorded"})
	}
}

func bulkImportHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/executions/bulk")
		defer span.End()

		var req domain.BulkImportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := admin.BulkImportExecutions(ctx, RoleFromContext(ctx), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func browseTableHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/tables/{table}")
		defer span.End()

		rows, err := admin.BrowseTable(ctx, RoleFromContext(ctx), chi.URLParam(r, "table"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func adminKPIsHandler(admin *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/kpis")
		defer span.End()

		days := 0
		if v := r.URL.Query().Get("days_back"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "days_back must be a non-negative integer")
				return
			}
			days = n
		}

		kpis, err := admin.AdminKPIs(ctx, RoleFromContext(ctx), days)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, kpis)
	}
}
