package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

// TenantDocumentsBucket holds files uploaded per tenant.
const TenantDocumentsBucket = "tenant-documents"

const (
	adminListLimit     = 100
	defaultKPIDays     = 30
	unassignedSentinel = "unassigned"
)

// browsableTables are the tables an admin may read raw.
var browsableTables = map[string]bool{
	"profiles":           true,
	"project":            true,
	"clients":            true,
	"tenants":            true,
	"documents":          true,
	"mulchbg":            true,
	"account":            true,
	"api_configs":        true,
	"api_executions":     true,
	"chat_conversation":  true,
	"chat_message":       true,
	"client_connectors":  true,
	"client_workflows":   true,
	"execution":          true,
	"executions":         true,
	"incidents":          true,
	"n8n_chat_histories": true,
	"user_profile":       true,
	"webhooks":           true,
}

var assignableRoles = map[string]bool{
	domain.RoleAdmin:    true,
	domain.RoleOwner:    true,
	domain.RoleOperator: true,
	domain.RoleViewer:   true,
}

// AdminService runs the administrative operations. Every method requires
// effective admin mode and fails with ErrForbidden before touching any
// store otherwise.
type AdminService struct {
	profiles port.ProfileStore
	projects port.ProjectDirectory
	tenants  port.TenantStore
	ds       port.DataSource
	storage  port.BlobStorage
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewAdminService creates the admin service.
func NewAdminService(
	profiles port.ProfileStore,
	projects port.ProjectDirectory,
	tenants port.TenantStore,
	ds port.DataSource,
	storage port.BlobStorage,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *AdminService {
	return &AdminService{
		profiles: profiles,
		projects: projects,
		tenants:  tenants,
		ds:       ds,
		storage:  storage,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AdminService) authorize(role domain.RoleState, action string) error {
	if role.ShouldShowAdminFeatures() {
		return nil
	}
	s.metrics.IncrRoleRejection()
	s.logger.Warn("admin operation rejected",
		zap.String("action", action),
		zap.String("view_mode", string(role.EffectiveMode())),
	)
	return &domain.ErrForbidden{Action: action}
}

// ListUsers returns up to 100 profiles.
func (s *AdminService) ListUsers(ctx context.Context, role domain.RoleState) ([]domain.Profile, error) {
	if err := s.authorize(role, "list users"); err != nil {
		return nil, err
	}
	return s.profiles.List(ctx, adminListLimit)
}

// ListUnassignedUsers returns profiles without a project.
func (s *AdminService) ListUnassignedUsers(ctx context.Context, role domain.RoleState) ([]domain.Profile, error) {
	if err := s.authorize(role, "list unassigned users"); err != nil {
		return nil, err
	}
	return s.profiles.ListUnassigned(ctx)
}

// ListProjectMembers returns the profiles assigned to projectID.
func (s *AdminService) ListProjectMembers(ctx context.Context, role domain.RoleState, projectID string) ([]domain.Profile, error) {
	if err := s.authorize(role, "list project members"); err != nil {
		return nil, err
	}
	return s.profiles.ListByProject(ctx, projectID)
}

// UpdateUserRole stores a new role on a profile.
func (s *AdminService) UpdateUserRole(ctx context.Context, role domain.RoleState, profileID, newRole string) error {
	if err := s.authorize(role, "update user role"); err != nil {
		return err
	}
	if !assignableRoles[newRole] {
		return &domain.ErrValidation{Field: "role", Message: "must be one of admin, owner, operator, viewer"}
	}
	if err := s.profiles.UpdateRole(ctx, profileID, newRole); err != nil {
		return err
	}
	s.logger.Info("user role updated", zap.String("profile_id", profileID), zap.String("role", newRole))
	return nil
}

// AssignProject sets or clears (nil, "" or "unassigned") a user's project.
func (s *AdminService) AssignProject(ctx context.Context, role domain.RoleState, profileID string, projectID *string) error {
	if err := s.authorize(role, "assign project"); err != nil {
		return err
	}
	return s.profiles.AssignProject(ctx, profileID, assignment(projectID))
}

// AssignTenant sets or clears a user's tenant.
func (s *AdminService) AssignTenant(ctx context.Context, role domain.RoleState, profileID string, tenantID *string) error {
	if err := s.authorize(role, "assign tenant"); err != nil {
		return err
	}
	return s.profiles.AssignTenant(ctx, profileID, assignment(tenantID))
}

func assignment(id *string) *string {
	if id == nil || *id == "" || *id == unassignedSentinel {
		return nil
	}
	return id
}

// ListTenants returns up to 100 tenants.
func (s *AdminService) ListTenants(ctx context.Context, role domain.RoleState) ([]domain.Tenant, error) {
	if err := s.authorize(role, "list tenants"); err != nil {
		return nil, err
	}
	return s.tenants.List(ctx, adminListLimit)
}

// CreateTenant creates a tenant folder.
func (s *AdminService) CreateTenant(ctx context.Context, role domain.RoleState, name string) (*domain.Tenant, error) {
	if err := s.authorize(role, "create tenant"); err != nil {
		return nil, err
	}
	return s.tenants.Create(ctx, name)
}

// ListProjects returns the projects of the caller's account.
func (s *AdminService) ListProjects(ctx context.Context, role domain.RoleState) ([]domain.Project, error) {
	if err := s.authorize(role, "list projects"); err != nil {
		return nil, err
	}
	if account := role.AccountID(); account != "" {
		return s.projects.ListByAccount(ctx, account)
	}
	return s.projects.ListAll(ctx)
}

// CreateProject creates a project in the caller's account.
func (s *AdminService) CreateProject(ctx context.Context, role domain.RoleState, name, dataTable string) (*domain.Project, error) {
	if err := s.authorize(role, "create project"); err != nil {
		return nil, err
	}
	account := role.AccountID()
	if account == "" {
		return nil, &domain.ErrValidation{Field: "account_id", Message: "caller has no account"}
	}
	p, err := s.projects.Create(ctx, domain.ProjectInput{
		Name:      name,
		AccountID: account,
		DataTable: strings.TrimSpace(dataTable),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project created", zap.String("project_id", p.ID), zap.String("account_id", account))
	return p, nil
}

// UpdateProjectDataSource changes the table and row filter a project reads.
func (s *AdminService) UpdateProjectDataSource(ctx context.Context, role domain.RoleState, projectID string, req domain.DataSourceRequest) error {
	if err := s.authorize(role, "update project data source"); err != nil {
		return err
	}
	if req.Filter.Type != "" && domain.ParseOp(req.Filter.Type) != domain.Op(strings.ToLower(req.Filter.Type)) {
		return &domain.ErrValidation{Field: "filter.type", Message: "unsupported operator"}
	}
	return s.projects.UpdateDataSource(ctx, projectID, strings.TrimSpace(req.DataTable), req.Filter)
}

// CreateRealProject calls the create_real_project procedure.
func (s *AdminService) CreateRealProject(ctx context.Context, role domain.RoleState, req domain.RealProjectRequest) (json.RawMessage, error) {
	if err := s.authorize(role, "create real project"); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "is required"}
	}
	args := map[string]any{
		"p_project_name": name,
		"p_description":  strings.TrimSpace(req.Description),
	}
	if c := strings.TrimSpace(req.ClientName); c != "" {
		args["p_client_name"] = c
	}
	return s.ds.RPC(ctx, "create_real_project", args)
}

// AddRealExecution records one execution through add_real_execution.
func (s *AdminService) AddRealExecution(ctx context.Context, role domain.RoleState, req domain.RealExecutionRequest) error {
	if err := s.authorize(role, "add real execution"); err != nil {
		return err
	}
	if req.ProjectID == "" {
		return &domain.ErrValidation{Field: "project_id", Message: "is required"}
	}
	if strings.TrimSpace(req.WorkflowName) == "" {
		return &domain.ErrValidation{Field: "workflow_name", Message: "is required"}
	}
	return s.addExecution(ctx, req)
}

func (s *AdminService) addExecution(ctx context.Context, req domain.RealExecutionRequest) error {
	status := req.Status
	if status == "" {
		status = domain.StatusSuccess
	}
	started := req.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	var duration, errMsg any
	if req.DurationMS != nil {
		duration = *req.DurationMS
	}
	if req.ErrorMessage != nil && strings.TrimSpace(*req.ErrorMessage) != "" {
		errMsg = strings.TrimSpace(*req.ErrorMessage)
	}
	_, err := s.ds.RPC(ctx, "add_real_execution", map[string]any{
		"p_project_id":    req.ProjectID,
		"p_workflow_name": strings.TrimSpace(req.WorkflowName),
		"p_status":        status,
		"p_duration_ms":   duration,
		"p_started_at":    started.UTC().Format(time.RFC3339Nano),
		"p_error_message": errMsg,
	})
	return err
}

// BulkImportExecutions imports one execution per line
// ("name,status,duration_ms,date"). Lines without a name are skipped;
// lines that fail to parse or insert are counted as errors.
func (s *AdminService) BulkImportExecutions(ctx context.Context, role domain.RoleState, req domain.BulkImportRequest) (*domain.BulkImportResult, error) {
	ctx, span := tracer.Start(ctx, "AdminService.BulkImportExecutions")
	defer span.End()

	if err := s.authorize(role, "bulk import executions"); err != nil {
		return nil, err
	}
	if req.ProjectID == "" {
		return nil, &domain.ErrValidation{Field: "project_id", Message: "is required"}
	}
	if strings.TrimSpace(req.Lines) == "" {
		return nil, &domain.ErrValidation{Field: "lines", Message: "is required"}
	}

	res := &domain.BulkImportResult{}
	for _, line := range strings.Split(strings.TrimSpace(req.Lines), "\n") {
		exec, ok, err := parseImportLine(line)
		if !ok {
			continue
		}
		if err == nil {
			exec.ProjectID = req.ProjectID
			err = s.addExecution(ctx, exec)
		}
		if err != nil {
			s.logger.Warn("bulk import line failed", zap.String("line", line), zap.Error(err))
			res.Errors++
			res.Failed = append(res.Failed, strings.TrimSpace(line))
			continue
		}
		res.Success++
	}
	span.SetAttributes(attribute.Int("import.success", res.Success), attribute.Int("import.errors", res.Errors))
	s.logger.Info("bulk import finished",
		zap.String("project_id", req.ProjectID),
		zap.Int("success", res.Success),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

// parseImportLine reports ok=false for lines without a name.
func parseImportLine(line string) (domain.RealExecutionRequest, bool, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	field := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	req := domain.RealExecutionRequest{WorkflowName: field(0), Status: field(1)}
	if req.WorkflowName == "" {
		return req, false, nil
	}
	if d := field(2); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			return req, true, fmt.Errorf("duration %q: %w", d, err)
		}
		req.DurationMS = &n
	}
	if ds := field(3); ds != "" {
		t, err := parseImportDate(ds)
		if err != nil {
			return req, true, err
		}
		req.StartedAt = t
	}
	return req, true, nil
}

func parseImportDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: unrecognized format", s)
}

// UploadTenantDocument stores a file under {tenant}/{unix-ms}-{name}.
func (s *AdminService) UploadTenantDocument(ctx context.Context, role domain.RoleState, tenantID, filename, contentType string, body io.Reader) (*domain.UploadResult, error) {
	if err := s.authorize(role, "upload tenant document"); err != nil {
		return nil, err
	}
	if tenantID == "" {
		return nil, &domain.ErrValidation{Field: "tenant_id", Message: "is required"}
	}
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, &domain.ErrValidation{Field: "file", Message: "filename is required"}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if s.storage == nil {
		return nil, &domain.ErrExternalService{Service: "storage", Err: errors.New("document storage not configured")}
	}

	object := fmt.Sprintf("%s/%d-%s", tenantID, s.now().UnixMilli(), name)
	if err := s.storage.Upload(ctx, TenantDocumentsBucket, object, contentType, body); err != nil {
		return nil, err
	}
	s.logger.Info("tenant document uploaded", zap.String("tenant_id", tenantID), zap.String("path", object))
	return &domain.UploadResult{Bucket: TenantDocumentsBucket, Path: object}, nil
}

// BrowseTable returns up to 100 raw rows of an allow-listed table.
func (s *AdminService) BrowseTable(ctx context.Context, role domain.RoleState, table string) (json.RawMessage, error) {
	if err := s.authorize(role, "browse table"); err != nil {
		return nil, err
	}
	if !browsableTables[table] {
		return nil, &domain.ErrValidation{Field: "table", Message: "not browsable"}
	}
	return s.ds.Select(ctx, domain.NewQuery(table).WithLimit(adminListLimit))
}

// Overview loads users, projects and tenants together for the admin panel.
func (s *AdminService) Overview(ctx context.Context, role domain.RoleState) (*domain.AdminOverview, error) {
	ctx, span := tracer.Start(ctx, "AdminService.Overview")
	defer span.End()

	if err := s.authorize(role, "admin overview"); err != nil {
		return nil, err
	}
	out := &domain.AdminOverview{}
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.profiles.List(gCtx, adminListLimit)
		out.Users = users
		return err
	})
	g.Go(func() error {
		projects, err := s.ListProjects(gCtx, role)
		out.Projects = projects
		return err
	})
	g.Go(func() error {
		tenants, err := s.tenants.List(gCtx, adminListLimit)
		out.Tenants = tenants
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.Users == nil {
		out.Users = []domain.Profile{}
	}
	if out.Projects == nil {
		out.Projects = []domain.Project{}
	}
	if out.Tenants == nil {
		out.Tenants = []domain.Tenant{}
	}
	out.UpdatedAt = s.now().UTC()
	return out, nil
}

// AdminKPIs calls admin_dashboard_kpi for the caller's account.
func (s *AdminService) AdminKPIs(ctx context.Context, role domain.RoleState, daysBack int) ([]domain.AdminKPI, error) {
	if err := s.authorize(role, "admin kpis"); err != nil {
		return nil, err
	}
	if daysBack <= 0 {
		daysBack = defaultKPIDays
	}
	body, err := s.ds.RPC(ctx, "admin_dashboard_kpi", map[string]any{
		"p_account": role.AccountID(),
		"days_back": daysBack,
	})
	if err != nil {
		return nil, err
	}
	var out []domain.AdminKPI
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode admin_dashboard_kpi: %w", err)
	}
	if out == nil {
		out = []domain.AdminKPI{}
	}
	return out, nil
}
