package handler

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the router exposes. Nil services leave their
// routes unregistered.
type Deps struct {
	Sessions      *service.SessionService
	Verifier      TokenVerifier
	Roles         *service.RoleResolver
	Executions    *service.ExecutionAggregator
	Conversations *service.ConversationAggregator
	Documents     *service.DocumentFeed
	Admin         *service.AdminService
	Dashboard     service.DashboardDeps

	// HealthChecks are checked by /healthz, keyed by dependency name.
	HealthChecks map[string]Pinger
	// CORSOrigins enables CORS for a browser frontend on another origin.
	CORSOrigins []string
	// WSOriginPatterns restricts websocket upgrades. Empty means same-origin only.
	WSOriginPatterns []string

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.HealthChecks, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		// =============================================
		// Session
		// =============================================
		if d.Sessions != nil {
			r.Post("/auth/login", loginHandler(d.Sessions, logger))
			r.Post("/auth/logout", logoutHandler(d.Sessions, logger))
			r.Get("/auth/me", meHandler(d.Sessions, logger))
		}

		if d.Verifier == nil || d.Roles == nil {
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(d.Verifier, logger))
			r.Use(RoleMiddleware(d.Roles))

			// =============================================
			// Role & projects
			// =============================================
			r.Get("/role", getRoleHandler())
			r.Put("/role/view-mode", switchViewModeHandler(d.Roles, logger))
			r.Get("/projects", listProjectsHandler(d.Roles))

			// =============================================
			// Executions
			// =============================================
			if d.Executions != nil {
				r.Get("/executions", getExecutionsHandler(d.Executions, d.Roles, d.Metrics, logger))
				r.Get("/executions/timeline", getTimelineHandler(d.Executions, d.Roles, logger))
				r.Get("/executions/export.csv", exportExecutionsHandler(d.Executions, d.Roles, logger))
			}

			// =============================================
			// Conversations
			// =============================================
			if d.Conversations != nil {
				r.Get("/conversations", getConversationsHandler(d.Conversations, d.Roles, d.Metrics, logger))
				r.Get("/conversations/export.csv", exportConversationsHandler(d.Conversations, d.Roles, logger))
			}

			if d.Documents != nil {
				r.Get("/documents", listDocumentsHandler(d.Documents, logger))
			}

			// =============================================
			// Admin
			// =============================================
			if d.Admin != nil {
				r.Route("/admin", func(r chi.Router) {
					registerAdminRoutes(r, d.Admin, logger)
				})
			}
		})

		// Browsers cannot set headers on a websocket handshake, so the
		// live dashboard also accepts ?access_token=.
		if d.Dashboard.Roles != nil {
			r.Group(func(r chi.Router) {
				r.Use(queryTokenMiddleware)
				r.Use(JWTAuthMiddleware(d.Verifier, logger))
				r.Get("/dashboard/live", dashboardLiveHandler(d.Dashboard, d.WSOriginPatterns, logger))
			})
		}
		if d.Admin != nil {
			r.Group(func(r chi.Router) {
				r.Use(queryTokenMiddleware)
				r.Use(JWTAuthMiddleware(d.Verifier, logger))
				r.Use(RoleMiddleware(d.Roles))
				r.Get("/admin/live", adminLiveHandler(d.Admin, d.Dashboard.Live, d.WSOriginPatterns, logger))
			})
		}
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(checks map[string]Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "portal-api", Status: "healthy", LastChecked: now},
		}
		overall := "healthy"
		for _, name := range slices.Sorted(maps.Keys(checks)) {
			p := checks[name]
			start := time.Now()
			err := p.Ping(ctx)
			sh := domain.ServiceHealth{
				Name:        name,
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				sh.Status = "degraded"
				sh.Error = err.Error()
				overall = "degraded"
			}
			services = append(services, sh)
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
