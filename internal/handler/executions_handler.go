package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Executions
// GET /v1/executions?project=all|<id>&from=YYYY-MM-DD&to=YYYY-MM-DD
// ============================================================

func getExecutionsHandler(agg *service.ExecutionAggregator, roles *service.RoleResolver, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/executions")
		defer span.End()
		start := time.Now()

		rng, err := dateRangeParams(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		project, ok := settleProject(r, roles)
		if !ok {
			writeJSON(w, http.StatusOK, service.EmptyExecutionResult(time.Now().UTC()))
			return
		}
		span.SetAttributes(attribute.String("project", project), attribute.String("range", rng.Key()))

		res, err := agg.FetchExecutions(ctx, RoleFromContext(ctx), project, rng)
		metrics.RecordRequestDuration("executions", time.Since(start))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func getTimelineHandler(agg *service.ExecutionAggregator, roles *service.RoleResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/executions/timeline")
		defer span.End()

		rng, err := dateRangeParams(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res := service.EmptyExecutionResult(time.Now().UTC())
		if project, ok := settleProject(r, roles); ok {
			res, err = agg.FetchExecutions(ctx, RoleFromContext(ctx), project, rng)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		writeJSON(w, http.StatusOK, domain.TimelineResponse{
			Timeline: service.Timeline(res.Records),
			Status:   service.StatusBreakdown(res.Records),
			Partial:  res.Partial,
		})
	}
}

func exportExecutionsHandler(agg *service.ExecutionAggregator, roles *service.RoleResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/executions/export.csv")
		defer span.End()

		rng, err := dateRangeParams(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res := service.EmptyExecutionResult(time.Now().UTC())
		if project, ok := settleProject(r, roles); ok {
			res, err = agg.FetchExecutions(ctx, RoleFromContext(ctx), project, rng)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="executions-%s.csv"`, rng.Key()))
		if err := service.WriteExecutionsCSV(w, res.Records); err != nil {
			logger.Warn("csv export interrupted", zap.Error(err))
		}
	}
}
