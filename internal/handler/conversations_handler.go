package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Conversations
// GET /v1/conversations?project=all|<id>
// ============================================================

func getConversationsHandler(agg *service.ConversationAggregator, roles *service.RoleResolver, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/conversations")
		defer span.End()
		start := time.Now()

		msgs := []domain.ConversationMessage{}
		if project, ok := settleProject(r, roles); ok {
			span.SetAttributes(attribute.String("project", project))
			var err error
			msgs, err = agg.FetchConversations(ctx, RoleFromContext(ctx), project)
			metrics.RecordRequestDuration("conversations", time.Since(start))
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		writeJSON(w, http.StatusOK, domain.ConversationsResponse{
			Messages: msgs,
			Groups:   service.GroupBySession(msgs),
		})
	}
}

func exportConversationsHandler(agg *service.ConversationAggregator, roles *service.RoleResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/conversations/export.csv")
		defer span.End()

		var msgs []domain.ConversationMessage
		if project, ok := settleProject(r, roles); ok {
			var err error
			msgs, err = agg.FetchConversations(ctx, RoleFromContext(ctx), project)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="conversations.csv"`)
		if err := service.WriteConversationsCSV(w, msgs); err != nil {
			logger.Warn("csv export interrupted", zap.Error(err))
		}
	}
}
