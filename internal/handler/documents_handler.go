package handler

import (
	"net/http"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Documents
// GET /v1/documents
// ============================================================

func listDocumentsHandler(feed *service.DocumentFeed, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/documents")
		defer span.End()

		docs, err := feed.Recent(ctx, RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.DocumentsResponse{Documents: docs})
	}
}
