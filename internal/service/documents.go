package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

// Rows of the documents feed per caller.
const (
	AdminDocumentLimit  = 50
	ClientDocumentLimit = 10
)

// DocumentFeed lists the most recent knowledge-base documents.
type DocumentFeed struct {
	ds      port.DataSource
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewDocumentFeed(ds port.DataSource, metrics *observability.Metrics, logger *zap.Logger) *DocumentFeed {
	return &DocumentFeed{ds: ds, metrics: metrics, logger: logger}
}

// Recent returns documents newest first. Admins and owners see up to
// AdminDocumentLimit, everyone else ClientDocumentLimit.
func (f *DocumentFeed) Recent(ctx context.Context, role domain.RoleState) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "DocumentFeed.Recent")
	defer span.End()

	if !role.HasAccess() {
		return []domain.Document{}, nil
	}
	limit := ClientDocumentLimit
	if role.Profile.IsPrivileged() {
		limit = AdminDocumentLimit
	}

	q := domain.NewQuery(domain.TableDocuments).
		Select("id", "content", "metadata").
		OrderBy("id", true).
		WithLimit(limit)
	body, err := f.ds.Select(ctx, q)
	if err != nil {
		f.metrics.IncrSourceError(domain.TableDocuments)
		f.logger.Warn("documents fetch failed", zap.Error(err))
		return nil, &domain.ErrFetchFailed{Table: domain.TableDocuments, Err: err}
	}
	docs := []domain.Document{}
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, &domain.ErrFetchFailed{Table: domain.TableDocuments, Err: fmt.Errorf("decode: %w", err)}
	}
	f.metrics.AddRecordsFetched(domain.TableDocuments, len(docs))
	return docs, nil
}
