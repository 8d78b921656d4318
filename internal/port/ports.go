// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"io"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// DataSource is the relational boundary: structured select, insert,
// update and stored procedures. Results are JSON arrays of rows.
// Implemented by the Supabase PostgREST client and the direct pgx backend.
type DataSource interface {
	Select(ctx context.Context, q *domain.Query) ([]byte, error)
	Insert(ctx context.Context, table string, row map[string]any) ([]byte, error)
	Update(ctx context.Context, table string, filters []domain.Filter, patch map[string]any) error
	RPC(ctx context.Context, fn string, args map[string]any) ([]byte, error)
	Ping(ctx context.Context) error
}

// SessionProvider exposes sign-in, sign-out and the current user.
type SessionProvider interface {
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	CurrentUser(ctx context.Context, accessToken string) (*domain.Identity, error)
}

// BlobStorage uploads objects to a bucket.
type BlobStorage interface {
	Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error
}

// ChangeFeed delivers row-change notifications for a table.
// The returned cancel func releases the subscription and closes the channel.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string) (<-chan domain.ChangeEvent, func(), error)
}

// PreferenceStore durably persists the per-user view mode.
type PreferenceStore interface {
	GetViewMode(ctx context.Context, userID string) (domain.ViewMode, bool, error)
	SetViewMode(ctx context.Context, userID string, mode domain.ViewMode) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
