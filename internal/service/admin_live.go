package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// AdminFeed keeps one admin panel current: it publishes an overview on
// start and again after every burst of changes to the admin resources.
// Refreshes run one at a time; requests arriving meanwhile coalesce.
type AdminFeed struct {
	admin   *AdminService
	live    *LiveRefresh
	role    domain.RoleState
	publish func(domain.AdminOverview)
	logger  *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	pending chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	last   *domain.AdminOverview
	sub    *Subscription
	closed bool
}

// NewAdminFeed creates a feed for role. live may be nil, in which case the
// panel only refreshes on demand.
func NewAdminFeed(admin *AdminService, live *LiveRefresh, role domain.RoleState, publish func(domain.AdminOverview), logger *zap.Logger) *AdminFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &AdminFeed{
		admin:   admin,
		live:    live,
		role:    role,
		publish: publish,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(chan struct{}, 1),
	}
}

// Start checks the caller is in effective admin mode, schedules the first
// overview and subscribes to admin resource changes. A failed subscription
// is logged and the feed keeps working on demand.
func (f *AdminFeed) Start(ctx context.Context) error {
	if err := f.admin.authorize(f.role, "admin live"); err != nil {
		return err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("admin feed closed")
	}
	if tok := domain.AccessTokenFrom(ctx); tok != "" {
		f.ctx = domain.WithAccessToken(f.ctx, tok)
	}
	f.wg.Add(1)
	go f.loop(f.ctx)
	f.mu.Unlock()
	f.Refresh()

	if f.live == nil {
		return nil
	}
	sub, err := f.live.Subscribe(ctx, "admin", domain.AdminResources, f.Refresh)
	if err != nil {
		f.logger.Warn("admin live refresh unavailable", zap.Error(err))
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		go sub.Close()
		return nil
	}
	f.sub = sub
	return nil
}

// Refresh schedules a new overview.
func (f *AdminFeed) Refresh() {
	select {
	case f.pending <- struct{}{}:
	default:
	}
}

// Close releases the live subscription and waits for a running refresh.
// Nothing is published after Close returns.
func (f *AdminFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.cancel()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	f.wg.Wait()
}

func (f *AdminFeed) loop(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.pending:
			f.refresh(ctx)
		}
	}
}

func (f *AdminFeed) refresh(ctx context.Context) {
	overview, err := f.admin.Overview(ctx, f.role)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || ctx.Err() != nil {
		return
	}
	if err != nil {
		f.logger.Warn("admin overview refresh failed", zap.Error(err))
		next := domain.AdminOverview{Users: []domain.Profile{}, Projects: []domain.Project{}, Tenants: []domain.Tenant{}}
		if f.last != nil {
			next = *f.last
		}
		next.Notice = noticeFetchFailed
		f.publish(next)
		return
	}
	f.last = overview
	f.publish(*overview)
}
