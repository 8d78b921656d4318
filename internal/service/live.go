package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

// DefaultDebounce is the coalescing window for change bursts.
const DefaultDebounce = time.Second

// LiveRefresh turns table change notifications into debounced refresh
// callbacks.
type LiveRefresh struct {
	feed     port.ChangeFeed
	debounce time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewLiveRefresh creates a LiveRefresh. A non-positive debounce uses
// DefaultDebounce.
func NewLiveRefresh(feed port.ChangeFeed, debounce time.Duration, metrics *observability.Metrics, logger *zap.Logger) *LiveRefresh {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &LiveRefresh{feed: feed, debounce: debounce, metrics: metrics, logger: logger}
}

// Subscription is a live subscription over a set of tables. It must be
// closed by its owner.
type Subscription struct {
	ID        string
	view      string
	resources []string

	cancel   context.CancelFunc
	releases []func()
	wg       sync.WaitGroup
	once     sync.Once
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// Subscribe listens to every table in resources and calls onChange at most
// once per debounce window after a burst of changes. onChange runs on the
// subscription's goroutine and must not call Close.
//
// ctx bounds only the setup. If any table cannot be subscribed, the tables
// already subscribed are released and the error is returned.
func (l *LiveRefresh) Subscribe(ctx context.Context, view string, resources []string, onChange func()) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Subscription{
		ID:        uuid.NewString(),
		view:      view,
		resources: resources,
		cancel:    cancel,
		metrics:   l.metrics,
		logger:    l.logger,
	}

	signal := make(chan struct{}, 1)
	for _, table := range resources {
		events, release, err := l.feed.Subscribe(ctx, table)
		if err != nil {
			cancel()
			for _, r := range s.releases {
				r()
			}
			return nil, fmt.Errorf("subscribe %s: %w", table, err)
		}
		s.releases = append(s.releases, release)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			forward(subCtx, events, signal)
			if subCtx.Err() == nil {
				l.logger.Warn("change feed closed", zap.String("view", view), zap.String("table", table))
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		l.debounceLoop(subCtx, signal, func() {
			l.metrics.IncrLiveRefresh(view)
			onChange()
		})
	}()

	l.metrics.SubscriptionOpened()
	l.logger.Debug("live subscription opened",
		zap.String("subscription_id", s.ID),
		zap.String("view", view),
		zap.Strings("resources", resources),
	)
	return s, nil
}

func forward(ctx context.Context, events <-chan domain.ChangeEvent, signal chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			select {
			case signal <- struct{}{}:
			default:
			}
		}
	}
}

// debounceLoop fires once the window has passed without further changes.
func (l *LiveRefresh) debounceLoop(ctx context.Context, signal <-chan struct{}, fire func()) {
	timer := time.NewTimer(l.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-signal:
			timer.Reset(l.debounce)
		case <-timer.C:
			if ctx.Err() != nil {
				return
			}
			fire()
		}
	}
}

// Close releases every feed subscription and stops the goroutines. It is
// idempotent; no callback runs after it returns.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		for _, r := range s.releases {
			r()
		}
		s.metrics.SubscriptionClosed()
		s.logger.Debug("live subscription closed",
			zap.String("subscription_id", s.ID),
			zap.String("view", s.view),
		)
	})
}

// Resources returns the subscribed tables.
func (s *Subscription) Resources() []string {
	return s.resources
}
