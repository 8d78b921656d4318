package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/resilience"
)

// DefaultChannel is the NOTIFY channel the change triggers publish on.
// Payload: {"table":"...","type":"INSERT","record":{...},"commit_timestamp":"..."}.
const DefaultChannel = "portal_changes"

type notifyPayload struct {
	Table           string         `json:"table"`
	Type            string         `json:"type"`
	Record          map[string]any `json:"record"`
	CommitTimestamp string         `json:"commit_timestamp"`
}

// NotifyConn is the dedicated LISTEN connection. *pgx.Conn satisfies it.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a NotifyConn.
type Dialer func(ctx context.Context) (NotifyConn, error)

// PoolDialer opens connections with the pool's settings but outside the
// pool, so listening never takes a connection away from queries.
func PoolDialer(pool *pgxpool.Pool) Dialer {
	return func(ctx context.Context) (NotifyConn, error) {
		return pgx.ConnectConfig(ctx, pool.Config().ConnConfig.Copy())
	}
}

type listenSub struct {
	table  string
	events chan domain.ChangeEvent
}

// Listener implements port.ChangeFeed with LISTEN/NOTIFY. All subscriptions
// share one connection, opened with the first subscriber and closed with
// the last. A lost connection is re-established with backoff.
type Listener struct {
	dial    Dialer
	channel string
	retry   resilience.Config
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[*listenSub]struct{}
	halt func()
}

// NewListener creates a feed on channel (DefaultChannel when empty).
func NewListener(dial Dialer, channel string, logger *zap.Logger) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{
		dial:    dial,
		channel: channel,
		retry:   resilience.Config{MaxRetries: 5, InitialBackoff: 500 * time.Millisecond},
		logger:  logger,
		subs:    make(map[*listenSub]struct{}),
	}
}

// SetRetry overrides the reconnect policy.
func (l *Listener) SetRetry(cfg resilience.Config) {
	l.retry = cfg
}

// Subscribe listens for changes of table. ctx bounds opening the shared
// connection; the subscription lives until the returned func is called.
// A subscriber that falls behind misses events instead of stalling others.
func (l *Listener) Subscribe(ctx context.Context, table string) (<-chan domain.ChangeEvent, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halt == nil {
		conn, err := l.connect(ctx)
		if err != nil {
			return nil, nil, err
		}
		loopCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			l.run(loopCtx, conn)
		}()
		l.halt = func() {
			cancel()
			<-done
		}
		l.logger.Info("postgres listening", zap.String("channel", l.channel))
	}

	sub := &listenSub{table: table, events: make(chan domain.ChangeEvent, 16)}
	l.subs[sub] = struct{}{}

	var once sync.Once
	stop := func() {
		once.Do(func() { l.unsubscribe(sub) })
	}
	return sub.events, stop, nil
}

func (l *Listener) unsubscribe(sub *listenSub) {
	l.mu.Lock()
	if _, ok := l.subs[sub]; ok {
		delete(l.subs, sub)
		close(sub.events)
	}
	var halt func()
	if len(l.subs) == 0 && l.halt != nil {
		halt = l.halt
		l.halt = nil
	}
	l.mu.Unlock()

	if halt != nil {
		halt()
	}
}

func (l *Listener) connect(ctx context.Context) (NotifyConn, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, mapError("postgres/listen", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ident(l.channel)); err != nil {
		_ = conn.Close(context.Background())
		return nil, mapError("postgres/listen", err)
	}
	return conn, nil
}

// run owns conn until ctx is cancelled. If the connection cannot be
// re-established every subscriber's channel is closed.
func (l *Listener) run(ctx context.Context, conn NotifyConn) {
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("postgres notification wait failed, reconnecting", zap.Error(err))
			_ = conn.Close(context.Background())
			conn = nil

			err = resilience.RetryWithBackoff(ctx, l.retry, func() error {
				c, err := l.connect(ctx)
				if err != nil {
					return err
				}
				conn = c
				return nil
			})
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Error("postgres listener lost", zap.Error(err))
					l.dropAll()
				}
				return
			}
			continue
		}
		evt, ok := decodeNotification(n.Payload)
		if !ok {
			continue
		}
		l.dispatch(evt)
	}
}

func (l *Listener) dispatch(evt domain.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subs {
		if sub.table != evt.Table {
			continue
		}
		select {
		case sub.events <- evt:
		default:
		}
	}
}

// dropAll ends every subscription after the connection is gone for good.
func (l *Listener) dropAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subs {
		close(sub.events)
		delete(l.subs, sub)
	}
	l.halt = nil
}

func decodeNotification(payload string) (domain.ChangeEvent, bool) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.Table == "" {
		return domain.ChangeEvent{}, false
	}
	evt := domain.ChangeEvent{Table: p.Table, Type: domain.ChangeType(p.Type), Record: p.Record}
	if t, err := time.Parse(time.RFC3339, p.CommitTimestamp); err == nil {
		evt.CommitTime = t
	}
	return evt, true
}

