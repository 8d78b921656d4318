package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/resilience"
)

// ============================================================
// ChangeFeed implementation: Supabase Realtime (Phoenix channels)
// ============================================================

const defaultHeartbeat = 25 * time.Second

// phxMessage is the Phoenix channel wire envelope.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type postgresChange struct {
	Data struct {
		Table           string         `json:"table"`
		Type            string         `json:"type"`
		Record          map[string]any `json:"record"`
		OldRecord       map[string]any `json:"old_record"`
		CommitTimestamp string         `json:"commit_timestamp"`
	} `json:"data"`
}

// Realtime subscribes to row changes over the Supabase Realtime websocket.
// Every subscription owns its own connection and rejoins with backoff when
// the connection drops.
type Realtime struct {
	url       string
	heartbeat time.Duration
	retry     resilience.Config
	logger    *zap.Logger
	ref       atomic.Int64
}

// NewRealtime builds a realtime client for the project at baseURL.
func NewRealtime(baseURL, apiKey string, heartbeat time.Duration, logger *zap.Logger) *Realtime {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Realtime{
		url:       fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&vsn=1.0.0", u, apiKey),
		heartbeat: heartbeat,
		retry:     resilience.Config{MaxRetries: 5, InitialBackoff: 500 * time.Millisecond},
		logger:    logger,
	}
}

// SetRetry overrides the rejoin policy.
func (r *Realtime) SetRetry(cfg resilience.Config) {
	r.retry = cfg
}

func (r *Realtime) nextRef() string {
	return strconv.FormatInt(r.ref.Add(1), 10)
}

// Subscribe joins the change channel of table. ctx bounds the first join.
// The returned cancel func closes the connection; the event channel is
// closed once the subscription ends, either by cancel or because the
// connection could not be re-established.
func (r *Realtime) Subscribe(ctx context.Context, table string) (<-chan domain.ChangeEvent, func(), error) {
	topic := "realtime:public:" + table
	conn, err := r.join(ctx, topic, table)
	if err != nil {
		return nil, nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events := make(chan domain.ChangeEvent, 16)

	var mu sync.Mutex
	current := conn
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			mu.Lock()
			c := current
			mu.Unlock()
			_ = c.Close(websocket.StatusNormalClosure, "unsubscribed")
		})
	}

	go func() {
		defer close(events)
		for {
			hbCtx, stopHeartbeat := context.WithCancel(subCtx)
			go r.heartbeatLoop(hbCtx, conn)
			readErr := r.readLoop(subCtx, conn, topic, events)
			stopHeartbeat()
			_ = conn.Close(websocket.StatusNormalClosure, "")
			if subCtx.Err() != nil {
				return
			}

			r.logger.Warn("realtime connection lost, rejoining", zap.String("topic", topic), zap.Error(readErr))
			err := resilience.RetryWithBackoff(subCtx, r.retry, func() error {
				c, err := r.join(subCtx, topic, table)
				if err != nil {
					return err
				}
				conn = c
				return nil
			})
			if err != nil {
				if subCtx.Err() == nil {
					r.logger.Error("realtime subscription lost", zap.String("topic", topic), zap.Error(err))
				}
				return
			}
			mu.Lock()
			current = conn
			mu.Unlock()
			if subCtx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "unsubscribed")
				return
			}
		}
	}()

	r.logger.Info("realtime subscribed", zap.String("table", table))
	return events, stop, nil
}

// join dials the socket and joins topic.
func (r *Realtime) join(ctx context.Context, topic, table string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/realtime", Err: err}
	}
	payload := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{
				{"event": string(domain.ChangeAll), "schema": "public", "table": table},
			},
		},
	}
	if err := r.send(ctx, conn, topic, "phx_join", payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return nil, &domain.ErrExternalService{Service: "supabase/realtime", Err: err}
	}
	return conn, nil
}

func (r *Realtime) send(ctx context.Context, conn *websocket.Conn, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, phxMessage{Topic: topic, Event: event, Payload: raw, Ref: r.nextRef()})
}

func (r *Realtime) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.send(ctx, conn, "phoenix", "heartbeat", map[string]any{}); err != nil {
				r.logger.Warn("realtime heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop forwards changes on topic until the connection fails or ctx ends.
func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn, topic string, out chan<- domain.ChangeEvent) error {
	for {
		var msg phxMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if msg.Topic != topic || msg.Event != "postgres_changes" {
			continue
		}
		evt, ok := decodeChange(msg.Payload)
		if !ok {
			continue
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeChange(payload json.RawMessage) (domain.ChangeEvent, bool) {
	var pc postgresChange
	if err := json.Unmarshal(payload, &pc); err != nil || pc.Data.Table == "" {
		return domain.ChangeEvent{}, false
	}
	evt := domain.ChangeEvent{
		Table:  pc.Data.Table,
		Type:   domain.ChangeType(pc.Data.Type),
		Record: pc.Data.Record,
	}
	if evt.Record == nil {
		evt.Record = pc.Data.OldRecord
	}
	if t, err := time.Parse(time.RFC3339, pc.Data.CommitTimestamp); err == nil {
		evt.CommitTime = t
	}
	return evt, true
}
