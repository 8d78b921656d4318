package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/infra/observability"
	"github.com/boddenberg/client-portal-bfa-go/internal/port"
)

// Per-source row caps: admins read more than clients.
const (
	adminMulchLimit  = 30
	adminChatLimit   = 20
	clientMulchLimit = 20
	clientChatLimit  = 15
)

// ConversationAggregator reads chat-like messages from mulchbg and from
// chat_message joined to its conversation.
type ConversationAggregator struct {
	ds      port.DataSource
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewConversationAggregator creates the aggregator.
func NewConversationAggregator(ds port.DataSource, metrics *observability.Metrics, logger *zap.Logger) *ConversationAggregator {
	return &ConversationAggregator{ds: ds, metrics: metrics, logger: logger}
}

// FetchConversations returns mulchbg messages followed by chat_message
// messages, each in descending id order. The two sources are not merged by
// time. One failing source is logged and skipped; if both fail the call
// returns ErrFetchFailed.
func (c *ConversationAggregator) FetchConversations(ctx context.Context, role domain.RoleState, selection string) ([]domain.ConversationMessage, error) {
	ctx, span := tracer.Start(ctx, "ConversationAggregator.FetchConversations")
	defer span.End()
	span.SetAttributes(attribute.String("selection", selection))

	start := time.Now()
	defer func() {
		c.metrics.RecordRequestDuration("conversations", time.Since(start))
	}()

	if !role.HasAccess() {
		return []domain.ConversationMessage{}, nil
	}

	var project string
	mulchLimit, chatLimit := adminMulchLimit, adminChatLimit
	if role.Profile.IsPrivileged() {
		if selection != domain.AllProjects {
			project = selection
		}
	} else {
		if role.AssignedProjectID == "" {
			return []domain.ConversationMessage{}, nil
		}
		project = role.AssignedProjectID
		mulchLimit, chatLimit = clientMulchLimit, clientChatLimit
	}

	var mulch, chat []domain.ConversationMessage
	var mulchErr, chatErr error

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mulch, mulchErr = c.fetchMulch(gCtx, project, mulchLimit)
		return nil
	})
	g.Go(func() error {
		chat, chatErr = c.fetchChat(gCtx, project, chatLimit)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mulchErr != nil && chatErr != nil {
		c.metrics.IncrSourceError(domain.TableMulch)
		c.metrics.IncrSourceError(domain.TableChatMessage)
		return nil, &domain.ErrFetchFailed{Table: domain.TableMulch, Err: mulchErr}
	}
	if mulchErr != nil {
		c.metrics.IncrSourceError(domain.TableMulch)
		c.logger.Warn("mulchbg fetch failed", zap.String("selection", selection), zap.Error(mulchErr))
	}
	if chatErr != nil {
		c.metrics.IncrSourceError(domain.TableChatMessage)
		c.logger.Warn("chat_message fetch failed", zap.String("selection", selection), zap.Error(chatErr))
	}

	out := make([]domain.ConversationMessage, 0, len(mulch)+len(chat))
	out = append(out, mulch...)
	out = append(out, chat...)
	return out, nil
}

func (c *ConversationAggregator) fetchMulch(ctx context.Context, project string, limit int) ([]domain.ConversationMessage, error) {
	q := domain.NewQuery(domain.TableMulch)
	if project != "" {
		q.Eq("project_id", project)
	}
	body, err := c.ds.Select(ctx, q.OrderBy("id", true).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	var rows []domain.MulchRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.TableMulch, err)
	}
	c.metrics.AddRecordsFetched(domain.TableMulch, len(rows))

	out := make([]domain.ConversationMessage, len(rows))
	for i, r := range rows {
		out[i] = fromMulchRow(r)
	}
	return out, nil
}

func (c *ConversationAggregator) fetchChat(ctx context.Context, project string, limit int) ([]domain.ConversationMessage, error) {
	q := domain.NewQuery(domain.TableChatMessage).
		Select("id", "content", "conversation_id", "created_at").
		WithJoin(domain.Join{
			Table:       domain.TableChatConversation,
			LocalColumn: "conversation_id",
			Columns:     []string{"project_id"},
			Inner:       true,
		})
	if project != "" {
		q.Eq(domain.TableChatConversation+".project_id", project)
	}
	body, err := c.ds.Select(ctx, q.OrderBy("id", true).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	var rows []domain.ChatMessageRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.TableChatMessage, err)
	}
	c.metrics.AddRecordsFetched(domain.TableChatMessage, len(rows))

	out := make([]domain.ConversationMessage, len(rows))
	for i, r := range rows {
		out[i] = fromChatMessageRow(r, project)
	}
	return out, nil
}

func fromMulchRow(r domain.MulchRow) domain.ConversationMessage {
	source := domain.SourceMulch
	if r.MulchID != nil && *r.MulchID != "" {
		source = *r.MulchID
	}
	return domain.ConversationMessage{
		ID:        r.ID.String(),
		SessionID: r.SessionID,
		Message:   r.Message,
		ProjectID: r.ProjectID,
		Source:    source,
	}
}

func fromChatMessageRow(r domain.ChatMessageRow, project string) domain.ConversationMessage {
	msg, _ := json.Marshal(r.Content)
	pid := project
	if pid == "" {
		pid = r.ProjectID()
	}
	return domain.ConversationMessage{
		ID:        r.ID.String(),
		SessionID: r.ConversationID,
		Message:   msg,
		Timestamp: r.CreatedAt,
		ProjectID: domain.StrPtr(pid),
		Source:    domain.SourceChat,
	}
}

// GroupBySession groups messages by session id in first-seen order. Each
// group keeps its messages in input order; messages without a session go
// to the "unknown" group.
func GroupBySession(msgs []domain.ConversationMessage) []domain.ConversationGroup {
	index := make(map[string]int)
	groups := []domain.ConversationGroup{}
	for _, m := range msgs {
		key := m.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, domain.ConversationGroup{SessionID: key})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return groups
}

// ParseMessage renders a raw message payload for display. Strings holding
// JSON are decoded first; objects contribute content|text|message,
// type|role and timestamp|created_at.
func ParseMessage(raw json.RawMessage) domain.ParsedMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.ParsedMessage{Content: string(raw), Type: "unknown"}
	}
	return parseValue(v)
}

func parseValue(v any) domain.ParsedMessage {
	switch t := v.(type) {
	case string:
		var inner any
		if err := json.Unmarshal([]byte(t), &inner); err == nil {
			return parseValue(inner)
		}
		return domain.ParsedMessage{Content: t, Type: "unknown"}
	case map[string]any:
		content := firstTruthy(t, "content", "text", "message")
		typ := "unknown"
		if s, ok := firstTruthy(t, "type", "role").(string); ok {
			typ = strings.ToLower(s)
		}
		ts, _ := firstTruthy(t, "timestamp", "created_at").(string)
		return domain.ParsedMessage{Content: contentString(content), Type: typ, Timestamp: ts}
	case []any:
		return domain.ParsedMessage{Content: "", Type: "unknown"}
	}
	return domain.ParsedMessage{Content: "Empty message", Type: "unknown"}
}

func firstTruthy(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	}
	return true
}

func contentString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
