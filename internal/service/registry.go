package service

import (
	"encoding/json"
	"fmt"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// Row caps for single-project and aggregated ("all") fetches.
const (
	DefaultSingleLimit    = 1000
	DefaultAggregateLimit = 500
)

// fetchScope is everything a table needs to build its query.
type fetchScope struct {
	TenantID  string
	ProjectID string // empty for the aggregated path
	Filter    domain.FilterConfig
	Range     domain.DateRange
	Limit     int
}

// tableSpec describes how one physical table is read and decoded.
type tableSpec struct {
	// dated tables are also range-checked after normalization
	dated  bool
	build  func(table string, s fetchScope) *domain.Query
	decode func(table string, body []byte) ([]domain.SourceRow, error)
}

// TableRegistry maps table names to their specs. Unknown tables use the
// generic spec.
type TableRegistry struct {
	specs   map[string]tableSpec
	generic tableSpec
}

// NewTableRegistry returns the registry of known data tables.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{
		specs: map[string]tableSpec{
			domain.TableExecutions: {
				dated: true,
				build: func(table string, s fetchScope) *domain.Query {
					return domain.NewQuery(table).
						Eq("tenant_id", s.TenantID).
						Where("timestamp", domain.OpGte, s.Range.Start()).
						Where("timestamp", domain.OpLte, s.Range.End()).
						OrderBy("timestamp", true).
						WithLimit(s.Limit)
				},
				decode: decodeAs[domain.ExecutionRow],
			},
			domain.TableMulch: {
				build: func(table string, s fetchScope) *domain.Query {
					q := domain.NewQuery(table)
					if s.ProjectID != "" {
						q.Eq("project_id", s.ProjectID)
					}
					return q.OrderBy("id", true).WithLimit(s.Limit)
				},
				decode: decodeAs[domain.MulchRow],
			},
			domain.TableChatHistories: {
				build: func(table string, s fetchScope) *domain.Query {
					return domain.NewQuery(table).OrderBy("id", true).WithLimit(s.Limit)
				},
				decode: decodeAs[domain.ChatHistoryRow],
			},
		},
		generic: tableSpec{
			build: func(table string, s fetchScope) *domain.Query {
				q := domain.NewQuery(table)
				if f, ok := domain.FilterFromConfig(s.Filter); ok {
					q.Filters = append(q.Filters, f)
				}
				return q.WithLimit(s.Limit)
			},
			decode: decodeGeneric,
		},
	}
}

func (r *TableRegistry) lookup(table string) tableSpec {
	if s, ok := r.specs[table]; ok {
		return s
	}
	return r.generic
}

func decodeAs[T domain.SourceRow](table string, body []byte) ([]domain.SourceRow, error) {
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	out := make([]domain.SourceRow, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func decodeGeneric(table string, body []byte) ([]domain.SourceRow, error) {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	out := make([]domain.SourceRow, len(rows))
	for i, r := range rows {
		out[i] = domain.GenericRow{Table: table, Fields: r}
	}
	return out, nil
}
