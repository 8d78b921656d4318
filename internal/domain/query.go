package domain

import "strings"

// ============================================================
// Structured query. The data source is only asked to filter,
// order and limit, plus one embedded join.
// ============================================================

// Op is a comparison operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpLike  Op = "like"
	OpILike Op = "ilike"
	OpIs    Op = "is"
)

// ParseOp maps a stored filter_type to an operator, defaulting to eq.
func ParseOp(s string) Op {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike, OpILike, OpIs:
		return op
	}
	return OpEq
}

// Filter is a single column predicate. Column may be qualified with the
// joined table name ("chat_conversation.project_id").
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Order is a single sort key.
type Order struct {
	Column string
	Desc   bool
}

// Join embeds columns of a parent row. Inner joins drop rows without a parent.
type Join struct {
	Table         string
	LocalColumn   string
	ForeignColumn string
	Columns       []string
	Inner         bool
}

// Query is a select against one table.
type Query struct {
	Table   string
	Columns []string
	Filters []Filter
	Order   *Order
	Limit   int
	Join    *Join
}

// NewQuery starts a query on table selecting all columns.
func NewQuery(table string) *Query {
	return &Query{Table: table}
}

// Select restricts the returned columns.
func (q *Query) Select(cols ...string) *Query {
	q.Columns = append(q.Columns, cols...)
	return q
}

// Where adds a predicate.
func (q *Query) Where(column string, op Op, value any) *Query {
	q.Filters = append(q.Filters, Filter{Column: column, Op: op, Value: value})
	return q
}

// Eq is shorthand for Where(column, OpEq, value).
func (q *Query) Eq(column string, value any) *Query {
	return q.Where(column, OpEq, value)
}

// OrderBy sets the sort key.
func (q *Query) OrderBy(column string, desc bool) *Query {
	q.Order = &Order{Column: column, Desc: desc}
	return q
}

// WithLimit caps the number of rows.
func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	return q
}

// WithJoin embeds a parent table.
func (q *Query) WithJoin(j Join) *Query {
	q.Join = &j
	return q
}

// FilterFromConfig converts a project row filter into a predicate.
func FilterFromConfig(f FilterConfig) (Filter, bool) {
	if f.IsZero() {
		return Filter{}, false
	}
	return Filter{Column: f.Column, Op: ParseOp(f.Type), Value: f.Value}, true
}
