package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

const (
	baseAlias = "base"
	joinAlias = "j"
)

var opSQL = map[domain.Op]string{
	domain.OpEq:    "=",
	domain.OpNeq:   "<>",
	domain.OpGt:    ">",
	domain.OpGte:   ">=",
	domain.OpLt:    "<",
	domain.OpLte:   "<=",
	domain.OpLike:  "LIKE",
	domain.OpILike: "ILIKE",
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// args accumulates positional parameters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// BuildSelect renders a structured query as one SQL statement returning a
// single JSON array, the same shape PostgREST returns.
func BuildSelect(q *domain.Query) (string, []any, error) {
	if q.Table == "" {
		return "", nil, &domain.ErrValidation{Field: "table", Message: "required"}
	}
	var a args
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		sb.WriteString(baseAlias + ".*")
	} else {
		cols := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			cols[i] = ident(baseAlias, c)
		}
		sb.WriteString(strings.Join(cols, ", "))
	}

	j := q.Join
	if j != nil {
		sb.WriteString(", json_build_object(")
		for i, c := range j.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.add(c) + "::text, " + ident(joinAlias, c))
		}
		sb.WriteString(") AS " + ident(j.Table))
	}

	sb.WriteString(" FROM " + ident(q.Table) + " AS " + baseAlias)
	if j != nil {
		kind := "LEFT JOIN"
		if j.Inner {
			kind = "INNER JOIN"
		}
		local, foreign := joinColumns(j)
		fmt.Fprintf(&sb, " %s %s AS %s ON %s = %s", kind, ident(j.Table), joinAlias,
			ident(joinAlias, foreign), ident(baseAlias, local))
	}

	where, err := buildWhere(q, &a)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(where)

	if q.Order != nil {
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", columnRef(q, q.Order.Column), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	return "SELECT coalesce(json_agg(t), '[]'::json) FROM (" + sb.String() + ") t", a, nil
}

func joinColumns(j *domain.Join) (local, foreign string) {
	local, foreign = j.LocalColumn, j.ForeignColumn
	if foreign == "" {
		foreign = "id"
	}
	if local == "" {
		local = j.Table + "_id"
	}
	return local, foreign
}

// columnRef qualifies a column with the base alias, or with the join alias
// when written as "<join table>.<column>".
func columnRef(q *domain.Query, col string) string {
	if q.Join != nil {
		if rest, ok := strings.CutPrefix(col, q.Join.Table+"."); ok {
			return ident(joinAlias, rest)
		}
	}
	return ident(baseAlias, col)
}

func buildWhere(q *domain.Query, a *args) (string, error) {
	if len(q.Filters) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		c, err := condition(columnRef(q, f.Column), f, a)
		if err != nil {
			return "", err
		}
		conds = append(conds, c)
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func condition(col string, f domain.Filter, a *args) (string, error) {
	if f.Op == domain.OpIs {
		switch v := f.Value.(type) {
		case nil:
			return col + " IS NULL", nil
		case bool:
			if v {
				return col + " IS TRUE", nil
			}
			return col + " IS FALSE", nil
		case string:
			switch strings.ToLower(v) {
			case "null":
				return col + " IS NULL", nil
			case "true":
				return col + " IS TRUE", nil
			case "false":
				return col + " IS FALSE", nil
			}
		}
		return "", &domain.ErrValidation{Field: f.Column, Message: "'is' expects null, true or false"}
	}
	sqlOp, ok := opSQL[f.Op]
	if !ok {
		return "", &domain.ErrValidation{Field: f.Column, Message: fmt.Sprintf("unsupported operator %q", f.Op)}
	}
	if f.Value == nil {
		if f.Op == domain.OpNeq {
			return col + " IS NOT NULL", nil
		}
		return col + " IS NULL", nil
	}
	// compare as text so string filter values match uuid and numeric columns
	if s, isString := f.Value.(string); isString {
		return fmt.Sprintf("%s::text %s %s", col, sqlOp, a.add(s)), nil
	}
	return fmt.Sprintf("%s %s %s", col, sqlOp, a.add(f.Value)), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildInsert renders an INSERT returning the created row as a JSON array.
func BuildInsert(table string, row map[string]any) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, &domain.ErrValidation{Field: "row", Message: "no columns"}
	}
	var a args
	cols := sortedKeys(row)
	names := make([]string, len(cols))
	vals := make([]string, len(cols))
	for i, c := range cols {
		names[i] = ident(c)
		vals[i] = a.add(row[c])
	}
	sql := fmt.Sprintf(
		"WITH ins AS (INSERT INTO %s (%s) VALUES (%s) RETURNING *) SELECT coalesce(json_agg(ins), '[]'::json) FROM ins",
		ident(table), strings.Join(names, ", "), strings.Join(vals, ", "),
	)
	return sql, a, nil
}

// BuildUpdate renders a filtered UPDATE. Unfiltered updates are rejected.
func BuildUpdate(table string, filters []domain.Filter, patch map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, &domain.ErrValidation{Field: "filters", Message: "refusing unfiltered update"}
	}
	if len(patch) == 0 {
		return "", nil, &domain.ErrValidation{Field: "patch", Message: "no columns"}
	}
	var a args
	sets := make([]string, 0, len(patch))
	for _, c := range sortedKeys(patch) {
		sets = append(sets, fmt.Sprintf("%s = %s", ident(c), a.add(patch[c])))
	}
	q := &domain.Query{Table: table, Filters: filters}
	where, err := buildWhere(q, &a)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s AS %s SET %s%s", ident(table), baseAlias, strings.Join(sets, ", "), where)
	return sql, a, nil
}

// BuildRPC renders a call of fn with named arguments. Set-returning and
// scalar functions both come back as a JSON array.
func BuildRPC(fn string, params map[string]any) (string, []any) {
	var a args
	named := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		named = append(named, fmt.Sprintf("%s => %s", ident(k), a.add(params[k])))
	}
	sql := fmt.Sprintf("SELECT coalesce(json_agg(r), '[]'::json) FROM %s(%s) AS r",
		ident(fn), strings.Join(named, ", "))
	return sql, a
}
