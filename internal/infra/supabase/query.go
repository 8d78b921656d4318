package supabase

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// selectEscaper restores the characters PostgREST reads literally in the
// select list.
var selectEscaper = strings.NewReplacer("%2C", ",", "%28", "(", "%29", ")", "%21", "!", "%2A", "*")

// BuildPath renders a structured query as a PostgREST resource path,
// e.g. "executions?select=*&tenant_id=eq.t1&order=timestamp.desc&limit=500".
// Filter values are always fully escaped.
func BuildPath(q *domain.Query) string {
	v := url.Values{}
	for _, f := range q.Filters {
		v.Add(f.Column, string(f.Op)+"."+formatValue(f.Op, f.Value))
	}
	if q.Order != nil {
		dir := "asc"
		if q.Order.Desc {
			dir = "desc"
		}
		v.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	path := q.Table + "?select=" + selectEscaper.Replace(url.QueryEscape(selectList(q)))
	if enc := v.Encode(); enc != "" {
		path += "&" + enc
	}
	return path
}

func selectList(q *domain.Query) string {
	sel := "*"
	if len(q.Columns) > 0 {
		sel = strings.Join(q.Columns, ",")
	}
	if j := q.Join; j != nil {
		cols := "*"
		if len(j.Columns) > 0 {
			cols = strings.Join(j.Columns, ",")
		}
		embed := j.Table
		if j.Inner {
			embed += "!inner"
		}
		sel += fmt.Sprintf(",%s(%s)", embed, cols)
	}
	return sel
}

func formatValue(op domain.Op, v any) string {
	if v == nil {
		return "null"
	}
	switch t := v.(type) {
	case string:
		if op == domain.OpLike || op == domain.OpILike {
			return strings.ReplaceAll(t, "%", "*")
		}
		return t
	case *string:
		if t == nil {
			return "null"
		}
		return *t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
