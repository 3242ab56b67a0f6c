package sqlstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"social-service/docstore"
)

var identifierPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Value kinds in docstore comparison order. They match the ordering used by
// docstore.Compare: null < bool < number < string < array < map.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankArray
	rankMap
)

// expr is a SQL fragment and the arguments of its placeholders, in order.
type expr struct {
	sql  string
	args []any
}

// sqlf substitutes each %s of format with the next fragment. format itself
// must not contain placeholders.
func sqlf(format string, parts ...expr) expr {
	strs := make([]any, len(parts))
	var args []any
	for i, p := range parts {
		strs[i] = p.sql
		args = append(args, p.args...)
	}
	return expr{sql: fmt.Sprintf(format, strs...), args: args}
}

func bind(v any) expr {
	return expr{sql: "?", args: []any{v}}
}

func joinExprs(sep string, parts []expr) expr {
	out := expr{}
	for i, p := range parts {
		if i > 0 {
			out.sql += sep
		}
		out.sql += p.sql
		out.args = append(out.args, p.args...)
	}
	return out
}

// dialect renders JSON document access for one database.
type dialect interface {
	// path addresses a field of the data column.
	path(parts []string) expr
	// rank is the kind of the value at path, NULL when the field is absent.
	rank(path expr) expr
	// key is the value at path as a native SQL scalar when it has the given
	// scalar rank, NULL otherwise.
	key(path expr, rank int) expr
	// bindKey binds a canonical scalar for comparison with key.
	bindKey(v any) expr
	// contains tests that the value at path is an array holding scalar v.
	contains(path expr, v any) expr
	// id is the document id with bytewise ordering.
	id() expr
}

type postgresDialect struct{}

func (postgresDialect) path(parts []string) expr {
	return expr{sql: "?::text[]", args: []any{pq.Array(parts)}}
}

func (postgresDialect) rank(p expr) expr {
	return sqlf(`CASE jsonb_typeof(data #> %s) WHEN 'null' THEN 0 WHEN 'boolean' THEN 1 WHEN 'number' THEN 2 `+
		`WHEN 'string' THEN 3 WHEN 'array' THEN 4 WHEN 'object' THEN 5 END`, p)
}

func (postgresDialect) key(p expr, rank int) expr {
	switch rank {
	case rankBool:
		return sqlf(`(CASE WHEN jsonb_typeof(data #> %s) = 'boolean' THEN (data #>> %s)::boolean END)`, p, p)
	case rankNumber:
		return sqlf(`(CASE WHEN jsonb_typeof(data #> %s) = 'number' THEN (data #>> %s)::numeric END)`, p, p)
	}
	return sqlf(`(CASE WHEN jsonb_typeof(data #> %s) = 'string' THEN data #>> %s END) COLLATE "C"`, p, p)
}

func (postgresDialect) bindKey(v any) expr {
	switch v.(type) {
	case bool:
		return expr{sql: "?::boolean", args: []any{v}}
	case int64, float64:
		return expr{sql: "?::numeric", args: []any{v}}
	}
	return expr{sql: "?::text", args: []any{v}}
}

func (postgresDialect) contains(p expr, v any) expr {
	raw, _ := json.Marshal([]any{v})
	return sqlf(`(jsonb_typeof(data #> %s) = 'array' AND data #> %s @> %s)`, p, p,
		expr{sql: "?::jsonb", args: []any{string(raw)}})
}

func (postgresDialect) id() expr {
	return expr{sql: `id COLLATE "C"`}
}

type sqliteDialect struct{}

func (sqliteDialect) path(parts []string) expr {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return bind("$." + strings.Join(quoted, "."))
}

func (sqliteDialect) rank(p expr) expr {
	return sqlf(`CASE json_type(data, %s) WHEN 'null' THEN 0 WHEN 'true' THEN 1 WHEN 'false' THEN 1 `+
		`WHEN 'integer' THEN 2 WHEN 'real' THEN 2 WHEN 'text' THEN 3 WHEN 'array' THEN 4 WHEN 'object' THEN 5 END`, p)
}

func (sqliteDialect) key(p expr, rank int) expr {
	types := sqliteTypes(rank)
	return sqlf(`(CASE WHEN json_type(data, %s) IN (`+types+`) THEN json_extract(data, %s) END)`, p, p)
}

func (sqliteDialect) bindKey(v any) expr {
	if b, ok := v.(bool); ok {
		if b {
			return bind(int64(1))
		}
		return bind(int64(0))
	}
	return bind(v)
}

func (d sqliteDialect) contains(p expr, v any) expr {
	if b, ok := v.(bool); ok {
		return sqlf(`(json_type(data, %s) = 'array' AND EXISTS (SELECT 1 FROM json_each(data, %s) AS e WHERE e.type = %s))`,
			p, p, bind(strconv.FormatBool(b)))
	}
	types := sqliteTypes(rankOf(v))
	return sqlf(`(json_type(data, %s) = 'array' AND EXISTS (SELECT 1 FROM json_each(data, %s) AS e `+
		`WHERE e.type IN (`+types+`) AND e.value = %s))`, p, p, d.bindKey(v))
}

func (sqliteDialect) id() expr {
	return expr{sql: "id"}
}

func sqliteTypes(rank int) string {
	switch rank {
	case rankBool:
		return `'true', 'false'`
	case rankNumber:
		return `'integer', 'real'`
	}
	return `'text'`
}

func rankOf(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int64, float64:
		return rankNumber
	case string:
		return rankString
	case []any:
		return rankArray
	}
	return rankMap
}

func scalar(rank int) bool {
	return rank == rankBool || rank == rankNumber || rank == rankString
}

// plan is the SQL rendering of a validated query. exact is false when some
// filter or the cursor could not be expressed; the rendered SQL then selects
// a superset and carries no LIMIT.
type plan struct {
	query expr
	exact bool
}

type planner struct {
	d dialect
}

func (p planner) build(q docstore.Query) plan {
	exact := true
	where := []expr{{sql: "collection = ?", args: []any{q.Collection}}}

	for _, f := range q.Filters {
		e, ok := p.filter(f)
		if !ok {
			exact = false
			continue
		}
		where = append(where, e)
	}
	for _, o := range q.Orders {
		where = append(where, sqlf("%s IS NOT NULL", p.d.rank(p.field(o.Path))))
	}
	if q.After != nil {
		if e, ok := p.after(q); ok {
			where = append(where, e)
		} else {
			exact = false
		}
	}

	var order []expr
	for _, o := range q.Orders {
		dir := direction(o.Direction)
		path := p.field(o.Path)
		order = append(order,
			sqlf("%s"+dir, p.d.rank(path)),
			sqlf("%s"+dir, p.d.key(path, rankBool)),
			sqlf("%s"+dir, p.d.key(path, rankNumber)),
			sqlf("%s"+dir, p.d.key(path, rankString)),
		)
	}
	order = append(order, sqlf("%s"+direction(tieDirection(q)), p.d.id()))

	query := sqlf("SELECT id, data FROM documents WHERE %s ORDER BY %s",
		joinExprs(" AND ", where), joinExprs(", ", order))
	if exact && q.Limit > 0 {
		query.sql += " LIMIT " + strconv.Itoa(q.Limit)
	}
	return plan{query: query, exact: exact}
}

func (p planner) field(path string) expr {
	return p.d.path(strings.Split(path, "."))
}

// filter renders f with the matching rules of docstore.Apply. Values that
// are arrays or maps are left to Apply.
func (p planner) filter(f docstore.Filter) (expr, bool) {
	path := p.field(f.Path)
	rank := rankOf(f.Value)

	switch f.Op {
	case docstore.OpArrayContains:
		if !scalar(rank) {
			return expr{}, false
		}
		return p.d.contains(path, f.Value), true
	case docstore.OpEqual:
		if rank == rankNull {
			return sqlf("%s = 0", p.d.rank(path)), true
		}
		if !scalar(rank) {
			return expr{}, false
		}
		return p.equal(path, rank, f.Value), true
	case docstore.OpNotEqual:
		if rank == rankNull {
			return sqlf("%s <> 0", p.d.rank(path)), true
		}
		if !scalar(rank) {
			return expr{}, false
		}
		return sqlf("(%s <> 0 AND NOT %s)", p.d.rank(path), p.equal(path, rank, f.Value)), true
	}

	if rank == rankNull {
		if f.Op == docstore.OpLessEqual || f.Op == docstore.OpGreaterEqual {
			return sqlf("%s = 0", p.d.rank(path)), true
		}
		return expr{sql: "1 = 0"}, true
	}
	if !scalar(rank) {
		return expr{}, false
	}
	return sqlf("(%s = "+strconv.Itoa(rank)+" AND %s "+string(f.Op)+" %s)",
		p.d.rank(path), p.d.key(path, rank), p.d.bindKey(f.Value)), true
}

func (p planner) equal(path expr, rank int, v any) expr {
	return sqlf("(%s = "+strconv.Itoa(rank)+" AND %s = %s)", p.d.rank(path), p.d.key(path, rank), p.d.bindKey(v))
}

// after selects documents strictly past the cursor in query order.
func (p planner) after(q docstore.Query) (expr, bool) {
	var (
		alternatives []expr
		equalSoFar   []expr
	)
	for i, o := range q.Orders {
		v := q.After.Values[i]
		rank := rankOf(v)
		if rank != rankNull && !scalar(rank) {
			return expr{}, false
		}
		path := p.field(o.Path)
		cmp := ">"
		if o.Direction == docstore.Desc {
			cmp = "<"
		}

		beyond := sqlf("%s "+cmp+" "+strconv.Itoa(rank), p.d.rank(path))
		same := sqlf("%s = "+strconv.Itoa(rank), p.d.rank(path))
		if rank != rankNull {
			beyond = sqlf("(%s OR (%s AND %s "+cmp+" %s))", beyond, same, p.d.key(path, rank), p.d.bindKey(v))
			same = sqlf("(%s AND %s = %s)", same, p.d.key(path, rank), p.d.bindKey(v))
		}

		alternatives = append(alternatives, joinExprs(" AND ", append(append([]expr(nil), equalSoFar...), beyond)))
		equalSoFar = append(equalSoFar, same)
	}

	cmp := ">"
	if tieDirection(q) == docstore.Desc {
		cmp = "<"
	}
	idAfter := sqlf("%s "+cmp+" %s", p.d.id(), bind(q.After.ID))
	alternatives = append(alternatives, joinExprs(" AND ", append(equalSoFar, idAfter)))
	return sqlf("(%s)", joinExprs(" OR ", alternatives)), true
}

// pushable reports whether every path of q can be rendered. Path segments
// must be plain identifiers: quoting rules differ between databases and
// Postgres would read numeric segments as array indexes.
func pushable(q docstore.Query) bool {
	for _, f := range q.Filters {
		if !identifierPath.MatchString(f.Path) {
			return false
		}
	}
	for _, o := range q.Orders {
		if !identifierPath.MatchString(o.Path) {
			return false
		}
	}
	return true
}

func tieDirection(q docstore.Query) docstore.Direction {
	if len(q.Orders) == 0 {
		return docstore.Asc
	}
	return q.Orders[len(q.Orders)-1].Direction
}

func direction(d docstore.Direction) string {
	if d == docstore.Desc {
		return " DESC"
	}
	return " ASC"
}

// orderedScalars reports whether every document holds a scalar or null at
// each ordered path. SQL ordering only agrees with docstore.Compare for
// those values.
func orderedScalars(q docstore.Query, docs []docstore.Document) bool {
	for _, d := range docs {
		for _, o := range q.Orders {
			v, _ := docstore.Lookup(d.Data, o.Path)
			if r := rankOf(v); r == rankArray || r == rankMap {
				return false
			}
		}
	}
	return true
}
