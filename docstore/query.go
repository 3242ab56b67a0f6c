package docstore

import (
	"fmt"
	"sort"
)

// Op is a filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpArrayContains Op = "array-contains"
)

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

type Filter struct {
	Path  string
	Op    Op
	Value any
}

type Order struct {
	Path      string
	Direction Direction
}

// Cursor positions a query after a document: Values holds the document's
// values for each order path and ID breaks ties.
type Cursor struct {
	Values []any
	ID     string
}

// Query selects documents of one collection. Documents without a value for
// an ordered path are excluded. Results with equal order values are ordered
// by document id in the direction of the last order.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	After      *Cursor
	Limit      int
}

// From starts a query over collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(path string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Path: path, Op: op, Value: value})
	return q
}

func (q Query) OrderBy(path string, dir Direction) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Path: path, Direction: dir})
	return q
}

func (q Query) StartAfter(id string, values ...any) Query {
	q.After = &Cursor{Values: values, ID: id}
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Validate checks the query shape and normalizes filter values.
func (q Query) Validate() (Query, error) {
	if q.Collection == "" {
		return q, fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return q, fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		if !validPath(f.Path) {
			return q, fmt.Errorf("%w: bad filter path %q", ErrInvalidQuery, f.Path)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpArrayContains:
		default:
			return q, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
		v, err := Normalize(f.Value)
		if err != nil {
			return q, fmt.Errorf("%w: filter %s: %v", ErrInvalidQuery, f.Path, err)
		}
		filters[i] = Filter{Path: f.Path, Op: f.Op, Value: v}
	}
	q.Filters = filters
	for _, o := range q.Orders {
		if !validPath(o.Path) {
			return q, fmt.Errorf("%w: bad order path %q", ErrInvalidQuery, o.Path)
		}
	}
	if q.After != nil {
		if len(q.After.Values) != len(q.Orders) {
			return q, fmt.Errorf("%w: cursor has %d values for %d orders", ErrInvalidQuery, len(q.After.Values), len(q.Orders))
		}
		values := make([]any, len(q.After.Values))
		for i, v := range q.After.Values {
			n, err := Normalize(v)
			if err != nil {
				return q, fmt.Errorf("%w: cursor: %v", ErrInvalidQuery, err)
			}
			values[i] = n
		}
		q.After = &Cursor{Values: values, ID: q.After.ID}
	}
	return q, nil
}

// Apply evaluates q against all documents of its collection. Backends that
// cannot push a query down use it so that every backend agrees on results.
func Apply(q Query, docs []Document) ([]Document, error) {
	q, err := q.Validate()
	if err != nil {
		return nil, err
	}

	matched := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.matches(d) {
			matched = append(matched, d)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return q.compareDocs(matched[i], matched[j]) < 0
	})

	if q.After != nil {
		start := len(matched)
		for i, d := range matched {
			if q.compareToCursor(d) > 0 {
				start = i
				break
			}
		}
		matched = matched[start:]
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (q Query) matches(d Document) bool {
	for _, f := range q.Filters {
		v, ok := Lookup(d.Data, f.Path)
		if !ok || !matchFilter(v, f) {
			return false
		}
	}
	for _, o := range q.Orders {
		if _, ok := Lookup(d.Data, o.Path); !ok {
			return false
		}
	}
	return true
}

func matchFilter(v any, f Filter) bool {
	switch f.Op {
	case OpEqual:
		return Equal(v, f.Value)
	case OpNotEqual:
		return v != nil && !Equal(v, f.Value)
	case OpArrayContains:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range arr {
			if Equal(e, f.Value) {
				return true
			}
		}
		return false
	}
	if typeRank(v) != typeRank(f.Value) {
		return false
	}
	c := Compare(v, f.Value)
	switch f.Op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

func (q Query) tieDirection() Direction {
	if len(q.Orders) == 0 {
		return Asc
	}
	return q.Orders[len(q.Orders)-1].Direction
}

func (q Query) compareDocs(a, b Document) int {
	for _, o := range q.Orders {
		va, _ := Lookup(a.Data, o.Path)
		vb, _ := Lookup(b.Data, o.Path)
		if c := directed(Compare(va, vb), o.Direction); c != 0 {
			return c
		}
	}
	return directed(compareIDs(a.ID, b.ID), q.tieDirection())
}

func (q Query) compareToCursor(d Document) int {
	for i, o := range q.Orders {
		v, _ := Lookup(d.Data, o.Path)
		if c := directed(Compare(v, q.After.Values[i]), o.Direction); c != 0 {
			return c
		}
	}
	return directed(compareIDs(d.ID, q.After.ID), q.tieDirection())
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func directed(c int, dir Direction) int {
	if dir == Desc {
		return -c
	}
	return c
}
