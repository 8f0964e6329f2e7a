package types

import (
	"fmt"
	"sort"
	"strings"
)

// Lookup is a partial-field match: every key must equal the record's value.
// A relation field may be matched by raw id or by an Identifier.
type Lookup map[string]any

// Predicate selects records by inspecting their Ref.
type Predicate func(Ref) bool

// SortIteratee is either a field name (string) or a func(Ref) any key
// extractor.
type SortIteratee = any

// Ordering is the payload of an ORDER_BY clause. Orders pairs with Iteratees
// by position; each entry is "asc", "desc", true (ascending) or false
// (descending). Missing entries default to ascending.
type Ordering struct {
	Iteratees []SortIteratee
	Orders    []any
}

// Clause is one step of a query.
type Clause struct {
	Type    string
	Payload any
}

// Query names a table and the clauses to apply to it in order.
type Query struct {
	Table   string
	Clauses []Clause
}

// QuerySpec wraps a Query for the database.
type QuerySpec struct {
	Query Query
}

// QueryResult holds the rows a query produced, in result order.
type QueryResult struct {
	Rows []Ref
}

// String renders the query for logs and error messages.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Table)
	for _, c := range q.Clauses {
		b.WriteString(".")
		b.WriteString(clauseName(c.Type))
		b.WriteString("(")
		b.WriteString(describePayload(c.Payload))
		b.WriteString(")")
	}
	return b.String()
}

func clauseName(t string) string {
	switch t {
	case Filter:
		return "filter"
	case Exclude:
		return "exclude"
	case OrderBy:
		return "orderBy"
	}
	return t
}

func describePayload(p any) string {
	switch v := p.(type) {
	case Lookup:
		return describeLookup(v)
	case map[string]any:
		return describeLookup(v)
	case Ref:
		return describeLookup(v)
	case Predicate, func(Ref) bool:
		return "<func>"
	case Ordering:
		parts := make([]string, len(v.Iteratees))
		for i, it := range v.Iteratees {
			name := "<func>"
			if s, ok := it.(string); ok {
				name = s
			}
			dir := "asc"
			if i < len(v.Orders) && !IsAscending(v.Orders[i]) {
				dir = "desc"
			}
			parts[i] = name + " " + dir
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(p)
}

func describeLookup(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := m[k]
		if id, ok := v.(Identifier); ok {
			v = id.GetID()
		}
		parts[i] = fmt.Sprintf("%s: %v", k, v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// IsAscending interprets one Ordering.Orders entry. Unrecognized values are
// treated as ascending; ParseOrder reports them as errors.
func IsAscending(order any) bool {
	asc, err := ParseOrder(order)
	return err != nil || asc
}

// ParseOrder interprets one Ordering.Orders entry.
func ParseOrder(order any) (bool, error) {
	switch o := order.(type) {
	case nil:
		return true, nil
	case bool:
		return o, nil
	case string:
		switch strings.ToLower(o) {
		case Asc, "":
			return true, nil
		case Desc:
			return false, nil
		}
	}
	return true, fmt.Errorf("%w: %v", ErrInvalidOrder, order)
}
