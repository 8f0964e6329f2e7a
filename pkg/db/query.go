// This file implements clause evaluation: filter and exclude by lookup or
// predicate, and stable multi-key ordering.
package db

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Query returns the records of ts that satisfy clauses, applied in order.
// Rows start in insertion order; ORDER_BY clauses sort stably, so ties keep
// the order the previous clauses produced. A nil branch has no records.
func (t *Table) Query(ts *types.TableState, clauses []types.Clause) ([]types.Ref, error) {
	rows := t.candidates(ts, clauses)
	for i, c := range clauses {
		var err error
		switch c.Type {
		case types.Filter:
			rows, err = t.selectRows(rows, c.Payload, true)
		case types.Exclude:
			rows, err = t.selectRows(rows, c.Payload, false)
		case types.OrderBy:
			rows, err = t.orderRows(rows, c.Payload)
		default:
			err = fmt.Errorf("%w: %q", types.ErrUnknownClause, c.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("clause %d on %s: %w", i, t.Name(), err)
		}
	}
	return rows, nil
}

// candidates returns the starting row set. A leading filter on the id
// attribute alone is answered from the record map.
func (t *Table) candidates(ts *types.TableState, clauses []types.Clause) []types.Ref {
	if ts == nil {
		return []types.Ref{}
	}
	if len(clauses) > 0 && clauses[0].Type == types.Filter {
		if lookup, ok := asLookup(clauses[0].Payload); ok && len(lookup) == 1 {
			if raw, ok := lookup[t.IDAttribute()]; ok {
				if id, err := ReduceRef(raw, t.IDAttribute()); err == nil && id != nil {
					if ref := ts.Get(id); ref != nil {
						return []types.Ref{ref}
					}
					return []types.Ref{}
				}
			}
		}
	}
	rows := make([]types.Ref, 0, len(ts.Items))
	for _, id := range ts.Items {
		if ref := ts.ItemsByID[types.IDKey(id)]; ref != nil {
			rows = append(rows, ref)
		}
	}
	return rows
}

func asLookup(payload any) (map[string]any, bool) {
	switch p := payload.(type) {
	case types.Lookup:
		return p, true
	case types.Ref:
		return p, true
	case map[string]any:
		return p, true
	}
	return nil, false
}

func (t *Table) selectRows(rows []types.Ref, payload any, keep bool) ([]types.Ref, error) {
	var match func(types.Ref) bool
	switch p := payload.(type) {
	case types.Predicate:
		match = p
	case func(types.Ref) bool:
		match = p
	default:
		lookup, ok := asLookup(payload)
		if !ok {
			return nil, fmt.Errorf("%w: payload %T", types.ErrInvalidFilter, payload)
		}
		compiled, err := t.compileLookup(lookup)
		if err != nil {
			return nil, err
		}
		match = compiled
	}
	if match == nil {
		return nil, fmt.Errorf("%w: nil predicate", types.ErrInvalidFilter)
	}

	out := make([]types.Ref, 0, len(rows))
	for _, r := range rows {
		if match(r) == keep {
			out = append(out, r)
		}
	}
	return out, nil
}

// compileLookup reduces relation values to ids and maps "as" names to their
// stored field.
func (t *Table) compileLookup(lookup map[string]any) (func(types.Ref) bool, error) {
	want := make(map[string]any, len(lookup))
	for k, v := range lookup {
		field := k
		if f, ok := t.entity.AsField(k); ok {
			field = f
		}
		if f, ok := t.entity.Field(field); ok && f.Kind() == schema.KindMany {
			return nil, fmt.Errorf("%w: %s is a many-to-many field", types.ErrInvalidFilter, k)
		}
		if field == t.IDAttribute() || t.entity.IsRelation(field) {
			idAttr := t.IDAttribute()
			if field != idAttr {
				idAttr = t.targetIDAttr(field)
			}
			id, err := ReduceRef(v, idAttr)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidFilter, k, err)
			}
			v = id
		}
		want[field] = v
	}
	return func(r types.Ref) bool {
		for k, v := range want {
			if !types.Equal(r[k], v) {
				return false
			}
		}
		return true
	}, nil
}

type sortKey struct {
	extract func(types.Ref) any
	asc     bool
}

func (t *Table) orderRows(rows []types.Ref, payload any) ([]types.Ref, error) {
	ordering, ok := payload.(types.Ordering)
	if !ok {
		if p, isPtr := payload.(*types.Ordering); isPtr && p != nil {
			ordering, ok = *p, true
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: payload %T", types.ErrInvalidOrder, payload)
	}

	keys := make([]sortKey, len(ordering.Iteratees))
	for i, it := range ordering.Iteratees {
		var order any
		if i < len(ordering.Orders) {
			order = ordering.Orders[i]
		}
		asc, err := types.ParseOrder(order)
		if err != nil {
			return nil, err
		}
		switch fn := it.(type) {
		case string:
			field := fn
			if f, ok := t.entity.AsField(fn); ok {
				field = f
			}
			keys[i] = sortKey{extract: func(r types.Ref) any { return r[field] }, asc: asc}
		case func(types.Ref) any:
			keys[i] = sortKey{extract: fn, asc: asc}
		default:
			return nil, fmt.Errorf("%w: iteratee %T", types.ErrInvalidOrder, it)
		}
	}

	out := make([]types.Ref, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			c := types.Compare(k.extract(out[i]), k.extract(out[j]))
			if c == 0 {
				continue
			}
			if k.asc {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return out, nil
}
