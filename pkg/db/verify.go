package db

import (
	"fmt"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Verify checks the storage invariants of one branch and returns every
// violation found: duplicate ids in the id list, ids missing from or extra
// in the record map, records whose id field disagrees with their key, index
// buckets out of step with the records, and a maxId below a stored id.
func (t *Table) Verify(ts *types.TableState) []error {
	if ts == nil {
		return nil
	}
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: "+format, append([]any{t.Name()}, args...)...))
	}

	seen := make(map[string]bool, len(ts.Items))
	for _, id := range ts.Items {
		key := types.IDKey(id)
		if seen[key] {
			report("id %v listed twice", id)
		}
		seen[key] = true
		ref, ok := ts.ItemsByID[key]
		if !ok {
			report("id %v has no record", id)
			continue
		}
		if !types.Equal(ref[t.IDAttribute()], id) {
			report("record %v stores id %v", id, ref[t.IDAttribute()])
		}
		if n, ok := id.(int64); ok && (ts.Meta.MaxID == nil || n > *ts.Meta.MaxID) {
			report("id %v exceeds maxId", id)
		}
	}
	for key := range ts.ItemsByID {
		if !seen[key] {
			report("record %s is not in the id list", key)
		}
	}

	for _, field := range t.entity.IndexedFields() {
		idx := ts.Indexes[field]
		for _, id := range ts.Items {
			ref := ts.Get(id)
			if ref == nil || ref[field] == nil {
				continue
			}
			if !containsID(idx[types.IDKey(ref[field])], id) {
				report("index %s misses %v -> %v", field, ref[field], id)
			}
		}
		for target, ids := range idx {
			for _, id := range ids {
				ref := ts.Get(id)
				if ref == nil {
					report("index %s[%s] holds deleted id %v", field, target, id)
					continue
				}
				if ref[field] == nil || types.IDKey(ref[field]) != target {
					report("index %s[%s] holds %v whose value is %v", field, target, id, ref[field])
				}
			}
		}
	}
	return errs
}

func containsID(ids []any, id any) bool {
	key := types.IDKey(id)
	for _, existing := range ids {
		if types.IDKey(existing) == key {
			return true
		}
	}
	return false
}

// Verify checks every registered branch of state. See Table.Verify.
func (d *Database) Verify(state types.State) []error {
	var errs []error
	for _, e := range d.registry.Entities() {
		errs = append(errs, NewTable(e, d.registry).Verify(state[e.Name])...)
	}
	return errs
}
