// This file implements the per-entity storage rules: id assignment, record
// insertion, shallow-merge updates, deletion and reverse index upkeep.
package db

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Table applies storage rules for one entity to a branch handed to it by a
// Writer. A Table holds no state of its own.
type Table struct {
	entity   *schema.Entity
	registry *schema.Registry
}

// NewTable returns the table for a resolved entity. The registry, which may
// be nil, is used to find the id attribute of relation targets.
func NewTable(e *schema.Entity, registry *schema.Registry) *Table {
	return &Table{entity: e, registry: registry}
}

// Name returns the entity name.
func (t *Table) Name() string { return t.entity.Name }

// Entity returns the resolved entity the table stores.
func (t *Table) Entity() *schema.Entity { return t.entity }

// IDAttribute returns the name of the id field.
func (t *Table) IDAttribute() string { return t.entity.IDAttribute }

// targetIDAttr returns the id attribute of the entity field points at, or ""
// when it cannot be resolved.
func (t *Table) targetIDAttr(field string) string {
	rel, ok := t.entity.Relation(field)
	if !ok || t.registry == nil {
		return ""
	}
	target, err := t.registry.Get(rel.To)
	if err != nil {
		return ""
	}
	return target.IDAttribute
}

// GetEmptyState returns a branch with no records and an empty index for
// every foreign-key and one-to-one field.
func (t *Table) GetEmptyState() *types.TableState {
	return types.NewTableState(t.entity.ArrName, t.entity.MapName, t.entity.IndexedFields()...)
}

// Insert stores props as a new record and returns the stored Ref.
// When the id attribute is absent it is assigned by the entity's id policy.
// Returns ErrMissingID under the manual policy, ErrInvalidID for an id or
// relation value that is not an int or string, and ErrDuplicateID if the id
// is taken. ts is not modified when an error is returned.
func (t *Table) Insert(ts *types.TableState, props types.Ref) (types.Ref, error) {
	idAttr := t.entity.IDAttribute
	record := props.Clone()
	if record == nil {
		record = types.Ref{}
	}

	id, err := t.assignID(ts, record[idAttr])
	if err != nil {
		return nil, err
	}
	if ts.Has(id) {
		return nil, fmt.Errorf("%w: %s %v", types.ErrDuplicateID, t.Name(), id)
	}
	if err := t.normalizeRelations(record); err != nil {
		return nil, err
	}
	record[idAttr] = id

	ts.Items = append(ts.Items, id)
	ts.ItemsByID[types.IDKey(id)] = record
	if n, ok := id.(int64); ok && (ts.Meta.MaxID == nil || n > *ts.Meta.MaxID) {
		ts.Meta.MaxID = &n
	}
	for _, field := range t.entity.IndexedFields() {
		if target := record[field]; target != nil {
			addToBucket(ts, field, target, id)
		}
	}
	return record, nil
}

func (t *Table) assignID(ts *types.TableState, raw any) (any, error) {
	if raw != nil {
		id, err := types.NormalizeID(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), t.entity.IDAttribute, err)
		}
		return id, nil
	}
	switch t.entity.IDPolicy {
	case schema.IDUUID:
		u, err := uuid.NewV7()
		if err != nil {
			return uuid.NewString(), nil
		}
		return u.String(), nil
	case schema.IDManual:
		return nil, fmt.Errorf("%w: %s.%s", types.ErrMissingID, t.Name(), t.entity.IDAttribute)
	}
	next := int64(0)
	if ts.Meta.MaxID != nil {
		next = *ts.Meta.MaxID + 1
	}
	return next, nil
}

// normalizeRelations rewrites every indexed relation value in record to its
// canonical id form.
func (t *Table) normalizeRelations(record types.Ref) error {
	for _, field := range t.entity.IndexedFields() {
		v, ok := record[field]
		if !ok || v == nil {
			continue
		}
		id, err := types.NormalizeID(v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", t.Name(), field, err)
		}
		record[field] = id
	}
	return nil
}

// ShouldUpdate reports whether merging merge into current would change any
// stored value.
func (t *Table) ShouldUpdate(current, merge types.Ref) bool {
	for k, v := range merge {
		old, ok := current[k]
		if !ok || !types.Equal(old, v) {
			return true
		}
	}
	return false
}

// Update shallow-merges merge into the record stored under id and returns
// the resulting Ref. If the merge changes nothing the stored Ref is returned
// and ts is left alone. Returns ErrNotFound for an unknown id and
// ErrIDImmutable if merge changes the id attribute.
func (t *Table) Update(ts *types.TableState, id any, merge types.Ref) (types.Ref, error) {
	id, err := types.NormalizeID(id)
	if err != nil {
		return nil, err
	}
	key := types.IDKey(id)
	current, ok := ts.ItemsByID[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", types.ErrNotFound, t.Name(), id)
	}

	idAttr := t.entity.IDAttribute
	merge = merge.Clone()
	if v, ok := merge[idAttr]; ok {
		n, err := types.NormalizeID(v)
		if err != nil || !types.Equal(n, current[idAttr]) {
			return nil, fmt.Errorf("%w: %s %v", types.ErrIDImmutable, t.Name(), id)
		}
		delete(merge, idAttr)
	}
	if err := t.normalizeRelations(merge); err != nil {
		return nil, err
	}
	if !t.ShouldUpdate(current, merge) {
		return current, nil
	}

	next := current.Clone()
	for k, v := range merge {
		next[k] = v
	}
	for _, field := range t.entity.IndexedFields() {
		if _, touched := merge[field]; !touched {
			continue
		}
		before, after := current[field], next[field]
		if types.Equal(before, after) {
			continue
		}
		if before != nil {
			removeFromBucket(ts, field, before, id)
		}
		if after != nil {
			addToBucket(ts, field, after, id)
		}
	}
	ts.ItemsByID[key] = next
	return next, nil
}

// Delete removes the record stored under id from the id list, the record map
// and every index bucket holding it. maxId is left as it is. Returns
// ErrNotFound for an unknown id.
func (t *Table) Delete(ts *types.TableState, id any) error {
	id, err := types.NormalizeID(id)
	if err != nil {
		return err
	}
	key := types.IDKey(id)
	current, ok := ts.ItemsByID[key]
	if !ok {
		return fmt.Errorf("%w: %s %v", types.ErrNotFound, t.Name(), id)
	}

	items := make([]any, 0, len(ts.Items))
	for _, existing := range ts.Items {
		if types.IDKey(existing) != key {
			items = append(items, existing)
		}
	}
	ts.Items = items
	delete(ts.ItemsByID, key)
	for _, field := range t.entity.IndexedFields() {
		if target := current[field]; target != nil {
			removeFromBucket(ts, field, target, id)
		}
	}
	return nil
}

// Bucket returns the ids of the records whose field holds target.
func (t *Table) Bucket(ts *types.TableState, field string, target any) []any {
	if ts == nil || ts.Indexes == nil {
		return nil
	}
	n, err := types.NormalizeID(target)
	if err != nil {
		return nil
	}
	return ts.Indexes[field][types.IDKey(n)]
}

// addToBucket and removeFromBucket always store a new slice so that a bucket
// shared with an earlier branch is never written through.
func addToBucket(ts *types.TableState, field string, target, id any) {
	if ts.Indexes == nil {
		ts.Indexes = map[string]map[string][]any{}
	}
	idx := ts.Indexes[field]
	if idx == nil {
		idx = map[string][]any{}
		ts.Indexes[field] = idx
	}
	key := types.IDKey(target)
	idx[key] = append(slices.Clip(idx[key]), id)
}

func removeFromBucket(ts *types.TableState, field string, target, id any) {
	idx := ts.Indexes[field]
	if idx == nil {
		return
	}
	key := types.IDKey(target)
	idKey := types.IDKey(id)
	kept := make([]any, 0, len(idx[key]))
	for _, existing := range idx[key] {
		if types.IDKey(existing) != idKey {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(idx, key)
		return
	}
	idx[key] = kept
}
