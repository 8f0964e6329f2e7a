// This file implements the Database: query dispatch and the CREATE, UPDATE
// and DELETE actions with their relational side effects.
package db

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Database evaluates query and update specs against state trees built from
// the entities of one registry. It holds no state tree itself.
type Database struct {
	registry *schema.Registry
}

// NewDatabase returns a database over registry. Entities registered later
// are picked up on use.
func NewDatabase(registry *schema.Registry) *Database {
	return &Database{registry: registry}
}

// Registry returns the registry the database resolves entities against.
func (d *Database) Registry() *schema.Registry { return d.registry }

// Describe returns the table for the named entity. Returns ErrTableNotFound
// if the entity is not registered.
func (d *Database) Describe(name string) (*Table, error) {
	e, err := d.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return NewTable(e, d.registry), nil
}

// GetEmptyState returns a state tree with an empty branch for every
// registered entity, implicit through entities included.
func (d *Database) GetEmptyState() types.State {
	state := types.State{}
	for _, e := range d.registry.Entities() {
		state[e.Name] = NewTable(e, d.registry).GetEmptyState()
	}
	return state
}

// Query evaluates spec against state. A table missing from state is treated
// as empty.
func (d *Database) Query(state types.State, spec types.QuerySpec) (types.QueryResult, error) {
	table, err := d.Describe(spec.Query.Table)
	if err != nil {
		return types.QueryResult{}, err
	}
	rows, err := table.Query(state[table.Name()], spec.Query.Clauses)
	if err != nil {
		return types.QueryResult{}, err
	}
	return types.QueryResult{Rows: rows}, nil
}

// Update applies spec to state through tx's writer. A nil tx copies on every
// write.
//
// A failing row stops the action. State in the result then holds every row
// committed before the failure, which for CREATE is the input state, and
// Payload holds a *types.RowError naming the row. Errors that stop the
// action before any row is touched, such as an unknown table, are returned
// as the payload directly.
func (d *Database) Update(state types.State, spec types.UpdateSpec, tx *Transaction) types.UpdateResult {
	if tx == nil {
		tx = NewTransaction("", false)
	}
	if state == nil {
		state = types.State{}
	}

	var (
		next    types.State
		payload any
		err     error
	)
	switch spec.Action {
	case types.Create:
		next, payload, err = d.create(state, spec, tx)
	case types.Update:
		next, payload, err = d.update(state, spec, tx)
	case types.Delete:
		next, payload, err = d.delete(state, spec, tx)
	default:
		next, err = state, fmt.Errorf("%w: %q", types.ErrUnknownAction, spec.Action)
	}

	if err != nil {
		slog.Debug("update failed", "action", spec.Action, "table", specTable(spec), "error", err)
		return types.UpdateResult{Status: types.Failure, State: next, Payload: err}
	}
	slog.Debug("update applied", "action", spec.Action, "table", specTable(spec), "batch", tx.BatchToken())
	return types.UpdateResult{Status: types.Success, State: next, Payload: payload}
}

func specTable(spec types.UpdateSpec) string {
	if spec.Query != nil {
		return spec.Query.Table
	}
	return spec.Table
}

func payloadRef(payload any) (types.Ref, error) {
	switch p := payload.(type) {
	case types.Ref:
		return p, nil
	case map[string]any:
		return types.Ref(p), nil
	case nil:
		return types.Ref{}, nil
	}
	return nil, fmt.Errorf("%w: %T", types.ErrInvalidPayload, payload)
}

// prepareRecord splits props into the stored record and the many-to-many
// id lists. "as" keys are mapped to their field, and relation values are
// reduced to ids.
func (d *Database) prepareRecord(table *Table, props types.Ref) (types.Ref, map[string][]any, error) {
	e := table.Entity()
	record := make(types.Ref, len(props))
	many := map[string][]any{}
	for _, k := range slices.Sorted(maps.Keys(props)) {
		v := props[k]
		field := k
		if f, ok := e.AsField(k); ok {
			if _, both := props[f]; both {
				continue
			}
			field = f
		}
		f, declared := e.Field(field)
		switch {
		case declared && f.Kind() == schema.KindMany:
			ids, err := ReduceRefs(v, table.targetIDAttr(field))
			if err != nil {
				return nil, nil, fmt.Errorf("%s.%s: %w", e.Name, field, err)
			}
			many[field] = ids
		case declared && f.Kind() != schema.KindAttr:
			id, err := ReduceRef(v, table.targetIDAttr(field))
			if err != nil {
				return nil, nil, fmt.Errorf("%s.%s: %w", e.Name, field, err)
			}
			record[field] = id
		default:
			record[field] = v
		}
	}
	return record, many, nil
}

// checkOneToOne fails if a one-to-one value in record already belongs to a
// record other than id.
func checkOneToOne(table *Table, ts *types.TableState, record types.Ref, id any) error {
	e := table.Entity()
	for _, field := range e.IndexedFields() {
		if f, _ := e.Field(field); f.Kind() != schema.KindOneToOne {
			continue
		}
		target := record[field]
		if target == nil {
			continue
		}
		for _, owner := range table.Bucket(ts, field, target) {
			if id == nil || types.IDKey(owner) != types.IDKey(id) {
				return fmt.Errorf("%w: %s.%s %v is held by %v", types.ErrOneToOneConflict, e.Name, field, target, owner)
			}
		}
	}
	return nil
}

// throughTable returns the through table of a many-to-many field and checks
// that rows can be created in it.
func (d *Database) throughTable(table *Table, field string) (*Table, schema.Accessor, error) {
	acc, ok := table.Entity().Accessor(field)
	if !ok || acc.Kind != schema.AccessMany {
		return nil, acc, fmt.Errorf("%w: %s.%s", types.ErrNotRelationSet, table.Name(), field)
	}
	through, err := d.Describe(acc.Through)
	if err != nil {
		return nil, acc, err
	}
	if through.Entity().IDPolicy == schema.IDManual {
		return nil, acc, fmt.Errorf("%w: %s", types.ErrThroughNotCreatable, through.Name())
	}
	return through, acc, nil
}

func (d *Database) create(state types.State, spec types.UpdateSpec, tx *Transaction) (types.State, any, error) {
	table, err := d.Describe(spec.Table)
	if err != nil {
		return state, nil, err
	}
	props, err := payloadRef(spec.Payload)
	if err != nil {
		return state, nil, err
	}
	rowErr := func(err error) error {
		return &types.RowError{Table: table.Name(), ID: props[table.IDAttribute()], Err: err}
	}

	record, many, err := d.prepareRecord(table, props)
	if err != nil {
		return state, nil, rowErr(err)
	}
	if err := checkOneToOne(table, state[table.Name()], record, nil); err != nil {
		return state, nil, rowErr(err)
	}
	throughs := map[string]*Table{}
	accessors := map[string]schema.Accessor{}
	for field := range many {
		through, acc, err := d.throughTable(table, field)
		if err != nil {
			return state, nil, rowErr(err)
		}
		throughs[field], accessors[field] = through, acc
	}

	var created types.Ref
	next, err := tx.Writer().ApplyTableChange(state, table, func(ts *types.TableState) error {
		created, err = table.Insert(ts, record)
		return err
	})
	if err != nil {
		return state, nil, rowErr(err)
	}

	id := created[table.IDAttribute()]
	for _, field := range slices.Sorted(maps.Keys(many)) {
		next, err = d.link(next, tx, throughs[field], accessors[field], id, many[field])
		if err != nil {
			return state, nil, &types.RowError{Table: table.Name(), ID: id, Err: err}
		}
	}
	return next, created, nil
}

// link creates one through row per target id.
func (d *Database) link(state types.State, tx *Transaction, through *Table, acc schema.Accessor, ownerID any, targetIDs []any) (types.State, error) {
	if len(targetIDs) == 0 {
		return state, nil
	}
	return tx.Writer().ApplyTableChange(state, through, func(ts *types.TableState) error {
		for _, target := range targetIDs {
			if _, err := through.Insert(ts, types.Ref{acc.FromField: ownerID, acc.ToField: target}); err != nil {
				return err
			}
		}
		return nil
	})
}

// unlink removes the through rows joining ownerID to any of targetIDs, or
// every row of ownerID when targetIDs is nil.
func (d *Database) unlink(state types.State, tx *Transaction, through *Table, acc schema.Accessor, ownerID any, targetIDs []any) (types.State, error) {
	ts := state[through.Name()]
	var want map[string]bool
	if targetIDs != nil {
		want = make(map[string]bool, len(targetIDs))
		for _, id := range targetIDs {
			want[types.IDKey(id)] = true
		}
	}
	var doomed []any
	for _, rowID := range through.Bucket(ts, acc.FromField, ownerID) {
		row := ts.Get(rowID)
		if row == nil {
			continue
		}
		if want == nil || want[types.IDKey(row[acc.ToField])] {
			doomed = append(doomed, rowID)
		}
	}
	if len(doomed) == 0 {
		return state, nil
	}
	return tx.Writer().ApplyTableChange(state, through, func(ts *types.TableState) error {
		for _, rowID := range doomed {
			if err := through.Delete(ts, rowID); err != nil {
				return err
			}
		}
		return nil
	})
}

// relatedIDs returns the target ids joined to ownerID, in through-row order.
func relatedIDs(state types.State, through *Table, acc schema.Accessor, ownerID any) []any {
	ts := state[through.Name()]
	bucket := through.Bucket(ts, acc.FromField, ownerID)
	ids := make([]any, 0, len(bucket))
	for _, rowID := range bucket {
		if row := ts.Get(rowID); row != nil {
			ids = append(ids, row[acc.ToField])
		}
	}
	return ids
}

func (d *Database) update(state types.State, spec types.UpdateSpec, tx *Transaction) (types.State, any, error) {
	if spec.Query == nil {
		return state, nil, fmt.Errorf("%w: update without query", types.ErrInvalidPayload)
	}
	table, err := d.Describe(spec.Query.Table)
	if err != nil {
		return state, nil, err
	}
	props, err := payloadRef(spec.Payload)
	if err != nil {
		return state, nil, err
	}
	record, many, err := d.prepareRecord(table, props)
	if err != nil {
		return state, nil, &types.RowError{Table: table.Name(), Err: err}
	}
	throughs := map[string]*Table{}
	accessors := map[string]schema.Accessor{}
	for field := range many {
		through, acc, err := d.throughTable(table, field)
		if err != nil {
			return state, nil, &types.RowError{Table: table.Name(), Err: err}
		}
		throughs[field], accessors[field] = through, acc
	}

	rows, err := table.Query(state[table.Name()], spec.Query.Clauses)
	if err != nil {
		return state, nil, err
	}

	updated := make([]types.Ref, 0, len(rows))
	for _, row := range rows {
		id := row[table.IDAttribute()]
		next, ref, err := d.updateRow(state, tx, table, id, record)
		if err == nil {
			for _, field := range slices.Sorted(maps.Keys(many)) {
				next, err = d.replaceRelated(next, tx, throughs[field], accessors[field], id, many[field])
				if err != nil {
					break
				}
			}
		}
		if err != nil {
			return state, updated, &types.RowError{Table: table.Name(), ID: id, Err: err}
		}
		state = next
		updated = append(updated, ref)
	}
	return state, updated, nil
}

// updateRow merges record into the row stored under id. A merge that
// changes nothing returns state itself.
func (d *Database) updateRow(state types.State, tx *Transaction, table *Table, id any, record types.Ref) (types.State, types.Ref, error) {
	ts := state[table.Name()]
	current := ts.Get(id)
	if current == nil {
		return state, nil, fmt.Errorf("%w: %s %v", types.ErrNotFound, table.Name(), id)
	}
	if err := checkOneToOne(table, ts, record, id); err != nil {
		return state, nil, err
	}
	if v, ok := record[table.IDAttribute()]; ok && !types.Equal(v, id) {
		return state, nil, fmt.Errorf("%w: %s %v", types.ErrIDImmutable, table.Name(), id)
	}
	if !table.ShouldUpdate(current, record) {
		return state, current, nil
	}
	var ref types.Ref
	next, err := tx.Writer().ApplyTableChange(state, table, func(ts *types.TableState) error {
		var err error
		ref, err = table.Update(ts, id, record)
		return err
	})
	return next, ref, err
}

// replaceRelated makes the set of targets joined to ownerID equal targetIDs.
func (d *Database) replaceRelated(state types.State, tx *Transaction, through *Table, acc schema.Accessor, ownerID any, targetIDs []any) (types.State, error) {
	current := relatedIDs(state, through, acc, ownerID)
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[types.IDKey(id)] = true
	}
	want := make(map[string]bool, len(targetIDs))
	var add []any
	for _, id := range targetIDs {
		want[types.IDKey(id)] = true
		if !have[types.IDKey(id)] {
			add = append(add, id)
		}
	}
	drop := []any{}
	for _, id := range current {
		if !want[types.IDKey(id)] {
			drop = append(drop, id)
		}
	}

	var err error
	if len(drop) > 0 {
		if state, err = d.unlink(state, tx, through, acc, ownerID, drop); err != nil {
			return state, err
		}
	}
	return d.link(state, tx, through, acc, ownerID, add)
}

func (d *Database) delete(state types.State, spec types.UpdateSpec, tx *Transaction) (types.State, any, error) {
	if spec.Query == nil {
		return state, nil, fmt.Errorf("%w: delete without query", types.ErrInvalidPayload)
	}
	table, err := d.Describe(spec.Query.Table)
	if err != nil {
		return state, nil, err
	}
	rows, err := table.Query(state[table.Name()], spec.Query.Clauses)
	if err != nil {
		return state, nil, err
	}

	deleted := make([]any, 0, len(rows))
	for _, row := range rows {
		id := row[table.IDAttribute()]
		next, err := tx.Writer().ApplyTableChange(state, table, func(ts *types.TableState) error {
			return table.Delete(ts, id)
		})
		if err == nil {
			next, err = d.dropImplicitLinks(next, tx, table.Name(), id)
		}
		if err != nil {
			return state, deleted, &types.RowError{Table: table.Name(), ID: id, Err: err}
		}
		state = next
		deleted = append(deleted, id)
	}
	return state, deleted, nil
}

// dropImplicitLinks removes the rows of implicit through entities that join
// the deleted record to anything. Declared through entities are records in
// their own right and, like foreign keys elsewhere, are left dangling.
func (d *Database) dropImplicitLinks(state types.State, tx *Transaction, name string, id any) (types.State, error) {
	for _, e := range d.registry.Entities() {
		for _, field := range e.ManyFields() {
			acc, ok := e.Accessor(field)
			if !ok {
				continue
			}
			through, err := d.Describe(acc.Through)
			if err != nil || !through.Entity().Derived() {
				continue
			}
			sides := []string{}
			if e.Name == name {
				sides = append(sides, acc.FromField)
			}
			if acc.Target == name {
				sides = append(sides, acc.ToField)
			}
			for _, side := range sides {
				next, err := d.unlink(state, tx, through, schema.Accessor{FromField: side}, id, nil)
				if err != nil {
					return state, err
				}
				state = next
			}
		}
	}
	return state, nil
}
