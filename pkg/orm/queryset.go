package orm

import (
	"fmt"
	"slices"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// QuerySet is a lazy query over one entity. Filter, Exclude and OrderBy
// return new unevaluated instances. The first terminal call evaluates the
// query and caches the rows on the instance; later terminal calls on the same
// instance reuse them. A QuerySet is a snapshot of its clauses, not a live
// view: writes elsewhere do not invalidate its cache.
type QuerySet struct {
	mt      *ModelType
	clauses []types.Clause
	// scope, when set, produces a leading clause at evaluation time.
	scope func() types.Clause

	rows      []types.Ref
	evaluated bool
}

func newQuerySet(mt *ModelType) *QuerySet {
	return &QuerySet{mt: mt}
}

func (q *QuerySet) with(c ...types.Clause) *QuerySet {
	return &QuerySet{
		mt:      q.mt,
		clauses: append(slices.Clip(q.clauses), c...),
		scope:   q.scope,
	}
}

// Model returns the ModelType the query runs over.
func (q *QuerySet) Model() *ModelType { return q.mt }

// All returns an unevaluated copy of q.
func (q *QuerySet) All() *QuerySet { return q.with() }

// Filter keeps the records matching lookup: a types.Lookup (or plain map)
// of field values, or a types.Predicate.
func (q *QuerySet) Filter(lookup any) *QuerySet {
	return q.with(types.Clause{Type: types.Filter, Payload: lookup})
}

// Exclude drops the records matching lookup. See Filter.
func (q *QuerySet) Exclude(lookup any) *QuerySet {
	return q.with(types.Clause{Type: types.Exclude, Payload: lookup})
}

// OrderBy sorts by iteratees, each a field name or a func(types.Ref) any.
// orders pairs with iteratees by position: "asc", "desc", true (ascending) or
// false. Missing orders are ascending.
func (q *QuerySet) OrderBy(iteratees []any, orders ...any) *QuerySet {
	return q.with(types.Clause{
		Type:    types.OrderBy,
		Payload: types.Ordering{Iteratees: slices.Clone(iteratees), Orders: orders},
	})
}

// Query returns the query q evaluates, scope clause included.
func (q *QuerySet) Query() types.Query {
	clauses := q.clauses
	if q.scope != nil {
		clauses = append([]types.Clause{q.scope()}, q.clauses...)
	}
	return types.Query{Table: q.mt.Name(), Clauses: clauses}
}

func (q *QuerySet) evaluate() ([]types.Ref, error) {
	if q.evaluated {
		return q.rows, nil
	}
	rows, err := q.fetch()
	if err != nil {
		return nil, err
	}
	q.rows, q.evaluated = rows, true
	return rows, nil
}

// fetch runs the query against the session's current state without touching
// the cache.
func (q *QuerySet) fetch() ([]types.Ref, error) {
	res, err := q.mt.session.Query(types.QuerySpec{Query: q.Query()})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Count returns the number of matching records.
func (q *QuerySet) Count() (int, error) {
	rows, err := q.evaluate()
	return len(rows), err
}

// Exists reports whether any record matches.
func (q *QuerySet) Exists() (bool, error) {
	n, err := q.Count()
	return n > 0, err
}

// At returns the record at index i, or nil when i is out of range.
func (q *QuerySet) At(i int) (*Model, error) {
	rows, err := q.evaluate()
	if err != nil || i < 0 || i >= len(rows) {
		return nil, err
	}
	return q.mt.wrap(rows[i]), nil
}

// First returns the first record, or nil.
func (q *QuerySet) First() (*Model, error) { return q.At(0) }

// Last returns the last record, or nil.
func (q *QuerySet) Last() (*Model, error) {
	n, err := q.Count()
	if err != nil {
		return nil, err
	}
	return q.At(n - 1)
}

// ToRefArray returns the matching records as Refs. The Refs belong to the
// state tree and must not be modified.
func (q *QuerySet) ToRefArray() ([]types.Ref, error) {
	rows, err := q.evaluate()
	if err != nil {
		return nil, err
	}
	return slices.Clone(rows), nil
}

// ToModelArray returns the matching records as session-bound models.
func (q *QuerySet) ToModelArray() ([]*Model, error) {
	rows, err := q.evaluate()
	if err != nil {
		return nil, err
	}
	models := make([]*Model, len(rows))
	for i, r := range rows {
		models[i] = q.mt.wrap(r)
	}
	return models, nil
}

// IDs returns the ids of the matching records.
func (q *QuerySet) IDs() ([]any, error) {
	rows, err := q.evaluate()
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r[q.mt.entity.IDAttribute]
	}
	return ids, nil
}

// Update merges props into every record currently matching q, one database
// update per record. It stops at the first failing record; records updated
// before it stay updated.
func (q *QuerySet) Update(props types.Ref) error {
	return q.eachID(func(id any) error {
		_, err := q.mt.session.ApplyUpdate(types.UpdateSpec{
			Action:  types.Update,
			Query:   q.mt.byID(id),
			Payload: props,
		})
		return err
	})
}

// Delete deletes every record currently matching q. It stops at the first
// failing record.
func (q *QuerySet) Delete() error {
	return q.eachID(func(id any) error {
		_, err := q.mt.session.ApplyUpdate(types.UpdateSpec{
			Action: types.Delete,
			Query:  q.mt.byID(id),
		})
		return err
	})
}

func (q *QuerySet) eachID(fn func(id any) error) error {
	rows, err := q.fetch()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := fn(r[q.mt.entity.IDAttribute]); err != nil {
			return err
		}
	}
	return nil
}

// String renders the query, for example
// "QuerySet Book.filter({title: Dune}).orderBy(year desc)".
func (q *QuerySet) String() string {
	return fmt.Sprintf("QuerySet %s", q.Query())
}
