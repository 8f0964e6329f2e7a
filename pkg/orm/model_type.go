package orm

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/pantry/pkg/db"
	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// ModelType is an entity bound to a session. It carries the QuerySet surface
// over all of the entity's records plus record creation and lookup.
type ModelType struct {
	session *Session
	entity  *schema.Entity
}

// Name returns the entity name.
func (m *ModelType) Name() string { return m.entity.Name }

// Entity returns the resolved entity.
func (m *ModelType) Entity() *schema.Entity { return m.entity }

// Session returns the session the ModelType is bound to.
func (m *ModelType) Session() *Session { return m.session }

// All returns a QuerySet over every record.
func (m *ModelType) All() *QuerySet { return newQuerySet(m) }

// Filter is shorthand for All().Filter(lookup).
func (m *ModelType) Filter(lookup any) *QuerySet { return m.All().Filter(lookup) }

// Exclude is shorthand for All().Exclude(lookup).
func (m *ModelType) Exclude(lookup any) *QuerySet { return m.All().Exclude(lookup) }

// OrderBy is shorthand for All().OrderBy(iteratees, orders...).
func (m *ModelType) OrderBy(iteratees []any, orders ...any) *QuerySet {
	return m.All().OrderBy(iteratees, orders...)
}

// Count returns the number of records.
func (m *ModelType) Count() (int, error) { return m.All().Count() }

// Exists reports whether the table has any record.
func (m *ModelType) Exists() (bool, error) { return m.All().Exists() }

// At returns the record at index i in insertion order, or nil.
func (m *ModelType) At(i int) (*Model, error) { return m.All().At(i) }

// First returns the first record in insertion order, or nil.
func (m *ModelType) First() (*Model, error) { return m.All().First() }

// Last returns the last record in insertion order, or nil.
func (m *ModelType) Last() (*Model, error) { return m.All().Last() }

// Update merges props into every record.
func (m *ModelType) Update(props types.Ref) error { return m.All().Update(props) }

// Delete deletes every record.
func (m *ModelType) Delete() error { return m.All().Delete() }

// Create validates props, applies attribute defaults and stores a new record.
// Every attribute without a default must be present, except the id attribute
// when the id policy generates ids. Relation values may be raw ids, models or
// record maps; many-to-many values are lists of those. Props that name no
// declared field are stored as they are.
//
// Returns ErrMissingField, ErrUnresolvedReference, ErrDuplicateID or
// ErrOneToOneConflict; the session state is unchanged on error.
func (m *ModelType) Create(props types.Ref) (*Model, error) {
	record := props.Clone()
	if record == nil {
		record = types.Ref{}
	}
	for _, name := range m.entity.FieldNames() {
		attr, ok := m.entity.Fields[name].(*schema.Attribute)
		if !ok || !attr.HasDefault() {
			continue
		}
		if _, set := record[name]; !set {
			record[name] = attr.Default()
		}
	}

	var missing []string
	for _, name := range m.entity.RequiredFields() {
		if _, set := record[name]; !set {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("creating %s: %w: %s", m.Name(), types.ErrMissingField, strings.Join(missing, ", "))
	}
	if err := m.checkReferences(record); err != nil {
		return nil, fmt.Errorf("creating %s: %w", m.Name(), err)
	}

	payload, err := m.session.ApplyUpdate(types.UpdateSpec{Action: types.Create, Table: m.Name(), Payload: record})
	if err != nil {
		return nil, err
	}
	ref, _ := payload.(types.Ref)
	return m.wrap(ref), nil
}

// checkReferences fails if a relation value cannot be reduced to an id.
func (m *ModelType) checkReferences(record types.Ref) error {
	for key, v := range record {
		field := key
		if f, ok := m.entity.AsField(key); ok {
			field = f
		}
		f, ok := m.entity.Field(field)
		if !ok || f.Kind() == schema.KindAttr {
			continue
		}
		var err error
		if f.Kind() == schema.KindMany {
			_, err = db.ReduceRefs(v, m.targetIDAttr(field))
		} else {
			_, err = db.ReduceRef(v, m.targetIDAttr(field))
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (m *ModelType) targetIDAttr(field string) string {
	rel, ok := m.entity.Relation(field)
	if !ok {
		return ""
	}
	target, err := m.session.orm.registry.Get(rel.To)
	if err != nil {
		return ""
	}
	return target.IDAttribute
}

// Upsert updates the record whose id props names, or creates it when no such
// record exists. Returns ErrMissingID if props has no id.
func (m *ModelType) Upsert(props types.Ref) (*Model, error) {
	id, ok := props[m.entity.IDAttribute]
	if !ok || id == nil {
		return nil, fmt.Errorf("upserting %s: %w", m.Name(), types.ErrMissingID)
	}
	existing := m.WithID(id)
	if existing == nil {
		return m.Create(props)
	}
	if err := existing.Update(props); err != nil {
		return nil, err
	}
	return existing, nil
}

// Get returns the single record matching lookup, nil when none matches, and
// ErrAmbiguous when more than one does.
func (m *ModelType) Get(lookup any) (*Model, error) {
	qs := m.Filter(lookup)
	rows, err := qs.evaluate()
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return m.wrap(rows[0]), nil
	}
	return nil, fmt.Errorf("%w: %s %s matched %d records", types.ErrAmbiguous, m.Name(), qs.Query(), len(rows))
}

// WithID returns the record stored under id, or nil.
func (m *ModelType) WithID(id any) *Model {
	n, err := types.NormalizeID(id)
	if err != nil {
		return nil
	}
	m.session.MarkAccessed(m.Name())
	ref := m.session.GetDataForModel(m.Name()).Get(n)
	if ref == nil {
		return nil
	}
	return m.wrap(ref)
}

// IDExists reports whether a record is stored under id.
func (m *ModelType) IDExists(id any) bool {
	n, err := types.NormalizeID(id)
	if err != nil {
		return false
	}
	m.session.MarkAccessed(m.Name())
	return m.session.GetDataForModel(m.Name()).Has(n)
}

func (m *ModelType) byID(id any) *types.Query {
	return &types.Query{
		Table:   m.Name(),
		Clauses: []types.Clause{{Type: types.Filter, Payload: types.Lookup{m.entity.IDAttribute: id}}},
	}
}

func (m *ModelType) wrap(ref types.Ref) *Model {
	if ref == nil {
		return nil
	}
	return &Model{mt: m, ref: ref}
}
