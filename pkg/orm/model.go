package orm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Model is one record bound to a session. It holds the Ref it was read from;
// RefreshFromState re-reads it after writes made elsewhere.
type Model struct {
	mt  *ModelType
	ref types.Ref
}

// Ref returns the stored record. It belongs to the state tree and must not be
// modified.
func (m *Model) Ref() types.Ref { return m.ref }

// GetID returns the record's id.
func (m *Model) GetID() any { return m.ref[m.mt.entity.IDAttribute] }

// ModelType returns the session-bound entity of the record.
func (m *Model) ModelType() *ModelType { return m.mt }

// Get reads a field through the entity's accessor table. Forward
// foreign-key and one-to-one fields yield the related *Model (nil when
// unset or dangling), reverse one-to-one fields the referencing *Model,
// many-to-many and reverse foreign-key fields a *ManyQuerySet, and anything
// else the stored value. Returns ErrFieldNotFound for a name that is neither
// declared, an accessor, nor stored on the record.
func (m *Model) Get(field string) (any, error) {
	acc, ok := m.mt.entity.Accessor(field)
	if !ok {
		if v, stored := m.ref[field]; stored {
			return v, nil
		}
		if _, declared := m.mt.entity.Field(field); declared {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s.%s", types.ErrFieldNotFound, m.mt.Name(), field)
	}

	switch acc.Kind {
	case schema.AccessFK, schema.AccessOneToOne:
		related, err := m.forward(acc)
		if related == nil || err != nil {
			return nil, err
		}
		return related, nil
	case schema.AccessReverseOneToOne:
		related, err := m.reverseOne(acc)
		if related == nil || err != nil {
			return nil, err
		}
		return related, nil
	}
	mqs, err := m.many(acc)
	if err != nil {
		return nil, err
	}
	return mqs, nil
}

// Related returns the single record a forward or reverse foreign-key or
// one-to-one accessor points at, or nil.
func (m *Model) Related(field string) (*Model, error) {
	acc, ok := m.mt.entity.Accessor(field)
	if !ok || acc.ToMany() {
		return nil, fmt.Errorf("%w: %s.%s is not a single relation", types.ErrFieldNotFound, m.mt.Name(), field)
	}
	if acc.Kind == schema.AccessReverseOneToOne {
		return m.reverseOne(acc)
	}
	return m.forward(acc)
}

// Many returns the related set behind a many-to-many or reverse foreign-key
// accessor. Returns ErrNotRelationSet for any other field.
func (m *Model) Many(field string) (*ManyQuerySet, error) {
	acc, ok := m.mt.entity.Accessor(field)
	if !ok || !acc.ToMany() {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrNotRelationSet, m.mt.Name(), field)
	}
	return m.many(acc)
}

// QuerySet is like Many but returns the plain QuerySet.
func (m *Model) QuerySet(field string) (*QuerySet, error) {
	mqs, err := m.Many(field)
	if err != nil {
		return nil, err
	}
	return mqs.QuerySet, nil
}

func (m *Model) forward(acc schema.Accessor) (*Model, error) {
	target, err := m.mt.session.Model(acc.Target)
	if err != nil {
		return nil, err
	}
	id := m.ref[acc.Key]
	if id == nil {
		return nil, nil
	}
	return target.WithID(id), nil
}

func (m *Model) reverseOne(acc schema.Accessor) (*Model, error) {
	target, err := m.mt.session.Model(acc.Target)
	if err != nil {
		return nil, err
	}
	return target.Get(types.Lookup{acc.Key: m.GetID()})
}

// Set stores value under field. It is shorthand for Update with one field.
func (m *Model) Set(field string, value any) error {
	return m.Update(types.Ref{field: value})
}

// Update merges props into the record and refreshes the model. Relation
// values may be ids, models or record maps; a many-to-many field replaces the
// whole related set.
func (m *Model) Update(props types.Ref) error {
	if err := m.mt.checkReferences(props); err != nil {
		return fmt.Errorf("updating %s %v: %w", m.mt.Name(), m.GetID(), err)
	}
	if _, err := m.mt.session.ApplyUpdate(types.UpdateSpec{
		Action:  types.Update,
		Query:   m.mt.byID(m.GetID()),
		Payload: props,
	}); err != nil {
		return err
	}
	return m.RefreshFromState()
}

// Delete deletes the record. Records referencing it keep their foreign keys.
func (m *Model) Delete() error {
	_, err := m.mt.session.ApplyUpdate(types.UpdateSpec{
		Action: types.Delete,
		Query:  m.mt.byID(m.GetID()),
	})
	return err
}

// RefreshFromState re-reads the record from the session's current state.
// Returns ErrNotFound if it no longer exists.
func (m *Model) RefreshFromState() error {
	ref := m.mt.session.GetDataForModel(m.mt.Name()).Get(m.GetID())
	if ref == nil {
		return fmt.Errorf("%w: %s %v", types.ErrNotFound, m.mt.Name(), m.GetID())
	}
	m.ref = ref
	return nil
}

// Equals reports whether other is the same record: same entity, same id.
func (m *Model) Equals(other *Model) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.mt.Name() == other.mt.Name() && types.Equal(m.GetID(), other.GetID())
}

// String renders the record as "Book: {id: 1, title: Dune}" with fields in
// name order.
func (m *Model) String() string {
	keys := make([]string, 0, len(m.ref))
	for k := range m.ref {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, m.ref[k])
	}
	return fmt.Sprintf("%s: {%s}", m.mt.Name(), strings.Join(parts, ", "))
}
