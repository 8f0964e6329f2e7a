package orm

import (
	"fmt"

	"github.com/mesh-intelligence/pantry/pkg/db"
	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// ManyQuerySet is the QuerySet behind a many-to-many or reverse foreign-key
// accessor. On top of the QuerySet surface it can change which records are
// related to its owner.
type ManyQuerySet struct {
	*QuerySet
	owner *Model
	acc   schema.Accessor
}

func (m *Model) many(acc schema.Accessor) (*ManyQuerySet, error) {
	target, err := m.mt.session.Model(acc.Target)
	if err != nil {
		return nil, err
	}
	qs := newQuerySet(target)
	ownerID := m.GetID()
	if acc.Kind == schema.AccessReverseFK {
		qs.clauses = []types.Clause{{Type: types.Filter, Payload: types.Lookup{acc.Key: ownerID}}}
	} else {
		session := m.mt.session
		idAttr := target.entity.IDAttribute
		qs.scope = func() types.Clause {
			related := map[string]bool{}
			for _, id := range relatedIDs(session, acc, ownerID) {
				related[types.IDKey(id)] = true
			}
			return types.Clause{Type: types.Filter, Payload: types.Predicate(func(r types.Ref) bool {
				return related[types.IDKey(r[idAttr])]
			})}
		}
	}
	return &ManyQuerySet{QuerySet: qs, owner: m, acc: acc}, nil
}

// relatedIDs reads the through table of acc and returns the ids on the
// ToField side of every row whose FromField holds ownerID.
func relatedIDs(s *Session, acc schema.Accessor, ownerID any) []any {
	s.MarkAccessed(acc.Through)
	through := s.GetDataForModel(acc.Through)
	if through == nil {
		return nil
	}
	var ids []any
	for _, rowID := range through.Indexes[acc.FromField][types.IDKey(ownerID)] {
		if row := through.Get(rowID); row != nil {
			ids = append(ids, row[acc.ToField])
		}
	}
	return ids
}

// Owner returns the record the set belongs to.
func (mq *ManyQuerySet) Owner() *Model { return mq.owner }

// Add relates targets to the owner. Targets may be ids, models or record
// maps. For a many-to-many accessor each target gets a through row and
// ErrAlreadyRelated is returned if one is already related. For a reverse
// foreign key each target's key is pointed at the owner; ErrNotFound is
// returned for a missing target. Nothing is written when validation fails.
func (mq *ManyQuerySet) Add(targets ...any) error {
	ids, err := mq.targetIDs(targets)
	if err != nil {
		return err
	}
	defer mq.reset()
	session := mq.mt.session

	if mq.acc.Kind == schema.AccessReverseFK {
		for _, id := range ids {
			if !mq.mt.IDExists(id) {
				return fmt.Errorf("adding to %s: %w: %s %v", mq.acc.Name, types.ErrNotFound, mq.mt.Name(), id)
			}
		}
		for _, id := range ids {
			if _, err := session.ApplyUpdate(types.UpdateSpec{
				Action:  types.Update,
				Query:   mq.mt.byID(id),
				Payload: types.Ref{mq.acc.Key: mq.owner.GetID()},
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := mq.checkThrough(); err != nil {
		return err
	}
	related := mq.relatedSet()
	for _, id := range ids {
		if related[types.IDKey(id)] {
			return fmt.Errorf("adding to %s: %w: %s %v", mq.acc.Name, types.ErrAlreadyRelated, mq.mt.Name(), id)
		}
	}
	for _, id := range ids {
		if _, err := session.ApplyUpdate(types.UpdateSpec{
			Action:  types.Create,
			Table:   mq.acc.Through,
			Payload: types.Ref{mq.acc.FromField: mq.owner.GetID(), mq.acc.ToField: id},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Remove unrelates targets from the owner: through rows are deleted, or the
// targets' foreign keys set to nil. Returns ErrNotRelated if a target is not
// currently related.
func (mq *ManyQuerySet) Remove(targets ...any) error {
	ids, err := mq.targetIDs(targets)
	if err != nil {
		return err
	}
	defer mq.reset()
	session := mq.mt.session

	if mq.acc.Kind == schema.AccessReverseFK {
		for _, id := range ids {
			target := mq.mt.WithID(id)
			if target == nil || !types.Equal(target.Ref()[mq.acc.Key], mq.owner.GetID()) {
				return fmt.Errorf("removing from %s: %w: %s %v", mq.acc.Name, types.ErrNotRelated, mq.mt.Name(), id)
			}
		}
		for _, id := range ids {
			if _, err := session.ApplyUpdate(types.UpdateSpec{
				Action:  types.Update,
				Query:   mq.mt.byID(id),
				Payload: types.Ref{mq.acc.Key: nil},
			}); err != nil {
				return err
			}
		}
		return nil
	}

	related := mq.relatedSet()
	for _, id := range ids {
		if !related[types.IDKey(id)] {
			return fmt.Errorf("removing from %s: %w: %s %v", mq.acc.Name, types.ErrNotRelated, mq.mt.Name(), id)
		}
	}
	for _, id := range ids {
		if _, err := session.ApplyUpdate(types.UpdateSpec{
			Action: types.Delete,
			Query: &types.Query{Table: mq.acc.Through, Clauses: []types.Clause{{
				Type:    types.Filter,
				Payload: types.Lookup{mq.acc.FromField: mq.owner.GetID(), mq.acc.ToField: id},
			}}},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Clear unrelates every record from the owner.
func (mq *ManyQuerySet) Clear() error {
	defer mq.reset()
	lookup := types.Lookup{mq.acc.FromField: mq.owner.GetID()}
	if mq.acc.Kind == schema.AccessReverseFK {
		_, err := mq.mt.session.ApplyUpdate(types.UpdateSpec{
			Action:  types.Update,
			Query:   &types.Query{Table: mq.mt.Name(), Clauses: []types.Clause{{Type: types.Filter, Payload: types.Lookup{mq.acc.Key: mq.owner.GetID()}}}},
			Payload: types.Ref{mq.acc.Key: nil},
		})
		return err
	}
	_, err := mq.mt.session.ApplyUpdate(types.UpdateSpec{
		Action: types.Delete,
		Query:  &types.Query{Table: mq.acc.Through, Clauses: []types.Clause{{Type: types.Filter, Payload: lookup}}},
	})
	return err
}

func (mq *ManyQuerySet) targetIDs(targets []any) ([]any, error) {
	ids, err := db.ReduceRefs(targets, mq.mt.entity.IDAttribute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mq.acc.Name, err)
	}
	return ids, nil
}

func (mq *ManyQuerySet) relatedSet() map[string]bool {
	related := map[string]bool{}
	for _, id := range relatedIDs(mq.mt.session, mq.acc, mq.owner.GetID()) {
		related[types.IDKey(id)] = true
	}
	return related
}

func (mq *ManyQuerySet) checkThrough() error {
	through, err := mq.mt.session.orm.registry.Get(mq.acc.Through)
	if err != nil {
		return err
	}
	if through.IDPolicy == schema.IDManual {
		return fmt.Errorf("adding to %s: %w: %s", mq.acc.Name, types.ErrThroughNotCreatable, through.Name)
	}
	return nil
}

// reset drops the cached rows so the next terminal call sees the change.
func (mq *ManyQuerySet) reset() {
	mq.rows, mq.evaluated = nil, false
}
