package db

import (
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// EncodeState serializes state in the persisted shape: one object per
// entity with its id list and record map under the entity's storage names,
// plus meta and indexes.
func EncodeState(state types.State) ([]byte, error) {
	if state == nil {
		state = types.State{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// DecodeState parses a serialized state tree. Branches of registered
// entities are read with their storage names, registered entities missing
// from data get an empty branch, and indexes absent from the data are
// rebuilt from the records. Branches of unknown entities are kept with the
// default storage names.
func (d *Database) DecodeState(data []byte) (types.State, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}

	state := d.GetEmptyState()
	for name, msg := range raw {
		ts := types.NewTableState("", "")
		table, err := d.Describe(name)
		if err == nil {
			ts = table.GetEmptyState()
		}
		if err := json.Unmarshal(msg, ts); err != nil {
			return nil, fmt.Errorf("decoding state for %s: %w", name, err)
		}
		if table != nil {
			table.rebuildMissingIndexes(ts)
		}
		state[name] = ts
	}
	return state, nil
}

// rebuildMissingIndexes fills in the index of every indexed field the
// branch has no index for.
func (t *Table) rebuildMissingIndexes(ts *types.TableState) {
	for _, field := range t.entity.IndexedFields() {
		if _, ok := ts.Indexes[field]; ok {
			continue
		}
		ts.Indexes[field] = map[string][]any{}
		for _, id := range ts.Items {
			ref := ts.Get(id)
			if ref == nil || ref[field] == nil {
				continue
			}
			target, err := types.NormalizeID(ref[field])
			if err != nil {
				continue
			}
			addToBucket(ts, field, target, id)
		}
	}
}
