package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// Ref is the flat stored form of one record: field name to scalar value or
// raw related id. Refs held in a state tree are never mutated; updates
// replace them.
type Ref map[string]any

// Clone returns a shallow copy of r.
func (r Ref) Clone() Ref {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// State is the whole state tree: entity name to table branch.
type State map[string]*TableState

// Meta is the meta block of a table branch. MaxID is nil until a numeric id
// has been stored.
type Meta struct {
	MaxID *int64 `json:"maxId"`
}

// TableState is the normalized storage branch for one entity.
//
// Items and the keys of ItemsByID always hold the same ids. Indexes maps each
// foreign-key or one-to-one field to a reverse index from target id key to
// the ids of the records referencing it.
type TableState struct {
	Items     []any
	ItemsByID map[string]Ref
	Meta      Meta
	Indexes   map[string]map[string][]any

	arrName string
	mapName string
	batch   string
}

// NewTableState returns an empty branch with the given storage names and an
// empty index for every field in indexed. Empty names fall back to the
// defaults.
func NewTableState(arrName, mapName string, indexed ...string) *TableState {
	ts := &TableState{
		Items:     []any{},
		ItemsByID: map[string]Ref{},
		Indexes:   make(map[string]map[string][]any, len(indexed)),
	}
	ts.SetStorageNames(arrName, mapName)
	for _, f := range indexed {
		ts.Indexes[f] = map[string][]any{}
	}
	return ts
}

// SetStorageNames sets the JSON keys used for the id list and record map.
func (ts *TableState) SetStorageNames(arrName, mapName string) {
	if arrName == "" {
		arrName = DefaultArrName
	}
	if mapName == "" {
		mapName = DefaultMapName
	}
	ts.arrName = arrName
	ts.mapName = mapName
}

// StorageNames returns the JSON keys used for the id list and record map.
func (ts *TableState) StorageNames() (arrName, mapName string) {
	arrName, mapName = ts.arrName, ts.mapName
	if arrName == "" {
		arrName = DefaultArrName
	}
	if mapName == "" {
		mapName = DefaultMapName
	}
	return arrName, mapName
}

// BatchToken returns the token of the batch that owns this branch, or "" if
// the branch is not owned by any in-place batch.
func (ts *TableState) BatchToken() string { return ts.batch }

// Stamp marks the branch as owned by the batch identified by token.
func (ts *TableState) Stamp(token string) { ts.batch = token }

// Get returns the record stored under id, or nil.
func (ts *TableState) Get(id any) Ref {
	if ts == nil {
		return nil
	}
	return ts.ItemsByID[IDKey(id)]
}

// Has reports whether a record with id exists.
func (ts *TableState) Has(id any) bool {
	if ts == nil {
		return false
	}
	_, ok := ts.ItemsByID[IDKey(id)]
	return ok
}

// Len returns the number of records.
func (ts *TableState) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Items)
}

// Clone copies the branch structure so that it can be written without
// touching ts. Records are shared. Slices are clipped so that appends on the
// clone always reallocate. The batch stamp is not copied.
func (ts *TableState) Clone() *TableState {
	if ts == nil {
		return nil
	}
	next := &TableState{
		Items:     slices.Clip(slices.Clone(ts.Items)),
		ItemsByID: maps.Clone(ts.ItemsByID),
		Meta:      ts.Meta,
		Indexes:   make(map[string]map[string][]any, len(ts.Indexes)),
		arrName:   ts.arrName,
		mapName:   ts.mapName,
	}
	if next.Items == nil {
		next.Items = []any{}
	}
	if next.ItemsByID == nil {
		next.ItemsByID = map[string]Ref{}
	}
	if ts.Meta.MaxID != nil {
		m := *ts.Meta.MaxID
		next.Meta.MaxID = &m
	}
	for field, idx := range ts.Indexes {
		buckets := make(map[string][]any, len(idx))
		for k, ids := range idx {
			buckets[k] = slices.Clip(ids)
		}
		next.Indexes[field] = buckets
	}
	return next
}

// Clone returns a shallow copy of the state tree: a new top-level map holding
// the same branches.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// MarshalJSON writes the branch using its storage names.
func (ts *TableState) MarshalJSON() ([]byte, error) {
	arrName, mapName := ts.StorageNames()
	items := ts.Items
	if items == nil {
		items = []any{}
	}
	byID := ts.ItemsByID
	if byID == nil {
		byID = map[string]Ref{}
	}
	indexes := ts.Indexes
	if indexes == nil {
		indexes = map[string]map[string][]any{}
	}
	out := map[string]any{
		arrName:   items,
		mapName:   byID,
		"meta":    ts.Meta,
		"indexes": indexes,
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a branch using the storage names already set on ts
// (the defaults when unset). Integral numbers decode as int64, the rest as
// float64.
func (ts *TableState) UnmarshalJSON(data []byte) error {
	arrName, mapName := ts.StorageNames()
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	next := NewTableState(arrName, mapName)
	if msg, ok := raw[arrName]; ok {
		v, err := decodeGeneric(msg)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", arrName, err)
		}
		list, ok := v.([]any)
		if !ok && v != nil {
			return fmt.Errorf("decoding %s: not an array", arrName)
		}
		for i, id := range list {
			n, err := NormalizeID(id)
			if err != nil {
				return fmt.Errorf("decoding %s[%d]: %w", arrName, i, err)
			}
			next.Items = append(next.Items, n)
		}
	}
	if msg, ok := raw[mapName]; ok {
		v, err := decodeGeneric(msg)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", mapName, err)
		}
		records, ok := v.(map[string]any)
		if !ok && v != nil {
			return fmt.Errorf("decoding %s: not an object", mapName)
		}
		for key, rec := range records {
			fields, ok := rec.(map[string]any)
			if !ok {
				return fmt.Errorf("decoding %s[%q]: not an object", mapName, key)
			}
			next.ItemsByID[key] = Ref(fields)
		}
	}
	if msg, ok := raw["meta"]; ok {
		if err := json.Unmarshal(msg, &next.Meta); err != nil {
			return fmt.Errorf("decoding meta: %w", err)
		}
	}
	if msg, ok := raw["indexes"]; ok {
		v, err := decodeGeneric(msg)
		if err != nil {
			return fmt.Errorf("decoding indexes: %w", err)
		}
		fields, _ := v.(map[string]any)
		for field, idx := range fields {
			buckets := map[string][]any{}
			entries, _ := idx.(map[string]any)
			for key, ids := range entries {
				list, _ := ids.([]any)
				bucket := make([]any, 0, len(list))
				for _, id := range list {
					n, err := NormalizeID(id)
					if err != nil {
						return fmt.Errorf("decoding index %s[%q]: %w", field, key, err)
					}
					bucket = append(bucket, n)
				}
				buckets[key] = bucket
			}
			next.Indexes[field] = buckets
		}
	}

	*ts = *next
	return nil
}

// DecodeRef decodes one JSON object into a Ref, with integral numbers as
// int64 and other numbers as float64.
func DecodeRef(data []byte) (Ref, error) {
	v, err := decodeGeneric(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return Ref(m), nil
}

// decodeGeneric decodes JSON into plain maps, slices and scalars, with
// integral numbers as int64 and other numbers as float64.
func decodeGeneric(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return convertNumbers(v), nil
}

func convertNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = convertNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = convertNumbers(e)
		}
		return x
	}
	return v
}

func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
