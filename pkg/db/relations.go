package db

import (
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// ReduceRef reduces a relation value to the canonical id it stands for. It
// accepts a raw id, an Identifier such as a session-bound model, or a
// record map whose idAttr entry holds the id ("id" when idAttr is empty).
// nil reduces to nil. Anything else fails with ErrUnresolvedReference.
func ReduceRef(v any, idAttr string) (any, error) {
	if idAttr == "" {
		idAttr = types.DefaultIDAttribute
	}
	var raw any
	switch x := v.(type) {
	case nil:
		return nil, nil
	case types.Identifier:
		raw = x.GetID()
	case types.Ref:
		raw = x[idAttr]
	case map[string]any:
		raw = x[idAttr]
	default:
		raw = v
	}
	id, err := types.NormalizeID(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnresolvedReference, err)
	}
	return id, nil
}

// ReduceRefs reduces a many-to-many value to a list of distinct ids in the
// order given. v may be a slice or array of anything ReduceRef accepts, or
// a single such value.
func ReduceRefs(v any, idAttr string) ([]any, error) {
	if v == nil {
		return []any{}, nil
	}
	var elems []any
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elems = make([]any, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i).Interface()
		}
	default:
		elems = []any{v}
	}

	seen := make(map[string]bool, len(elems))
	ids := make([]any, 0, len(elems))
	for _, e := range elems {
		id, err := ReduceRef(e, idAttr)
		if err != nil {
			return nil, err
		}
		if id == nil {
			return nil, fmt.Errorf("%w: nil in id list", types.ErrUnresolvedReference)
		}
		key := types.IDKey(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		ids = append(ids, id)
	}
	return ids, nil
}
