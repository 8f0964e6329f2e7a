package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Identifier is implemented by values that stand for a stored record, such
// as a session-bound model. Relation lookups reduce them to their id.
type Identifier interface {
	GetID() any
}

// NormalizeID converts v to the canonical id form: int64 for any integral
// number and an NFC-normalized string for text. Every other value, including
// nil and fractional numbers, is rejected with ErrInvalidID.
func NormalizeID(v any) (any, error) {
	switch id := v.(type) {
	case string:
		return norm.NFC.String(id), nil
	case int:
		return int64(id), nil
	case int8:
		return int64(id), nil
	case int16:
		return int64(id), nil
	case int32:
		return int64(id), nil
	case int64:
		return id, nil
	case uint:
		return uintID(uint64(id))
	case uint8:
		return int64(id), nil
	case uint16:
		return int64(id), nil
	case uint32:
		return int64(id), nil
	case uint64:
		return uintID(id)
	case float32:
		return floatID(float64(id))
	case float64:
		return floatID(id)
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n, nil
		}
		f, err := id.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, id.String())
		}
		return floatID(f)
	case Identifier:
		return NormalizeID(id.GetID())
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidID, v)
}

func uintID(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidID, u)
	}
	return int64(u), nil
}

func floatID(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, f)
	}
	return int64(f), nil
}

// IDKey returns the map key used for id in itemsById and index buckets.
// The id must already be normalized.
func IDKey(id any) string {
	switch v := id.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	}
	return fmt.Sprint(id)
}

// Equal reports whether two stored field values are equal. Numbers compare
// by value regardless of their Go type, so an int lookup matches a float64
// decoded from JSON. Two integers compare exactly.
func Equal(a, b any) bool {
	if _, ok := toFloat(a); ok {
		c, ok := compareNumbers(a, b)
		return ok && c == 0
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && norm.NFC.String(sa) == norm.NFC.String(sb)
	}
	return deepEqual(a, b)
}

// Compare orders two field values for sorting. nil sorts after every other
// value. Numbers compare numerically, strings lexically, booleans false
// first and times chronologically. Mixed kinds fall back to comparing their
// printed forms.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if c, ok := compareNumbers(a, b); ok {
		return c
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(norm.NFC.String(va), norm.NFC.String(vb))
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case va == vb:
				return 0
			case !va:
				return -1
			}
			return 1
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Compare(vb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// compareNumbers orders two numeric values. Integers of any kind compare
// exactly; only when one side is a float do both go through float64.
func compareNumbers(a, b any) (int, bool) {
	if ia, ok := toInteger(a); ok {
		if ib, ok := toInteger(b); ok {
			return ia.compare(ib), true
		}
	}
	fa, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	fb, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	}
	return 0, true
}

// integer is a signed magnitude wide enough for every int64 and uint64.
type integer struct {
	neg bool
	mag uint64
}

func signed(n int64) integer {
	if n < 0 {
		return integer{neg: true, mag: uint64(-(n + 1)) + 1}
	}
	return integer{mag: uint64(n)}
}

func (x integer) compare(y integer) int {
	switch {
	case x.neg != y.neg:
		if x.neg {
			return -1
		}
		return 1
	case x.mag == y.mag:
		return 0
	case (x.mag < y.mag) != x.neg:
		return -1
	}
	return 1
}

func toInteger(v any) (integer, bool) {
	switch n := v.(type) {
	case int:
		return signed(int64(n)), true
	case int8:
		return signed(int64(n)), true
	case int16:
		return signed(int64(n)), true
	case int32:
		return signed(int64(n)), true
	case int64:
		return signed(n), true
	case uint:
		return integer{mag: uint64(n)}, true
	case uint8:
		return integer{mag: uint64(n)}, true
	case uint16:
		return integer{mag: uint64(n)}, true
	case uint32:
		return integer{mag: uint64(n)}, true
	case uint64:
		return integer{mag: n}, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return signed(i), true
		}
		if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
			return integer{mag: u}, true
		}
	}
	return integer{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
