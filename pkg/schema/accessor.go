package schema

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// AccessorKind tells a session-bound model how to resolve a field read.
type AccessorKind string

// Accessor kinds. Fields with no accessor read as plain stored values.
const (
	// AccessFK resolves the id stored under Key to one Target record.
	AccessFK AccessorKind = "fk"
	// AccessOneToOne resolves the id stored under Key to one Target record.
	AccessOneToOne AccessorKind = "oneToOne"
	// AccessMany resolves to the Target records joined through Through.
	AccessMany AccessorKind = "many"
	// AccessReverseFK resolves to the Target records whose Key holds this
	// record's id.
	AccessReverseFK AccessorKind = "reverseFk"
	// AccessReverseOneToOne resolves to the single Target record whose Key
	// holds this record's id.
	AccessReverseOneToOne AccessorKind = "reverseOneToOne"
)

// Accessor is one entry of an entity's accessor table.
type Accessor struct {
	Name string
	Kind AccessorKind
	// Field is the declaring field name on the declaring entity.
	Field string
	// Target is the entity the accessor yields records of.
	Target string
	// Key is the stored key holding the related id: on this entity for
	// forward accessors, on Target for reverse ones.
	Key string
	// Through, FromField and ToField describe the join for AccessMany:
	// FromField points at this entity and ToField at Target.
	Through   string
	FromField string
	ToField   string
	// Reverse is set for accessors installed on a relation's target.
	Reverse bool
}

// ToMany reports whether the accessor yields a set of records.
func (a Accessor) ToMany() bool {
	return a.Kind == AccessMany || a.Kind == AccessReverseFK
}

// defaultRelatedName is the reverse accessor name used when a relation does
// not declare one.
func defaultRelatedName(owner string, kind Kind) string {
	if kind == KindOneToOne {
		return strings.ToLower(owner)
	}
	return strings.ToLower(owner) + "Set"
}

// capitalize upper-cases the first rune of s.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
