package schema

import (
	"slices"
	"sort"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// IDPolicy decides how a record gets its id when the caller omits it.
type IDPolicy string

// Id policies.
const (
	// IDAutoIncrement assigns maxId+1. Numeric ids supplied by callers
	// raise maxId too.
	IDAutoIncrement IDPolicy = "autoincrement"
	// IDUUID assigns a new UUID v7 string.
	IDUUID IDPolicy = "uuid"
	// IDManual requires the caller to supply every id.
	IDManual IDPolicy = "manual"
)

var validPolicies = map[IDPolicy]bool{
	IDAutoIncrement: true,
	IDUUID:          true,
	IDManual:        true,
}

// Entity declares one record type.
type Entity struct {
	Name        string
	Fields      map[string]Field
	IDAttribute string
	ArrName     string
	MapName     string
	IDPolicy    IDPolicy

	derived   bool
	accessors map[string]Accessor
}

// withDefaults returns a copy of e with defaults applied and every field
// descriptor copied.
func (e Entity) withDefaults() Entity {
	out := e
	if out.IDAttribute == "" {
		out.IDAttribute = types.DefaultIDAttribute
	}
	if out.ArrName == "" {
		out.ArrName = types.DefaultArrName
	}
	if out.MapName == "" {
		out.MapName = types.DefaultMapName
	}
	if out.IDPolicy == "" {
		out.IDPolicy = IDAutoIncrement
	}
	out.Fields = make(map[string]Field, len(e.Fields))
	for name, f := range e.Fields {
		out.Fields[name] = cloneField(f)
	}
	out.accessors = nil
	return out
}

// Derived reports whether the entity was synthesized as an implicit
// many-to-many through entity.
func (e *Entity) Derived() bool { return e.derived }

// Field returns the named field descriptor.
func (e *Entity) Field(name string) (Field, bool) {
	f, ok := e.Fields[name]
	return f, ok
}

// FieldNames returns the declared field names in sorted order.
func (e *Entity) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexedFields returns the names of the foreign-key and one-to-one fields,
// sorted. The table keeps a reverse index for each.
func (e *Entity) IndexedFields() []string {
	var names []string
	for name, f := range e.Fields {
		if f.Indexed() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ManyFields returns the names of the many-to-many fields, sorted.
func (e *Entity) ManyFields() []string {
	var names []string
	for name, f := range e.Fields {
		if f.Kind() == KindMany {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsRelation reports whether name is a declared relation field.
func (e *Entity) IsRelation(name string) bool {
	f, ok := e.Fields[name]
	return ok && f.Kind() != KindAttr
}

// Relation returns the relation options of a declared relation field.
func (e *Entity) Relation(name string) (*Relation, bool) {
	f, ok := e.Fields[name].(RelationField)
	if !ok {
		return nil, false
	}
	return f.Rel(), true
}

// AsField returns the field whose As option is name, if any.
func (e *Entity) AsField(name string) (string, bool) {
	for field, f := range e.Fields {
		rf, ok := f.(RelationField)
		if ok && rf.Rel().As == name {
			return field, true
		}
	}
	return "", false
}

// RequiredFields returns the attributes a create must supply: every attribute
// without a default, except the id attribute when the id policy generates
// ids. Sorted.
func (e *Entity) RequiredFields() []string {
	var names []string
	for name, f := range e.Fields {
		attr, ok := f.(*Attribute)
		if !ok || attr.HasDefault() {
			continue
		}
		if name == e.IDAttribute && e.IDPolicy != IDManual {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Accessor returns the accessor installed under name.
func (e *Entity) Accessor(name string) (Accessor, bool) {
	a, ok := e.accessors[name]
	return a, ok
}

// AccessorNames returns the installed accessor names, sorted.
func (e *Entity) AccessorNames() []string {
	names := make([]string, 0, len(e.accessors))
	for name := range e.accessors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
