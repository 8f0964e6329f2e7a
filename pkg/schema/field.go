package schema

// Kind tags a field descriptor.
type Kind string

// Field kinds.
const (
	KindAttr     Kind = "attr"
	KindFK       Kind = "fk"
	KindOneToOne Kind = "oneToOne"
	KindMany     Kind = "many"
)

// thisEntity as a relation target refers to the owning entity.
const thisEntity = "this"

// Field is a field descriptor.
type Field interface {
	// Kind reports which variant the descriptor is.
	Kind() Kind
	// Indexed reports whether the owning table keeps a reverse index for
	// the field.
	Indexed() bool
}

// RelationField is implemented by the three relation descriptors.
type RelationField interface {
	Field
	Rel() *Relation
}

// Attribute is a plain stored value. Default, when set, supplies the value on
// create if the caller omits it.
type Attribute struct {
	Default func() any
}

func (a *Attribute) Kind() Kind    { return KindAttr }
func (a *Attribute) Indexed() bool { return false }

// HasDefault reports whether the attribute supplies a default value.
func (a *Attribute) HasDefault() bool { return a.Default != nil }

// Relation holds the options shared by all relation descriptors.
type Relation struct {
	// To names the target entity. "this" refers to the owning entity.
	To string
	// RelatedName names the accessor installed on the target. Empty selects
	// a default derived from the owner's name.
	RelatedName string
	// Through names a user-declared through entity (ManyToMany only).
	Through string
	// ThroughFields names the through entity's fields pointing at the owner
	// and at the target, in that order (ManyToMany only).
	ThroughFields [2]string
	// As names the accessor returning the related record when the field key
	// itself stores the raw id (ForeignKey and OneToOne only).
	As string
}

// RelationOpts configures a relation descriptor.
type RelationOpts = Relation

// Rel returns the relation options.
func (r *Relation) Rel() *Relation { return r }

// ForeignKey is a many-to-one relation. The owning record stores the
// target's id; the target gets a to-many reverse accessor.
type ForeignKey struct{ Relation }

func (f *ForeignKey) Kind() Kind    { return KindFK }
func (f *ForeignKey) Indexed() bool { return true }

// OneToOne is a bijective relation. At most one record may reference a given
// target at a time.
type OneToOne struct{ Relation }

func (o *OneToOne) Kind() Kind    { return KindOneToOne }
func (o *OneToOne) Indexed() bool { return true }

// ManyToMany is stored through a separate entity holding pairs of foreign
// keys. It is not stored on the owning record.
type ManyToMany struct{ Relation }

func (m *ManyToMany) Kind() Kind    { return KindMany }
func (m *ManyToMany) Indexed() bool { return false }

// Attr declares an attribute without a default.
func Attr() *Attribute { return &Attribute{} }

// AttrWithDefault declares an attribute whose default is produced by fn.
func AttrWithDefault(fn func() any) *Attribute { return &Attribute{Default: fn} }

// FK declares a foreign key to the named entity.
func FK(to, relatedName string) *ForeignKey {
	return &ForeignKey{Relation{To: to, RelatedName: relatedName}}
}

// FKOpts declares a foreign key from full options.
func FKOpts(opts RelationOpts) *ForeignKey { return &ForeignKey{opts} }

// OneToOneField declares a one-to-one relation to the named entity.
func OneToOneField(to, relatedName string) *OneToOne {
	return &OneToOne{Relation{To: to, RelatedName: relatedName}}
}

// OneToOneOpts declares a one-to-one relation from full options.
func OneToOneOpts(opts RelationOpts) *OneToOne { return &OneToOne{opts} }

// Many declares a many-to-many relation to the named entity.
func Many(to, relatedName string) *ManyToMany {
	return &ManyToMany{Relation{To: to, RelatedName: relatedName}}
}

// ManyOpts declares a many-to-many relation from full options.
func ManyOpts(opts RelationOpts) *ManyToMany { return &ManyToMany{opts} }

// cloneField returns a copy of f that registration may rewrite freely.
func cloneField(f Field) Field {
	switch v := f.(type) {
	case *Attribute:
		cp := *v
		return &cp
	case *ForeignKey:
		cp := *v
		return &cp
	case *OneToOne:
		cp := *v
		return &cp
	case *ManyToMany:
		cp := *v
		return &cp
	}
	return f
}
