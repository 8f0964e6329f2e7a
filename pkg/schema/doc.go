// Package schema declares pantry entities and their fields, and resolves
// them into a Registry.
//
// A field is an Attribute or one of three relations: ForeignKey (many to
// one), OneToOne, and ManyToMany. Registering a ManyToMany field without an
// explicit through entity synthesizes one with DeriveThroughEntity. After
// registration every entity carries an accessor table describing, per field
// name, whether a read returns a scalar, a related record or a set of
// related records. Sessions consult that table; nothing is installed on
// shared values at runtime.
//
// A Registry is read-only once registration is finished and may be shared by
// any number of sessions and goroutines.
package schema
