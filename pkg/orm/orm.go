package orm

import (
	"github.com/mesh-intelligence/pantry/pkg/db"
	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// ORM ties a registry to the database that evaluates specs against it.
// Several ORMs may coexist; nothing is shared between them.
type ORM struct {
	registry *schema.Registry
	database *db.Database
}

// New returns an ORM with an empty registry.
func New() *ORM {
	return NewWithRegistry(schema.NewRegistry())
}

// NewWithRegistry returns an ORM over an existing registry.
func NewWithRegistry(registry *schema.Registry) *ORM {
	return &ORM{registry: registry, database: db.NewDatabase(registry)}
}

// Register adds entities to the registry. See schema.Registry.Register.
func (o *ORM) Register(entities ...schema.Entity) error {
	return o.registry.Register(entities...)
}

// Get returns the resolved entity with the given name.
func (o *ORM) Get(name string) (*schema.Entity, error) {
	return o.registry.Get(name)
}

// Registry returns the ORM's registry.
func (o *ORM) Registry() *schema.Registry { return o.registry }

// Database returns the ORM's database.
func (o *ORM) Database() *db.Database { return o.database }

// GetEmptyState returns a state tree with an empty branch per entity.
func (o *ORM) GetEmptyState() types.State {
	return o.database.GetEmptyState()
}

// Session returns a session that copies every branch it writes, leaving
// state untouched.
func (o *ORM) Session(state types.State) *Session {
	return NewSession(o, state, false, "")
}

// MutableSession returns a session that copies each branch once and then
// writes it in place for the rest of the session. state itself is still not
// modified.
func (o *ORM) MutableSession(state types.State) *Session {
	return NewSession(o, state, true, "")
}
