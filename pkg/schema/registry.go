package schema

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Registry holds the resolved entities of one ORM. Register may be called
// more than once; each call is atomic, so a failing call leaves the registry
// as it was.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: map[string]*Entity{}}
}

// Register validates entities, resolves their relations against everything
// registered so far plus the batch itself, synthesizes implicit through
// entities and rebuilds every accessor table. Entities in one batch may refer
// to each other in any order.
func (r *Registry) Register(entities ...Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[string]*Entity, len(r.entities)+len(entities))
	for name, e := range r.entities {
		cp := *e
		cp.accessors = nil
		staged[name] = &cp
	}
	order := slices.Clone(r.order)

	var added []string
	for _, decl := range entities {
		e, err := prepare(decl)
		if err != nil {
			return err
		}
		if _, dup := staged[e.Name]; dup {
			return regErr(e.Name, "", types.ErrDuplicateEntity, "")
		}
		staged[e.Name] = e
		order = append(order, e.Name)
		added = append(added, e.Name)
	}

	for _, name := range added {
		if err := checkTargets(staged, staged[name]); err != nil {
			return err
		}
	}

	for _, name := range added {
		e := staged[name]
		for _, field := range e.ManyFields() {
			rel, _ := e.Relation(field)
			if rel.Through != "" {
				continue
			}
			th := DeriveThroughEntity(e.Name, field, rel.To)
			if _, dup := staged[th.Name]; dup {
				return regErr(e.Name, field, types.ErrDuplicateEntity, "implicit through entity %s", th.Name)
			}
			prepared, err := prepare(th)
			if err != nil {
				return err
			}
			prepared.derived = true
			staged[prepared.Name] = prepared
			order = append(order, prepared.Name)
			from, to := throughFieldNames(e.Name, rel.To)
			rel.Through = prepared.Name
			rel.ThroughFields = [2]string{from, to}
			slog.Debug("derived through entity", "entity", e.Name, "field", field, "through", prepared.Name)
		}
	}

	for _, name := range added {
		e := staged[name]
		for _, field := range e.ManyFields() {
			if err := resolveThrough(staged, e, field); err != nil {
				return err
			}
		}
	}

	for _, name := range order {
		staged[name].accessors = map[string]Accessor{}
	}
	for _, name := range order {
		if err := installAccessors(staged, staged[name]); err != nil {
			return err
		}
	}

	r.entities = staged
	r.order = order
	slog.Debug("registered entities", "added", added, "total", len(order))
	return nil
}

// Get returns the resolved entity with the given name.
func (r *Registry) Get(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, name)
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[name]
	return ok
}

// Names returns the registered entity names in registration order. Implicit
// through entities follow the batch that produced them.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Entities returns the registered entities in registration order.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, len(r.order))
	for i, name := range r.order {
		out[i] = r.entities[name]
	}
	return out
}

// Accessors returns a copy of the named entity's accessor table.
func (r *Registry) Accessors(name string) (map[string]Accessor, error) {
	e, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return maps.Clone(e.accessors), nil
}

func validName(name string) bool {
	if name == "" || name == thisEntity {
		return false
	}
	return !strings.ContainsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == '.'
	})
}

// prepare applies defaults to decl and checks everything that does not
// depend on other entities.
func prepare(decl Entity) (*Entity, error) {
	if !validName(decl.Name) {
		return nil, regErr(decl.Name, "", types.ErrInvalidEntityName, "%q", decl.Name)
	}
	e := decl.withDefaults()
	if !validPolicies[e.IDPolicy] {
		return nil, regErr(e.Name, "", types.ErrInvalidIDPolicy, "%q", e.IDPolicy)
	}
	if e.ArrName == e.MapName {
		return nil, regErr(e.Name, "", types.ErrInvalidField, "arrName and mapName are both %q", e.ArrName)
	}
	for _, name := range e.FieldNames() {
		f := e.Fields[name]
		if name == "" || f == nil {
			return nil, regErr(e.Name, name, types.ErrInvalidField, "")
		}
		rf, ok := f.(RelationField)
		if !ok {
			continue
		}
		rel := rf.Rel()
		if rel.To == thisEntity {
			rel.To = e.Name
		}
		if rel.To == "" {
			return nil, regErr(e.Name, name, types.ErrInvalidField, "relation has no target")
		}
		switch f.Kind() {
		case KindMany:
			if rel.As != "" {
				return nil, regErr(e.Name, name, types.ErrInvalidField, "as is not supported on many-to-many fields")
			}
		default:
			if rel.Through != "" || rel.ThroughFields != [2]string{} {
				return nil, regErr(e.Name, name, types.ErrInvalidField, "through is only valid on many-to-many fields")
			}
			if rel.As == name {
				rel.As = ""
			}
			if rel.As != "" {
				if _, clash := e.Fields[rel.As]; clash {
					return nil, regErr(e.Name, name, types.ErrAccessorConflict, "as %q names a declared field", rel.As)
				}
			}
		}
	}
	if f, ok := e.Fields[e.IDAttribute]; ok && f.Kind() != KindAttr {
		return nil, regErr(e.Name, e.IDAttribute, types.ErrReservedField, "id attribute cannot be a relation")
	}
	return &e, nil
}

func checkTargets(staged map[string]*Entity, e *Entity) error {
	for _, name := range e.FieldNames() {
		rel, ok := e.Relation(name)
		if !ok {
			continue
		}
		if _, known := staged[rel.To]; !known {
			return regErr(e.Name, name, types.ErrUnknownTarget, "%s", rel.To)
		}
	}
	return nil
}

// resolveThrough validates a declared through entity and fills in its
// through fields when the declaration left them out.
func resolveThrough(staged map[string]*Entity, e *Entity, field string) error {
	rel, _ := e.Relation(field)
	through, ok := staged[rel.Through]
	if !ok {
		return regErr(e.Name, field, types.ErrInvalidThrough, "%s is not registered", rel.Through)
	}
	if through.derived {
		return nil
	}

	from, to := rel.ThroughFields[0], rel.ThroughFields[1]
	switch {
	case from == "" && to == "":
		toOwner := fksTo(through, e.Name)
		toTarget := fksTo(through, rel.To)
		if e.Name == rel.To {
			if len(toOwner) < 2 {
				return regErr(e.Name, field, types.ErrInvalidThrough, "%s needs two foreign keys to %s", through.Name, e.Name)
			}
			from, to = toOwner[0], toOwner[1]
		} else {
			if len(toOwner) == 0 || len(toTarget) == 0 {
				return regErr(e.Name, field, types.ErrInvalidThrough, "%s needs foreign keys to %s and %s", through.Name, e.Name, rel.To)
			}
			from, to = toOwner[0], toTarget[0]
		}
	case from == "" || to == "":
		return regErr(e.Name, field, types.ErrInvalidThrough, "through fields must name both sides")
	}

	if from == to {
		return regErr(e.Name, field, types.ErrInvalidThrough, "through fields are both %q", from)
	}
	if !isFKTo(through, from, e.Name) {
		return regErr(e.Name, field, types.ErrInvalidThrough, "%s.%s is not a foreign key to %s", through.Name, from, e.Name)
	}
	if !isFKTo(through, to, rel.To) {
		return regErr(e.Name, field, types.ErrInvalidThrough, "%s.%s is not a foreign key to %s", through.Name, to, rel.To)
	}
	rel.ThroughFields = [2]string{from, to}
	return nil
}

func fksTo(e *Entity, target string) []string {
	var names []string
	for _, name := range e.FieldNames() {
		if isFKTo(e, name, target) {
			names = append(names, name)
		}
	}
	return names
}

func isFKTo(e *Entity, field, target string) bool {
	f, ok := e.Fields[field].(*ForeignKey)
	return ok && f.To == target
}

// installAccessors adds the forward accessors of e to e and the reverse ones
// to each relation target.
func installAccessors(staged map[string]*Entity, e *Entity) error {
	for _, field := range e.FieldNames() {
		f := e.Fields[field]
		rf, ok := f.(RelationField)
		if !ok {
			continue
		}
		rel := rf.Rel()
		target := staged[rel.To]

		var fwd, rev Accessor
		switch f.Kind() {
		case KindFK, KindOneToOne:
			kind, revKind := AccessFK, AccessReverseFK
			if f.Kind() == KindOneToOne {
				kind, revKind = AccessOneToOne, AccessReverseOneToOne
			}
			name := field
			if rel.As != "" {
				name = rel.As
			}
			fwd = Accessor{Name: name, Kind: kind, Field: field, Target: rel.To, Key: field}
			rev = Accessor{Kind: revKind, Field: field, Target: e.Name, Key: field, Reverse: true}
		case KindMany:
			fwd = Accessor{
				Name: field, Kind: AccessMany, Field: field, Target: rel.To,
				Through: rel.Through, FromField: rel.ThroughFields[0], ToField: rel.ThroughFields[1],
			}
			rev = Accessor{
				Kind: AccessMany, Field: field, Target: e.Name,
				Through: rel.Through, FromField: rel.ThroughFields[1], ToField: rel.ThroughFields[0],
				Reverse: true,
			}
		}

		if err := install(e, e.Name, field, fwd); err != nil {
			return err
		}
		if e.derived {
			continue
		}
		rev.Name = rel.RelatedName
		if rev.Name == "" {
			rev.Name = defaultRelatedName(e.Name, f.Kind())
		}
		if err := install(target, e.Name, field, rev); err != nil {
			return err
		}
	}
	return nil
}

func install(on *Entity, owner, field string, a Accessor) error {
	if prev, taken := on.accessors[a.Name]; taken {
		return regErr(owner, field, types.ErrAccessorConflict,
			"%s.%s is already provided by field %s", on.Name, a.Name, prev.Field)
	}
	if _, declared := on.Fields[a.Name]; declared && (a.Reverse || a.Field != a.Name) {
		return regErr(owner, field, types.ErrAccessorConflict,
			"%s.%s is a declared field", on.Name, a.Name)
	}
	on.accessors[a.Name] = a
	return nil
}
