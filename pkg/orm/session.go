package orm

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/pantry/pkg/db"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Session is one unit of work over a state tree. Every write replaces the
// held tree before the next read, so reads observe earlier writes. A Session
// is not safe for concurrent use.
type Session struct {
	orm      *ORM
	state    types.State
	tx       *db.Transaction
	accessed []string
	models   map[string]*ModelType
}

// NewSession returns a session over state. An empty batchToken is replaced
// by a fresh UUID. A nil state starts from the ORM's empty state.
func NewSession(o *ORM, state types.State, mutable bool, batchToken string) *Session {
	if batchToken == "" {
		batchToken = uuid.NewString()
	}
	if state == nil {
		state = o.GetEmptyState()
	}
	slog.Debug("session opened", "batch", batchToken, "mutable", mutable)
	return &Session{
		orm:    o,
		state:  state,
		tx:     db.NewTransaction(batchToken, mutable),
		models: map[string]*ModelType{},
	}
}

// ORM returns the ORM the session was opened on.
func (s *Session) ORM() *ORM { return s.orm }

// State returns the current state tree.
func (s *Session) State() types.State { return s.state }

// BatchToken returns the token identifying this session's batch.
func (s *Session) BatchToken() string { return s.tx.BatchToken() }

// WithMutations reports whether the session writes branches in place.
func (s *Session) WithMutations() bool { return s.tx.WithMutations() }

// Model returns the session-bound ModelType of the named entity.
func (s *Session) Model(name string) (*ModelType, error) {
	if mt, ok := s.models[name]; ok {
		return mt, nil
	}
	e, err := s.orm.registry.Get(name)
	if err != nil {
		return nil, err
	}
	mt := &ModelType{session: s, entity: e}
	s.models[name] = mt
	return mt, nil
}

// MustModel is like Model but panics if the entity is not registered.
func (s *Session) MustModel(name string) *ModelType {
	mt, err := s.Model(name)
	if err != nil {
		panic(err)
	}
	return mt
}

// Query evaluates spec against the current state and marks the table as
// accessed.
func (s *Session) Query(spec types.QuerySpec) (types.QueryResult, error) {
	s.MarkAccessed(spec.Query.Table)
	return s.orm.database.Query(s.state, spec)
}

// ApplyUpdate applies spec and keeps the resulting state, including the rows
// committed before a failure. It returns the result payload, or an error
// wrapping the failure payload.
func (s *Session) ApplyUpdate(spec types.UpdateSpec) (any, error) {
	res := s.orm.database.Update(s.state, spec, s.tx)
	s.state = res.State
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", actionName(spec.Action), err)
	}
	return res.Payload, nil
}

func actionName(action string) string {
	switch action {
	case types.Create:
		return "create"
	case types.Update:
		return "update"
	case types.Delete:
		return "delete"
	}
	return action
}

// MarkAccessed records that the named table was read in this session.
func (s *Session) MarkAccessed(name string) {
	if !slices.Contains(s.accessed, name) {
		s.accessed = append(s.accessed, name)
	}
}

// AccessedModels returns the tables read so far, in first-access order.
func (s *Session) AccessedModels() []string {
	return slices.Clone(s.accessed)
}

// GetDataForModel returns the named table's current branch, or nil.
func (s *Session) GetDataForModel(name string) *types.TableState {
	return s.state[name]
}
