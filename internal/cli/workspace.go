package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mesh-intelligence/pantry/internal/schemafile"
	"github.com/mesh-intelligence/pantry/internal/snapshot"
	"github.com/mesh-intelligence/pantry/pkg/orm"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// workspace is a loaded schema plus the state snapshot it applies to.
type workspace struct {
	orm       *orm.ORM
	state     types.State
	statePath string
	mutable   bool
}

// openWorkspace validates the config, registers the schema and loads the
// snapshot.
func (a *app) openWorkspace() (*workspace, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", a.dirs.ConfigFile(), err)
	}
	entities, err := schemafile.Load(a.cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	o := orm.New()
	if err := o.Register(entities...); err != nil {
		return nil, err
	}
	state, err := snapshot.Load(a.cfg.StatePath(), o.Database())
	if err != nil {
		return nil, err
	}
	return &workspace{orm: o, state: state, statePath: a.cfg.StatePath(), mutable: a.cfg.Mutable}, nil
}

// session opens a session over the loaded state.
func (w *workspace) session() *orm.Session {
	if w.mutable {
		return w.orm.MutableSession(w.state)
	}
	return w.orm.Session(w.state)
}

// read runs fn in a session without saving.
func (a *app) read(fn func(w *workspace, s *orm.Session) error) error {
	w, err := a.openWorkspace()
	if err != nil {
		return err
	}
	return fn(w, w.session())
}

// mutate runs fn in a session and saves the resulting state when fn
// succeeds. Nothing is saved on failure, so a command is all or nothing.
func (a *app) mutate(fn func(s *orm.Session) error) error {
	w, err := a.openWorkspace()
	if err != nil {
		return err
	}
	s := w.session()
	if err := fn(s); err != nil {
		return err
	}
	if err := snapshot.Save(w.statePath, s.State()); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	slog.Debug("state saved", "path", w.statePath, "batch", s.BatchToken())
	return nil
}

// parseID reads a command-line id: integers become int64, anything else
// stays a string.
func parseID(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// parseRef reads a JSON object argument.
func parseRef(arg string) (types.Ref, error) {
	r, err := types.DecodeRef([]byte(arg))
	if err != nil {
		return nil, usageErrorf("invalid JSON object %q: %v", arg, err)
	}
	return r, nil
}

// modelByID returns the record stored under the id argument.
func modelByID(s *orm.Session, entity, idArg string) (*orm.Model, error) {
	mt, err := s.Model(entity)
	if err != nil {
		return nil, err
	}
	m := mt.WithID(parseID(idArg))
	if m == nil {
		return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, entity, idArg)
	}
	return m, nil
}
