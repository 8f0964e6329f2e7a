package db

import (
	"reflect"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Writer applies a change to one table branch of a state tree and returns
// the resulting tree. The state passed in is never modified in a way its
// holder can observe; whether the result shares branches with it is up to
// the implementation.
//
// mutate receives a branch the writer owns. If mutate returns an error the
// writer returns the input state together with that error, so mutate must
// validate before it modifies anything.
type Writer interface {
	ApplyTableChange(state types.State, table *Table, mutate func(*types.TableState) error) (types.State, error)
}

// CopyingWriter copies the top-level map and the touched branch on every
// write. Every result is structurally new, which makes it safe to keep any
// earlier state around.
type CopyingWriter struct{}

// ApplyTableChange implements Writer.
func (CopyingWriter) ApplyTableChange(state types.State, table *Table, mutate func(*types.TableState) error) (types.State, error) {
	next := branchCopy(state, table)
	if err := mutate(next); err != nil {
		return state, err
	}
	out := state.Clone()
	out[table.Name()] = next
	return out, nil
}

// InPlaceWriter copies each branch the first time a batch writes to it,
// stamps the copy with the batch token and reuses it for every later write in
// the same batch. The top-level map is copied once per batch. The tree the
// batch started from is never touched.
type InPlaceWriter struct {
	token string
	owned types.State
}

// NewInPlaceWriter returns a writer for the batch identified by token.
func NewInPlaceWriter(token string) *InPlaceWriter {
	return &InPlaceWriter{token: token}
}

// BatchToken returns the token stamped on branches this writer owns.
func (w *InPlaceWriter) BatchToken() string { return w.token }

// ApplyTableChange implements Writer.
func (w *InPlaceWriter) ApplyTableChange(state types.State, table *Table, mutate func(*types.TableState) error) (types.State, error) {
	name := table.Name()
	branch := state[name]
	if branch != nil && branch.BatchToken() == w.token {
		if err := mutate(branch); err != nil {
			return state, err
		}
		return w.own(state, name, branch), nil
	}

	next := branchCopy(state, table)
	next.Stamp(w.token)
	if err := mutate(next); err != nil {
		return state, err
	}
	return w.own(state, name, next), nil
}

// own stores branch under name in a top-level map owned by the writer,
// copying state first unless the writer produced it.
func (w *InPlaceWriter) own(state types.State, name string, branch *types.TableState) types.State {
	if w.owned == nil || reflect.ValueOf(w.owned).Pointer() != reflect.ValueOf(state).Pointer() {
		w.owned = state.Clone()
	}
	w.owned[name] = branch
	return w.owned
}

func branchCopy(state types.State, table *Table) *types.TableState {
	if branch := state[table.Name()]; branch != nil {
		return branch.Clone()
	}
	return table.GetEmptyState()
}

// Transaction groups the writes of one unit of work. Mutable transactions
// write through an InPlaceWriter keyed by the batch token; the others copy
// on every write.
type Transaction struct {
	batchToken    string
	withMutations bool
	writer        Writer
}

// NewTransaction returns a transaction for the given batch. The token must
// be unique to the unit of work when withMutations is set.
func NewTransaction(batchToken string, withMutations bool) *Transaction {
	tx := &Transaction{batchToken: batchToken, withMutations: withMutations}
	if withMutations {
		tx.writer = NewInPlaceWriter(batchToken)
	} else {
		tx.writer = CopyingWriter{}
	}
	return tx
}

// BatchToken returns the batch token.
func (tx *Transaction) BatchToken() string { return tx.batchToken }

// WithMutations reports whether branches are reused within the batch.
func (tx *Transaction) WithMutations() bool { return tx.withMutations }

// Writer returns the writer all of the transaction's writes go through.
func (tx *Transaction) Writer() Writer { return tx.writer }
