// Package sqlmirror projects a state tree into an in-memory SQLite database
// so it can be inspected with ad-hoc SQL.
//
// Every registered entity becomes one table named after the entity, with a
// column per stored field. Many-to-many fields have no column; their through
// entities are tables of their own. The mirror is built once from a state
// tree, is read-only afterwards and is never written back.
package sqlmirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Mirror is a read-only SQLite projection of one state tree.
type Mirror struct {
	db      *sql.DB
	columns map[string][]string
	order   []string
}

// Rows is the result of a mirror query. Values are int64, float64, string
// or nil; structured field values come back as their JSON text.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Build creates a mirror of state for the entities in registry. Branches of
// unregistered tables are ignored.
func Build(ctx context.Context, registry *schema.Registry, state types.State) (*Mirror, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	m := &Mirror{db: db, columns: map[string][]string{}}
	if err := m.load(ctx, registry, state); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("locking mirror: %w", err)
	}
	return m, nil
}

func (m *Mirror) load(ctx context.Context, registry *schema.Registry, state types.State) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range registry.Entities() {
		ts := state[e.Name]
		cols := columnsFor(e, ts)
		m.columns[e.Name] = cols
		m.order = append(m.order, e.Name)

		defs := make([]string, len(cols))
		for i, c := range cols {
			defs[i] = quote(c)
			if c == e.IDAttribute {
				defs[i] += " PRIMARY KEY"
			}
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quote(e.Name), strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", e.Name, err)
		}
		if ts.Len() == 0 {
			continue
		}

		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quote(c)
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(e.Name), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("preparing insert into %s: %w", e.Name, err)
		}
		for _, id := range ts.Items {
			rec := ts.Get(id)
			args := make([]any, len(cols))
			for i, c := range cols {
				if args[i], err = sqlValue(rec[c]); err != nil {
					stmt.Close()
					return fmt.Errorf("%s %v.%s: %w", e.Name, id, c, err)
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				stmt.Close()
				return fmt.Errorf("inserting %s %v: %w", e.Name, id, err)
			}
		}
		stmt.Close()
		slog.Debug("mirrored table", "table", e.Name, "rows", ts.Len())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// columnsFor returns the id attribute followed by every other stored field,
// declared or not, in name order. SQLite column names ignore case, so of
// names differing only in case the id attribute wins, then declared fields,
// then the first undeclared name in sort order; the rest are left out.
func columnsFor(e *schema.Entity, ts *types.TableState) []string {
	seen := map[string]string{strings.ToLower(e.IDAttribute): e.IDAttribute}
	var rest []string
	add := func(name string) {
		folded := strings.ToLower(name)
		if kept, ok := seen[folded]; ok {
			if kept != name {
				slog.Debug("skipping column differing only in case", "table", e.Name, "column", name, "kept", kept)
			}
			return
		}
		seen[folded] = name
		rest = append(rest, name)
	}
	for _, name := range e.FieldNames() {
		if f, _ := e.Field(name); f.Kind() != schema.KindMany {
			add(name)
		}
	}
	if ts != nil {
		extra := map[string]bool{}
		for _, rec := range ts.ItemsByID {
			for name := range rec {
				extra[name] = true
			}
		}
		names := make([]string, 0, len(extra))
		for name := range extra {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			add(name)
		}
	}
	sort.Strings(rest)
	return append([]string{e.IDAttribute}, rest...)
}

// sqlValue converts a stored field value to something the driver binds.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Tables returns the mirrored table names in registration order.
func (m *Mirror) Tables() []string {
	return slices.Clone(m.order)
}

// Columns returns the columns of the named table, or nil.
func (m *Mirror) Columns(table string) []string {
	return m.columns[table]
}

// Query runs a read-only statement. Statements that write fail because the
// connection is in query_only mode.
func (m *Mirror) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying mirror: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// Count returns the number of rows in the named table.
func (m *Mirror) Count(ctx context.Context, table string) (int, error) {
	if _, ok := m.columns[table]; !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrTableNotFound, table)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// Close releases the database.
func (m *Mirror) Close() error {
	return m.db.Close()
}
