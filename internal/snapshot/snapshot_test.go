package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/orm"
	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func shelf(t *testing.T) (*orm.ORM, types.State) {
	t.Helper()
	o := orm.New()
	require.NoError(t, o.Register(
		schema.Entity{Name: "Author", Fields: map[string]schema.Field{"name": schema.Attr()}},
		schema.Entity{Name: "Book", ArrName: "ids", MapName: "byId", Fields: map[string]schema.Field{
			"title":    schema.Attr(),
			"authorId": schema.FK("Author", "books"),
		}},
	))
	s := o.Session(nil)
	_, err := s.MustModel("Author").Create(types.Ref{"name": "Herbert"})
	require.NoError(t, err)
	for _, title := range []string{"Dune", "Children of Dune"} {
		_, err := s.MustModel("Book").Create(types.Ref{"title": title, "authorId": 0})
		require.NoError(t, err)
	}
	return o, s.State()
}

func TestLoadMissingFileIsEmptyState(t *testing.T) {
	o, _ := shelf(t)
	state, err := Load(filepath.Join(t.TempDir(), "state.json"), o.Database())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := state["Book"].Len(); got != 0 {
		t.Errorf("expected empty Book branch, got %d records", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	o, state := shelf(t)
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, Save(path, state))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"byId"`)

	loaded, err := Load(path, o.Database())
	require.NoError(t, err)
	assert.Equal(t, state["Book"].Items, loaded["Book"].Items)
	assert.Equal(t, state["Book"].ItemsByID, loaded["Book"].ItemsByID)
	assert.Equal(t, state["Book"].Indexes, loaded["Book"].Indexes)
	assert.Empty(t, o.Database().Verify(loaded))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	o, _ := shelf(t)
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path, o.Database())
	assert.Error(t, err)
}

func TestExportImportJSONL(t *testing.T) {
	_, state := shelf(t)

	var buf bytes.Buffer
	require.NoError(t, ExportJSONL(&buf, state["Book"]))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"authorId":0,"id":0,"title":"Dune"}`, lines[0])

	records, skipped, err := ImportJSONL(strings.NewReader(buf.String() + "\nnot json\n[1,2]\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, records, 2)
	assert.Equal(t, types.Ref{"authorId": int64(0), "id": int64(1), "title": "Children of Dune"}, records[1])
}

func TestWriteReadJSONL(t *testing.T) {
	_, state := shelf(t)
	path := filepath.Join(t.TempDir(), "books.jsonl")

	require.NoError(t, WriteJSONL(path, state["Book"]))
	records, skipped, err := ReadJSONL(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Len(t, records, 2)

	_, _, err = ReadJSONL(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
