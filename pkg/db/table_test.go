package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// newRegistry registers the library schema shared by the package tests.
// Book stores its author under authorId (read through "author"), claims a
// Cover one-to-one and has many Genres. Person uses manual string ids and a
// self one-to-one; Token uses uuid ids.
func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()
	require.NoError(t, r.Register(
		schema.Entity{Name: "Author", Fields: map[string]schema.Field{"name": schema.Attr()}},
		schema.Entity{Name: "Book", Fields: map[string]schema.Field{
			"title":    schema.Attr(),
			"year":     schema.Attr(),
			"authorId": schema.FKOpts(schema.RelationOpts{To: "Author", RelatedName: "books", As: "author"}),
			"coverId":  schema.OneToOneOpts(schema.RelationOpts{To: "Cover", As: "cover"}),
			"genres":   schema.Many("Genre", "books"),
		}},
		schema.Entity{Name: "Genre", Fields: map[string]schema.Field{"name": schema.Attr()}},
		schema.Entity{Name: "Cover", Fields: map[string]schema.Field{"src": schema.Attr()}},
		schema.Entity{
			Name:        "Person",
			IDAttribute: "uid",
			IDPolicy:    schema.IDManual,
			Fields:      map[string]schema.Field{"mentor": schema.OneToOneField("this", "mentee")},
		},
		schema.Entity{Name: "Token", IDPolicy: schema.IDUUID, Fields: map[string]schema.Field{"label": schema.Attr()}},
	))
	return r
}

func bookTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewDatabase(newRegistry(t)).Describe("Book")
	require.NoError(t, err)
	return tbl
}

func TestTableGetEmptyState(t *testing.T) {
	ts := bookTable(t).GetEmptyState()
	assert.Empty(t, ts.Items)
	assert.Empty(t, ts.ItemsByID)
	assert.Nil(t, ts.Meta.MaxID)
	assert.Equal(t, map[string]map[string][]any{"authorId": {}, "coverId": {}}, ts.Indexes)
}

func TestTableInsertAutoIncrement(t *testing.T) {
	tbl := bookTable(t)
	ts := tbl.GetEmptyState()

	first, err := tbl.Insert(ts, types.Ref{"title": "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), first["id"])

	second, err := tbl.Insert(ts, types.Ref{"title": "B", "id": 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), second["id"])

	third, err := tbl.Insert(ts, types.Ref{"title": "C"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), third["id"])

	require.NoError(t, tbl.Delete(ts, int64(11)))
	fourth, err := tbl.Insert(ts, types.Ref{"title": "D"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), fourth["id"], "maxId never decreases")
	assert.Equal(t, []any{int64(0), int64(10), int64(12)}, ts.Items)
	assert.Empty(t, tbl.Verify(ts))
}

func TestTableInsertErrors(t *testing.T) {
	r := newRegistry(t)
	d := NewDatabase(r)

	books, _ := d.Describe("Book")
	ts := books.GetEmptyState()
	_, err := books.Insert(ts, types.Ref{"id": 1, "title": "A"})
	require.NoError(t, err)

	_, err = books.Insert(ts, types.Ref{"id": int64(1), "title": "again"})
	assert.ErrorIs(t, err, types.ErrDuplicateID)

	_, err = books.Insert(ts, types.Ref{"id": 1.5})
	assert.ErrorIs(t, err, types.ErrInvalidID)

	_, err = books.Insert(ts, types.Ref{"authorId": []int{1}})
	assert.ErrorIs(t, err, types.ErrInvalidID)
	assert.Equal(t, 1, ts.Len(), "failed inserts leave the branch alone")

	people, _ := d.Describe("Person")
	_, err = people.Insert(people.GetEmptyState(), types.Ref{"mentor": "p1"})
	assert.ErrorIs(t, err, types.ErrMissingID)
}

func TestTableInsertUUID(t *testing.T) {
	tokens, err := NewDatabase(newRegistry(t)).Describe("Token")
	require.NoError(t, err)
	ts := tokens.GetEmptyState()

	a, err := tokens.Insert(ts, types.Ref{"label": "a"})
	require.NoError(t, err)
	b, err := tokens.Insert(ts, types.Ref{"label": "b"})
	require.NoError(t, err)

	assert.IsType(t, "", a["id"])
	assert.Len(t, a["id"], 36)
	assert.NotEqual(t, a["id"], b["id"])
	assert.Nil(t, ts.Meta.MaxID)
}

func TestTableUpdateMovesIndexEntries(t *testing.T) {
	tbl := bookTable(t)
	ts := tbl.GetEmptyState()
	_, err := tbl.Insert(ts, types.Ref{"title": "A", "authorId": 1})
	require.NoError(t, err)
	_, err = tbl.Insert(ts, types.Ref{"title": "B", "authorId": 1})
	require.NoError(t, err)

	before := ts.Indexes["authorId"]["1"]
	ref, err := tbl.Update(ts, 0, types.Ref{"authorId": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ref["authorId"])

	assert.Equal(t, []any{int64(1)}, ts.Indexes["authorId"]["1"])
	assert.Equal(t, []any{int64(0)}, ts.Indexes["authorId"]["2"])
	assert.Equal(t, []any{int64(0), int64(1)}, before, "old bucket slice is not written through")

	_, err = tbl.Update(ts, 1, types.Ref{"authorId": nil})
	require.NoError(t, err)
	_, ok := ts.Indexes["authorId"]["1"]
	assert.False(t, ok, "empty buckets are dropped")
	assert.Empty(t, tbl.Verify(ts))
}

func TestTableUpdateNoOpAndErrors(t *testing.T) {
	tbl := bookTable(t)
	ts := tbl.GetEmptyState()
	stored, err := tbl.Insert(ts, types.Ref{"title": "A", "year": 2001})
	require.NoError(t, err)

	assert.False(t, tbl.ShouldUpdate(stored, types.Ref{"title": "A", "year": 2001.0}))
	assert.True(t, tbl.ShouldUpdate(stored, types.Ref{"subtitle": nil}))

	same, err := tbl.Update(ts, 0, types.Ref{"title": "A", "id": 0})
	require.NoError(t, err)
	assert.Equal(t, stored, same)

	_, err = tbl.Update(ts, 0, types.Ref{"id": 5})
	assert.ErrorIs(t, err, types.ErrIDImmutable)

	_, err = tbl.Update(ts, 9, types.Ref{"title": "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.ErrorIs(t, tbl.Delete(ts, 9), types.ErrNotFound)
}

func TestTableUpdateLargeIntegers(t *testing.T) {
	const big = int64(1) << 53
	tbl := bookTable(t)
	ts := tbl.GetEmptyState()
	_, err := tbl.Insert(ts, types.Ref{"title": "A", "year": big})
	require.NoError(t, err)

	assert.True(t, tbl.ShouldUpdate(ts.Get(int64(0)), types.Ref{"year": big + 1}))
	updated, err := tbl.Update(ts, 0, types.Ref{"year": big + 1})
	require.NoError(t, err)
	assert.Equal(t, big+1, updated["year"])
	assert.Equal(t, big+1, ts.Get(int64(0))["year"])

	filter := func(v any) []types.Ref {
		rows, err := tbl.Query(ts, []types.Clause{{Type: types.Filter, Payload: types.Lookup{"year": v}}})
		require.NoError(t, err)
		return rows
	}
	assert.Len(t, filter(big+1), 1)
	assert.Empty(t, filter(big))
}

func TestTableUpdateDoesNotMutateStoredRef(t *testing.T) {
	tbl := bookTable(t)
	ts := tbl.GetEmptyState()
	stored, err := tbl.Insert(ts, types.Ref{"title": "A"})
	require.NoError(t, err)

	_, err = tbl.Update(ts, 0, types.Ref{"title": "B"})
	require.NoError(t, err)
	assert.Equal(t, "A", stored["title"])
	assert.Equal(t, "B", ts.Get(int64(0))["title"])
}

func TestTableDeleteRemovesEverywhere(t *testing.T) {
	tbl := bookTable(t)
	ts := tbl.GetEmptyState()
	for _, title := range []string{"A", "B", "C"} {
		_, err := tbl.Insert(ts, types.Ref{"title": title, "authorId": 7, "coverId": title})
		require.NoError(t, err)
	}

	require.NoError(t, tbl.Delete(ts, 1))
	assert.Equal(t, []any{int64(0), int64(2)}, ts.Items)
	assert.False(t, ts.Has(int64(1)))
	assert.Equal(t, []any{int64(0), int64(2)}, ts.Indexes["authorId"]["7"])
	_, ok := ts.Indexes["coverId"]["B"]
	assert.False(t, ok)
	assert.Empty(t, tbl.Verify(ts))
}

func TestTableVerifyReportsCorruption(t *testing.T) {
	tbl := bookTable(t)
	ts := tbl.GetEmptyState()
	_, err := tbl.Insert(ts, types.Ref{"title": "A", "authorId": 1})
	require.NoError(t, err)

	ts.Items = append(ts.Items, int64(0), int64(4))
	ts.Indexes["authorId"]["3"] = []any{int64(0)}

	errs := tbl.Verify(ts)
	assert.Len(t, errs, 3)
}
