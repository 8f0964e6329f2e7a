package db

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func libraryDatabase(t *testing.T) *Database {
	t.Helper()
	r := schema.NewRegistry()
	require.NoError(t, r.Register(
		schema.Entity{Name: "Author", ArrName: "ids", MapName: "byId", Fields: map[string]schema.Field{"name": schema.Attr()}},
		schema.Entity{Name: "Book", Fields: map[string]schema.Field{
			"title":    schema.Attr(),
			"authorId": schema.FKOpts(schema.RelationOpts{To: "Author", As: "author"}),
		}},
	))
	return NewDatabase(r)
}

func libraryState(t *testing.T, d *Database) types.State {
	t.Helper()
	state := d.GetEmptyState()
	state, _ = mustApply(t, d, state, create("Author", types.Ref{"name": "Ann"}), nil)
	state, _ = mustApply(t, d, state, create("Author", types.Ref{"name": "Bo"}), nil)
	state, _ = mustApply(t, d, state, create("Book", types.Ref{"title": "Dune", "author": 0}), nil)
	state, _ = mustApply(t, d, state, create("Book", types.Ref{"title": "Emma", "authorId": 1}), nil)
	return state
}

func TestEncodeStateGolden(t *testing.T) {
	d := libraryDatabase(t)
	data, err := EncodeState(libraryState(t, d))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "library_state", append(data, '\n'))
}

func TestDecodeStateRoundTrip(t *testing.T) {
	d := libraryDatabase(t)
	state := libraryState(t, d)
	data, err := EncodeState(state)
	require.NoError(t, err)

	decoded, err := d.DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, state["Author"].Items, decoded["Author"].Items)
	assert.Equal(t, state["Book"].ItemsByID, decoded["Book"].ItemsByID)
	assert.Equal(t, state["Book"].Indexes, decoded["Book"].Indexes)
	arr, m := decoded["Author"].StorageNames()
	assert.Equal(t, "ids", arr)
	assert.Equal(t, "byId", m)

	again, err := EncodeState(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestDecodeStateFillsGaps(t *testing.T) {
	d := libraryDatabase(t)
	decoded, err := d.DecodeState([]byte(`{
		"Book": {"items": [3], "itemsById": {"3": {"id": 3, "title": "Kim", "authorId": 1}}, "meta": {"maxId": 3}},
		"Legacy": {"items": ["a"], "itemsById": {"a": {"id": "a"}}, "meta": {"maxId": null}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 0, decoded["Author"].Len(), "registered entities always get a branch")
	assert.Equal(t, []any{int64(3)}, decoded["Book"].Indexes["authorId"]["1"], "missing index is rebuilt")
	assert.True(t, decoded["Legacy"].Has("a"))
	assert.Empty(t, d.Verify(decoded))

	_, err = d.DecodeState([]byte(`{"Book": {"items": [1.5]}}`))
	assert.ErrorIs(t, err, types.ErrInvalidID)

	_, err = d.DecodeState([]byte(`[]`))
	assert.Error(t, err)
}
