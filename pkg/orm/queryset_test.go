package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// library registers Author, Book and Genre. Book carries an author foreign
// key exposed as "writer" with reverse accessor "books", and a genres
// many-to-many with reverse accessor "books".
func library(t *testing.T) *ORM {
	t.Helper()
	return newORM(t,
		schema.Entity{Name: "Author", Fields: map[string]schema.Field{"name": schema.Attr()}},
		schema.Entity{Name: "Genre", Fields: map[string]schema.Field{"label": schema.Attr()}},
		schema.Entity{Name: "Book", Fields: map[string]schema.Field{
			"title":    schema.Attr(),
			"year":     schema.AttrWithDefault(func() any { return int64(0) }),
			"authorId": schema.FKOpts(schema.RelationOpts{To: "Author", As: "writer", RelatedName: "books"}),
			"genres":   schema.Many("Genre", "books"),
		}},
	)
}

func seedLibrary(t *testing.T, s *Session) {
	t.Helper()
	authors, books := s.MustModel("Author"), s.MustModel("Book")
	mustCreate(t, authors, types.Ref{"name": "Herbert"})
	mustCreate(t, authors, types.Ref{"name": "Le Guin"})
	mustCreate(t, books, types.Ref{"title": "Dune", "year": 1965, "authorId": 0})
	mustCreate(t, books, types.Ref{"title": "Earthsea", "year": 1968, "authorId": 1})
	mustCreate(t, books, types.Ref{"title": "Dispossessed", "year": 1974, "authorId": 1})
	mustCreate(t, books, types.Ref{"title": "Anonymous"})
}

func titles(t *testing.T, qs *QuerySet) []any {
	t.Helper()
	models, err := qs.ToModelArray()
	require.NoError(t, err)
	out := make([]any, len(models))
	for i, m := range models {
		out[i] = m.Ref()["title"]
	}
	return out
}

func TestQuerySetChaining(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books := s.MustModel("Book")

	base := books.All()
	leGuin := base.Filter(types.Lookup{"writer": 1})
	assert.Equal(t, []any{"Earthsea", "Dispossessed"}, titles(t, leGuin))
	assert.Len(t, titles(t, base), 4, "Filter leaves the receiver unchanged")

	old := books.Filter(types.Predicate(func(r types.Ref) bool {
		return types.Compare(r["year"], 0) > 0 && types.Compare(r["year"], 1970) < 0
	}))
	assert.Equal(t, []any{"Dune", "Earthsea"}, titles(t, old))
	assert.Equal(t, []any{"Earthsea"}, titles(t, old.Exclude(types.Lookup{"title": "Dune"})))

	desc := books.OrderBy([]any{"year"}, "desc")
	assert.Equal(t, []any{"Dispossessed", "Earthsea", "Dune", "Anonymous"}, titles(t, desc))

	byAuthorThenTitle := books.Exclude(types.Lookup{"authorId": nil}).
		OrderBy([]any{"authorId", func(r types.Ref) any { return r["title"] }}, "desc", true)
	assert.Equal(t, []any{"Dispossessed", "Earthsea", "Dune"}, titles(t, byAuthorThenTitle))

	assert.Equal(t, `QuerySet Book.filter({writer: 1})`, leGuin.String())
}

func TestQuerySetCachesFirstEvaluation(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books := s.MustModel("Book")

	qs := books.All()
	n, err := qs.Count()
	require.NoError(t, err)
	require.Equal(t, 4, n)

	mustCreate(t, books, types.Ref{"title": "Later"})
	n, err = qs.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n, "cached rows are reused")

	n, err = qs.All().Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n, "a derived QuerySet re-evaluates")
}

func TestQuerySetTerminals(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books := s.MustModel("Book")

	first, err := books.First()
	require.NoError(t, err)
	assert.Equal(t, "Dune", first.Ref()["title"])
	last, err := books.Last()
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", last.Ref()["title"])

	none, err := books.At(10)
	require.NoError(t, err)
	assert.Nil(t, none)

	ok, err := books.Filter(types.Lookup{"title": "Missing"}).Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := books.All().IDs()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(1), int64(2), int64(3)}, ids)

	_, err = books.Filter(types.Lookup{"genres": 1}).Count()
	assert.ErrorIs(t, err, types.ErrInvalidFilter)
}

func TestQuerySetUpdate(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books := s.MustModel("Book")

	require.NoError(t, books.Filter(types.Lookup{"authorId": 1}).Update(types.Ref{"year": 2000}))
	assert.Equal(t, []any{"Earthsea", "Dispossessed"}, titles(t, books.Filter(types.Lookup{"year": 2000})))

	err := books.All().Update(types.Ref{"id": 99})
	assert.ErrorIs(t, err, types.ErrIDImmutable)
}

func TestSessionLeavesInputStateUntouched(t *testing.T) {
	o := library(t)
	seed := o.Session(nil)
	seedLibrary(t, seed)
	input := seed.State()
	snapshot := input.Clone()
	for name, ts := range input {
		snapshot[name] = ts.Clone()
	}

	s := o.Session(input)
	books := s.MustModel("Book")
	require.NoError(t, books.WithID(0).Update(types.Ref{"title": "Dune Messiah"}))
	require.NoError(t, books.Filter(types.Lookup{"authorId": 1}).Delete())
	mustCreate(t, books, types.Ref{"title": "New"})

	assert.Equal(t, snapshot, input)
	assert.Equal(t, 4, input["Book"].Len())
	assert.Equal(t, 3, s.GetDataForModel("Book").Len())
	assert.Equal(t, []any{"Dune Messiah", "Anonymous", "New"}, titles(t, books.All()))
}

func TestUpdateWithSameValuesKeepsBranch(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	branch := s.GetDataForModel("Book")

	require.NoError(t, s.MustModel("Book").WithID(0).Update(types.Ref{"title": "Dune"}))
	assert.Same(t, branch, s.GetDataForModel("Book"))
}

func TestModelTypeCreateValidation(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	books := s.MustModel("Book")
	before := s.State()

	_, err := books.Create(types.Ref{"year": 1990})
	assert.ErrorIs(t, err, types.ErrMissingField)

	_, err = books.Create(types.Ref{"title": "T", "authorId": 1.5})
	assert.ErrorIs(t, err, types.ErrUnresolvedReference)

	_, err = books.Create(types.Ref{"title": "T", "genres": []any{map[string]any{"label": "no id"}}})
	assert.ErrorIs(t, err, types.ErrUnresolvedReference)
	assert.Equal(t, before, s.State())

	b := mustCreate(t, books, types.Ref{"title": "T"})
	assert.Equal(t, int64(0), b.Ref()["year"], "default applied")

	_, err = books.Create(types.Ref{"id": b.GetID(), "title": "Again"})
	assert.ErrorIs(t, err, types.ErrDuplicateID)
}

func TestModelTypeGetAndUpsert(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books := s.MustModel("Book")

	dune, err := books.Get(types.Lookup{"title": "Dune"})
	require.NoError(t, err)
	require.NotNil(t, dune)
	assert.Equal(t, int64(0), dune.GetID())

	missing, err := books.Get(types.Lookup{"title": "Missing"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = books.Get(types.Lookup{"authorId": 1})
	assert.ErrorIs(t, err, types.ErrAmbiguous)

	_, err = books.Upsert(types.Ref{"title": "No id"})
	assert.ErrorIs(t, err, types.ErrMissingID)

	updated, err := books.Upsert(types.Ref{"id": 0, "year": 1966})
	require.NoError(t, err)
	assert.Equal(t, "Dune", updated.Ref()["title"])
	assert.EqualValues(t, 1966, updated.Ref()["year"])

	created, err := books.Upsert(types.Ref{"id": 40, "title": "Forty"})
	require.NoError(t, err)
	assert.True(t, books.IDExists(40))
	assert.Equal(t, "Forty", created.Ref()["title"])
}

func TestModelAccessors(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books, authors := s.MustModel("Book"), s.MustModel("Author")

	dune := books.WithID(0)
	writer, err := dune.Get("writer")
	require.NoError(t, err)
	assert.True(t, writer.(*Model).Equals(authors.WithID(0)))

	raw, err := dune.Get("title")
	require.NoError(t, err)
	assert.Equal(t, "Dune", raw)

	anon := books.WithID(3)
	nobody, err := anon.Get("writer")
	require.NoError(t, err)
	assert.Nil(t, nobody)

	_, err = dune.Get("publisher")
	assert.ErrorIs(t, err, types.ErrFieldNotFound)
	_, err = dune.Many("title")
	assert.ErrorIs(t, err, types.ErrNotRelationSet)

	assert.Equal(t, "Book: {authorId: 0, id: 0, title: Dune, year: 1965}", dune.String())
}

func TestReverseForeignKeySet(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books, authors := s.MustModel("Book"), s.MustModel("Author")

	herbert := authors.WithID(0)
	set, err := herbert.Many("books")
	require.NoError(t, err)

	require.NoError(t, set.Add(books.WithID(3)))
	assert.Equal(t, []any{"Dune", "Anonymous"}, titles(t, set.QuerySet))

	assert.ErrorIs(t, set.Add(99), types.ErrNotFound)
	assert.ErrorIs(t, set.Remove(1), types.ErrNotRelated)

	require.NoError(t, set.Remove(0))
	assert.Nil(t, books.WithID(0).Ref()["authorId"])

	require.NoError(t, set.Clear())
	n, err := set.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, books.WithID(3).Ref()["authorId"])
}

func TestManyToManySet(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	books, genres := s.MustModel("Book"), s.MustModel("Genre")
	scifi := mustCreate(t, genres, types.Ref{"label": "sf"})
	fantasy := mustCreate(t, genres, types.Ref{"label": "fantasy"})

	earthsea := books.WithID(1)
	set, err := earthsea.Many("genres")
	require.NoError(t, err)
	require.NoError(t, set.Add(scifi, fantasy.GetID()))

	ids, err := set.IDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{int64(0), int64(1)}, ids)

	reverse, err := scifi.Many("books")
	require.NoError(t, err)
	assert.Equal(t, []any{"Earthsea"}, titles(t, reverse.QuerySet))

	require.NoError(t, set.Remove(scifi))
	assert.Equal(t, 1, s.GetDataForModel("BookGenres").Len())
	assert.ErrorIs(t, set.Remove(scifi), types.ErrNotRelated)

	require.NoError(t, earthsea.Update(types.Ref{"genres": []any{scifi}}))
	ids, err = set.IDs()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0)}, ids)

	require.NoError(t, earthsea.Delete())
	assert.Zero(t, s.GetDataForModel("BookGenres").Len(), "implicit links go with the record")
}

func TestSessionAccessedModels(t *testing.T) {
	o := library(t)
	s := o.Session(nil)
	seedLibrary(t, s)
	fresh := o.Session(s.State())

	assert.Empty(t, fresh.AccessedModels())
	_, err := fresh.MustModel("Book").Count()
	require.NoError(t, err)
	set, err := fresh.MustModel("Book").WithID(0).Many("genres")
	require.NoError(t, err)
	_, err = set.Count()
	require.NoError(t, err)
	assert.Equal(t, []string{"Book", "BookGenres", "Genre"}, fresh.AccessedModels())

	_, err = fresh.Model("Publisher")
	assert.ErrorIs(t, err, types.ErrTableNotFound)
}
