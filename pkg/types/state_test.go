package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableStateCloneIsIndependent(t *testing.T) {
	ts := NewTableState("", "", "author")
	maxID := int64(1)
	ts.Items = append(ts.Items, int64(0), int64(1))
	ts.ItemsByID["0"] = Ref{"id": int64(0), "author": int64(7)}
	ts.ItemsByID["1"] = Ref{"id": int64(1), "author": int64(7)}
	ts.Indexes["author"]["7"] = []any{int64(0), int64(1)}
	ts.Meta.MaxID = &maxID
	ts.Stamp("batch-1")

	c := ts.Clone()
	assert.Equal(t, "", c.BatchToken())

	c.Items = append(c.Items, int64(2))
	c.ItemsByID["2"] = Ref{"id": int64(2)}
	c.Indexes["author"]["7"] = append(c.Indexes["author"]["7"], int64(2))
	*c.Meta.MaxID = 2

	assert.Len(t, ts.Items, 2)
	assert.NotContains(t, ts.ItemsByID, "2")
	assert.Len(t, ts.Indexes["author"]["7"], 2)
	assert.Equal(t, int64(1), *ts.Meta.MaxID)
	assert.Equal(t, "batch-1", ts.BatchToken())
}

func TestTableStateJSONDefaultNames(t *testing.T) {
	ts := NewTableState("", "", "author")
	ts.Items = []any{int64(0)}
	ts.ItemsByID["0"] = Ref{"id": int64(0), "title": "Dune", "author": int64(1)}
	ts.Indexes["author"]["1"] = []any{int64(0)}
	maxID := int64(0)
	ts.Meta.MaxID = &maxID

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"items": [0],
		"itemsById": {"0": {"id": 0, "title": "Dune", "author": 1}},
		"meta": {"maxId": 0},
		"indexes": {"author": {"1": [0]}}
	}`, string(data))

	var back TableState
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []any{int64(0)}, back.Items)
	assert.Equal(t, int64(1), back.ItemsByID["0"]["author"])
	assert.Equal(t, []any{int64(0)}, back.Indexes["author"]["1"])
	require.NotNil(t, back.Meta.MaxID)
	assert.Equal(t, int64(0), *back.Meta.MaxID)
}

func TestTableStateJSONCustomNames(t *testing.T) {
	ts := NewTableState("ids", "byId")
	ts.Items = []any{"a"}
	ts.ItemsByID["a"] = Ref{"name": "a", "weight": 1.5}

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":["a"],"byId":{"a":{"name":"a","weight":1.5}},"meta":{"maxId":null},"indexes":{}}`, string(data))

	back := NewTableState("ids", "byId")
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, []any{"a"}, back.Items)
	assert.Equal(t, 1.5, back.ItemsByID["a"]["weight"])
	assert.Nil(t, back.Meta.MaxID)
	arr, m := back.StorageNames()
	assert.Equal(t, "ids", arr)
	assert.Equal(t, "byId", m)
}

func TestTableStateUnmarshalRejectsBadIDs(t *testing.T) {
	var ts TableState
	err := json.Unmarshal([]byte(`{"items":[1.5],"itemsById":{}}`), &ts)
	assert.True(t, errors.Is(err, ErrInvalidID))
}

func TestRowError(t *testing.T) {
	err := &RowError{Table: "Person", ID: "p3", Err: ErrOneToOneConflict}
	assert.ErrorIs(t, err, ErrOneToOneConflict)
	assert.Equal(t, "Person p3: one-to-one target already claimed", err.Error())

	res := UpdateResult{Status: Failure, Payload: err}
	assert.ErrorIs(t, res.Err(), ErrOneToOneConflict)
	assert.NoError(t, UpdateResult{Status: Success}.Err())
}

func TestQueryString(t *testing.T) {
	q := Query{Table: "Book", Clauses: []Clause{
		{Type: Filter, Payload: Lookup{"title": "X", "author": 1}},
		{Type: Exclude, Payload: Predicate(func(Ref) bool { return true })},
		{Type: OrderBy, Payload: Ordering{Iteratees: []SortIteratee{"title", "year"}, Orders: []any{"desc"}}},
	}}
	assert.Equal(t, "Book.filter({author: 1, title: X}).exclude(<func>).orderBy(title desc, year asc)", q.String())
}

func TestDecodeRef(t *testing.T) {
	r, err := DecodeRef([]byte(`{"id": 3, "score": 1.5, "tags": [1, "a"]}`))
	require.NoError(t, err)
	assert.Equal(t, Ref{"id": int64(3), "score": 1.5, "tags": []any{int64(1), "a"}}, r)

	_, err = DecodeRef([]byte(`[1]`))
	assert.Error(t, err)
	_, err = DecodeRef([]byte(`{`))
	assert.Error(t, err)
}
