package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct{ id any }

func (f fakeModel) GetID() any { return f.id }

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    any
		wantErr error
	}{
		{name: "int", in: 3, want: int64(3)},
		{name: "uint8", in: uint8(7), want: int64(7)},
		{name: "integral float", in: 4.0, want: int64(4)},
		{name: "json number", in: json.Number("12"), want: int64(12)},
		{name: "string", in: "abc", want: "abc"},
		{name: "decomposed string is composed", in: "é", want: "é"},
		{name: "identifier", in: fakeModel{id: 9}, want: int64(9)},
		{name: "fractional float", in: 1.5, wantErr: ErrInvalidID},
		{name: "nil", in: nil, wantErr: ErrInvalidID},
		{name: "bool", in: true, wantErr: ErrInvalidID},
		{name: "huge uint", in: uint64(1 << 63), wantErr: ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeID(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIDKey(t *testing.T) {
	assert.Equal(t, "42", IDKey(int64(42)))
	assert.Equal(t, "x", IDKey("x"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, int64(1)))
	assert.True(t, Equal(2, 2.0))
	assert.False(t, Equal(2, "2"))
	assert.True(t, Equal("é", "é"))
	assert.True(t, Equal([]any{"a"}, []any{"a"}))
	assert.False(t, Equal(nil, 0))
	assert.True(t, Equal(nil, nil))
}

func TestEqualLargeIntegers(t *testing.T) {
	const big = int64(1) << 53
	assert.False(t, Equal(big, big+1))
	assert.True(t, Equal(big+1, big+1))
	assert.True(t, Equal(uint64(big+1), big+1))
	assert.False(t, Equal(uint64(math.MaxUint64), int64(-1)))
	assert.True(t, Equal(json.Number("9007199254740993"), big+1))
	assert.False(t, Equal(int64(math.MinInt64), int64(math.MaxInt64)))
}

func TestCompare(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"numbers", 1, 2.5, -1},
		{"equal numbers", int64(3), 3, 0},
		{"strings", "b", "a", 1},
		{"bools", false, true, -1},
		{"times", now, now.Add(time.Second), -1},
		{"nil sorts last", nil, 0, 1},
		{"value before nil", "a", nil, -1},
		{"both nil", nil, nil, 0},
		{"large ints", int64(1)<<53 + 1, int64(1) << 53, 1},
		{"large ints reversed", int64(1) << 53, int64(1)<<53 + 1, -1},
		{"negative ints", int64(-3), int64(-2), -1},
		{"min int", int64(math.MinInt64), int64(math.MinInt64) + 1, -1},
		{"uint above int64", uint64(math.MaxUint64), int64(math.MaxInt64), 1},
		{"negative before uint", int64(-1), uint64(0), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestParseOrder(t *testing.T) {
	for _, in := range []any{"asc", "ASC", true, nil, ""} {
		asc, err := ParseOrder(in)
		require.NoError(t, err, "%v", in)
		assert.True(t, asc, "%v", in)
	}
	for _, in := range []any{"desc", false} {
		asc, err := ParseOrder(in)
		require.NoError(t, err, "%v", in)
		assert.False(t, asc, "%v", in)
	}
	_, err := ParseOrder("sideways")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
