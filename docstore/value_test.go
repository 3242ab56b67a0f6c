package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	ts := time.Unix(0, 1234)
	type handle string

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 3, int64(3)},
		{"uint32", uint32(7), int64(7)},
		{"float32", float32(0.5), 0.5},
		{"time", ts, int64(1234)},
		{"strings", []string{"a", "b"}, []any{"a", "b"}},
		{"typed slice", []int{1, 2}, []any{int64(1), int64(2)}},
		{"nested map", map[string]any{"a": map[string]int{"b": 1}}, map[string]any{"a": map[string]any{"b": int64(1)}}},
		{"named string", handle("x"), "x"},
		{"nil pointer", (*int)(nil), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Normalize(make(chan int))
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(nil, false))
	assert.Equal(t, -1, Compare(true, int64(0)))
	assert.Equal(t, 0, Compare(int64(2), 2.0))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare([]any{"a"}, []any{"a", "b"}))
	assert.True(t, Equal(map[string]any{"a": int64(1)}, map[string]any{"a": 1.0}))
	assert.False(t, Equal("1", int64(1)))
}

func TestFromStructAndDataTo(t *testing.T) {
	type profile struct {
		ID        string   `json:"id"`
		Followers []string `json:"followers"`
		CreatedAt int64    `json:"createdAt"`
	}
	in := profile{ID: "u1", Followers: []string{"u2"}, CreatedAt: 1700000000000000001}

	data, err := FromStruct(in)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000000001), data["createdAt"])

	var out profile
	require.NoError(t, Document{ID: "u1", Data: data}.DataTo(&out))
	assert.Equal(t, in, out)
}

func TestLookup(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": "c"}}
	v, ok := Lookup(data, "a.b")
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	_, ok = Lookup(data, "a.x")
	assert.False(t, ok)
	_, ok = Lookup(data, "a.b.c")
	assert.False(t, ok)
}

func TestNewIDSortsInIssueOrder(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		next := NewID()
		require.Less(t, prev, next)
		prev = next
	}
}
