package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	now = now.Add(2 * time.Minute)
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	_, ok, _ = m.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	got, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type post struct {
		Slug string `json:"slug"`
	}
	require.NoError(t, SetJSON(ctx, m, "post", post{Slug: "hello"}, time.Minute))

	var got post
	ok, err := GetJSON(ctx, m, "post", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", got.Slug)

	ok, err = GetJSON(ctx, m, "none", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "bad", []byte("{"), 0))
	_, err = GetJSON(ctx, m, "bad", &got)
	assert.Error(t, err)
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-redis-url", "aethex:")
	assert.Error(t, err)
}
