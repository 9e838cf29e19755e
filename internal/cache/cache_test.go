package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet_LocalOnlyRoundTrip(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)
	v, ok := c.Get(ctx, "k1")
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)

	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestGet_ExpiredEntryIsEvicted(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), -time.Second)
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestInvalidateTag_RemovesAllTaggedKeys(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute, "tok:TOK")
	c.Set(ctx, "k2", []byte("v2"), time.Minute, "tok:TOK")
	c.Set(ctx, "k3", []byte("v3"), time.Minute, "tok:OTHER")

	c.InvalidateTag(ctx, "tok:TOK")

	_, ok1 := c.Get(ctx, "k1")
	_, ok2 := c.Get(ctx, "k2")
	v3, ok3 := c.Get(ctx, "k3")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
	assert.Equal(t, []byte("v3"), v3)
}

func TestClose_NilRemoteIsNoop(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
