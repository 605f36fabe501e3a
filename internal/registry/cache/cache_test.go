package cache

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyCache(t *testing.T) {
	ctx := context.Background()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	now := time.Now()
	backend := NewMemory().WithClock(func() time.Time { return now })

	calls := 0
	var loadErr error
	loaded := pub
	c, err := New(backend, time.Minute, func(context.Context, string, string) (ed25519.PublicKey, error) {
		calls++
		return loaded, loadErr
	})
	require.NoError(t, err)

	t.Run("miss loads then hit serves from cache", func(t *testing.T) {
		got, err := c.Get(ctx, "bpp", "k1")
		require.NoError(t, err)
		assert.Equal(t, pub, got)

		got, err = c.Get(ctx, "bpp", "k1")
		require.NoError(t, err)
		assert.Equal(t, pub, got)
		assert.Equal(t, 1, calls)
	})

	t.Run("expired entries are reloaded", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		_, err := c.Get(ctx, "bpp", "k1")
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("unknown keys are not cached", func(t *testing.T) {
		loaded = nil
		got, err := c.Refresh(ctx, "bpp", "k1")
		require.NoError(t, err)
		assert.Nil(t, got)

		_, ok, _ := backend.Load(ctx, cacheKey("bpp", "k1"))
		assert.False(t, ok)
	})

	t.Run("loader failures propagate", func(t *testing.T) {
		loadErr = errors.New("registry down")
		_, err := c.Get(ctx, "bpp", "k2")
		assert.ErrorIs(t, err, loadErr)
	})

	t.Run("constructor invariants", func(t *testing.T) {
		_, err := New(nil, time.Minute, func(context.Context, string, string) (ed25519.PublicKey, error) { return nil, nil })
		assert.Error(t, err)
		_, err = New(NewMemory(), time.Minute, nil)
		assert.Error(t, err)
	})
}
