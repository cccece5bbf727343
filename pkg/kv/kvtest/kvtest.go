// Package kvtest provides a shared conformance suite for kv.Store backends.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview/pkg/kv"
)

// Run exercises the kv.Store contract against the store returned by open.
// Each backend's package test calls this with its own constructor.
func Run(t *testing.T, open func(t *testing.T) kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get absent key", func(t *testing.T) {
		s := open(t)
		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set then get", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "session:abc", []byte(`{"stage":"BOOTSTRAP"}`), 0))

		raw, ok, err := s.Get(ctx, "session:abc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"stage":"BOOTSTRAP"}`, string(raw))
	})

	t.Run("last write wins", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "k", []byte("first"), 0))
		require.NoError(t, s.Set(ctx, "k", []byte("second"), 0))

		raw, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "second", string(raw))
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
		require.NoError(t, s.Delete(ctx, "k"))

		_, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting an absent key is not an error.
		require.NoError(t, s.Delete(ctx, "k"))
	})

	t.Run("list by prefix", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "session:a", []byte("1"), 0))
		require.NoError(t, s.Set(ctx, "session:b", []byte("2"), 0))
		require.NoError(t, s.Set(ctx, "formdata:a", []byte("3"), 0))

		keys, err := s.List(ctx, "session:")
		require.NoError(t, err)
		assert.Equal(t, []string{"session:a", "session:b"}, keys)

		keys, err = s.List(ctx, "subsession:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "short", []byte("v"), 50*time.Millisecond))
		require.NoError(t, s.Set(ctx, "long", []byte("v"), time.Hour))

		_, ok, err := s.Get(ctx, "short")
		require.NoError(t, err)
		assert.True(t, ok, "entry should still be live")

		time.Sleep(80 * time.Millisecond)

		_, ok, err = s.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok, "entry should have expired")

		_, ok, err = s.Get(ctx, "long")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("json round trip", func(t *testing.T) {
		s := open(t)
		type payload struct {
			Stage string `json:"stage"`
			Index int    `json:"index"`
		}
		require.NoError(t, kv.SetJSON(ctx, s, "session:x", payload{Stage: "INTERVIEW_LOOP", Index: 2}, 0))

		got, ok, err := kv.GetJSON[payload](ctx, s, "session:x")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, payload{Stage: "INTERVIEW_LOOP", Index: 2}, got)
	})
}
