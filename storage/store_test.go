package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]ReservationStore {
	t.Helper()
	bs, err := NewBadgerStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	ms := NewMemoryStore()
	t.Cleanup(func() {
		_ = bs.Close()
		_ = ms.Close()
	})
	return map[string]ReservationStore{"memory": ms, "badger": bs}
}

func TestReserveLookupRelease(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Reserve(ctx, "video/t1", "w1", time.Minute))

			r, ok, err := s.Lookup(ctx, "video/t1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "w1", r.Worker)
			assert.WithinDuration(t, time.Now().Add(time.Minute), r.ExpiresAt, 5*time.Second)

			require.NoError(t, s.Release(ctx, "video/t1"))
			_, ok, err = s.Lookup(ctx, "video/t1")
			require.NoError(t, err)
			assert.False(t, ok)

			// releasing twice is fine
			assert.NoError(t, s.Release(ctx, "video/t1"))
		})
	}
}

func TestReservationExpires(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Reserve(ctx, "audio/t2", "w2", 50*time.Millisecond))
			time.Sleep(100 * time.Millisecond)

			_, ok, err := s.Lookup(ctx, "audio/t2")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Reserve(ctx, "video/a", "w1", time.Minute))
			require.NoError(t, s.Reserve(ctx, "video/b", "w2", 0))
			require.NoError(t, s.Reserve(ctx, "audio/a", "w3", time.Minute))

			got, err := s.List(ctx, "video/")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "w1", got["video/a"].Worker)
			assert.Equal(t, "w2", got["video/b"].Worker)
			assert.True(t, got["video/b"].ExpiresAt.IsZero())
		})
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Reserve(context.Background(), "k", "w", time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
