package hashstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safechain/pkg/errors"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payload := []byte("incident footage bytes")
	addr, err := store.Put(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, ComputeAddress(payload), addr)

	got, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestMemoryStorePutIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payload := []byte("same bytes")
	first, err := store.Put(ctx, payload)
	require.NoError(t, err)
	second, err := store.Put(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), ComputeAddress([]byte("never stored")))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestMemoryStoreReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payload := []byte("original")
	addr, err := store.Put(ctx, payload)
	require.NoError(t, err)

	got, err := store.Get(ctx, addr)
	require.NoError(t, err)
	got[0] = 'X'

	again, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}
