package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, "memory", "", PoolConfig{}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	lite, err := Open(ctx, "sqlite", ":memory:", PoolConfig{}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, lite)
	require.NoError(t, lite.Close())

	store, err := Open(ctx, "mysql", "not a dsn", PoolConfig{}, time.Second)
	assert.Error(t, err)
	assert.Nil(t, store)

	_, err = Open(ctx, "oracle", "", PoolConfig{}, time.Second)
	assert.ErrorContains(t, err, "unknown store driver")
}
