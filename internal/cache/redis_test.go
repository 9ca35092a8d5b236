package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*Deduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewDeduper(client, ttl), mr
}

func TestDeduper_MarkAndCheck(t *testing.T) {
	d, _ := newTestDeduper(t, time.Hour)
	ctx := context.Background()

	done, err := d.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, d.MarkProcessed(ctx, "msg-1"))
	require.NoError(t, d.MarkProcessed(ctx, "msg-1"))

	done, err = d.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = d.IsProcessed(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestDeduper_Expires(t *testing.T) {
	d, mr := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, d.MarkProcessed(ctx, "msg-1"))
	mr.FastForward(2 * time.Minute)

	done, err := d.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestDeduper_RedisDown(t *testing.T) {
	d, mr := newTestDeduper(t, time.Minute)
	mr.Close()

	_, err := d.IsProcessed(context.Background(), "msg-1")
	assert.Error(t, err)
	assert.Error(t, d.MarkProcessed(context.Background(), "msg-1"))
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), Config{Addr: addr})
	assert.Error(t, err)
}
