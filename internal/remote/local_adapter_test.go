package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/focusspace/internal/docstore"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

func TestLocalAdapterReadWrite(t *testing.T) {
	store := docstore.NewStore()
	t.Cleanup(store.Close)
	adapter := NewLocalAdapter(store, "ws_local")
	ctx := context.Background()

	_, ok, err := adapter.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	seed := workspace.Seed(testNow)
	require.NoError(t, adapter.Write(ctx, seed))
	got, ok, err := adapter.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, seed, got)
}

func TestLocalAdapterSubscription(t *testing.T) {
	store := docstore.NewStore()
	t.Cleanup(store.Close)
	adapter := NewLocalAdapter(store, "ws_local")

	sub, err := adapter.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventAbsent, nextEvent(t, sub).Kind)

	seed := workspace.Seed(testNow)
	require.NoError(t, adapter.Write(context.Background(), seed))
	ev := nextEvent(t, sub)
	require.Equal(t, EventSnapshot, ev.Kind)
	assert.Equal(t, seed, ev.Document)
	assert.Equal(t, int64(1), ev.Version)

	require.NoError(t, sub.Close())
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Zero(t, store.WatcherCount("ws_local"))
}

func TestLocalAdapterSubscriptionEndsWithStore(t *testing.T) {
	store := docstore.NewStore()
	adapter := NewLocalAdapter(store, "ws_local")

	sub, err := adapter.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventAbsent, nextEvent(t, sub).Kind)

	store.Close()
	_, open := <-sub.Events()
	assert.False(t, open)
	require.NoError(t, sub.Close())
}
