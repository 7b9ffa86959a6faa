package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hagw/pixie-gateway/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "hagw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestFaults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertFault(ctx, model.Fault{Kind: "geometry", Tag: "keys", Detail: "no real solution", CreatedAt: base}))
	require.NoError(t, s.InsertFault(ctx, model.Fault{Kind: "transport", Detail: "connection refused", CreatedAt: base.Add(100 * time.Millisecond)}))
	require.NoError(t, s.InsertFault(ctx, model.Fault{Kind: "data_integrity", Tag: "bag", Detail: "range missing", CreatedAt: base.Add(120 * time.Millisecond)}))

	recent, err := s.RecentFaults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "data_integrity", recent[0].Kind)
	assert.Equal(t, "transport", recent[1].Kind)
	assert.Empty(t, recent[1].Tag)

	all, err := s.AllFaults(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "keys", all[0].Tag)
	assert.True(t, all[0].CreatedAt.Equal(base))
}

func TestDeliveries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertDelivery(ctx, model.Delivery{ID: "a", Service: "phone/report", Method: "getitemlocations", Status: 0}))
	require.NoError(t, s.InsertDelivery(ctx, model.Delivery{ID: "b", Service: "phone/report", Method: "getrawitemlocations", Status: 1, Error: "no subscribers for topic"}))

	deliveries, err := s.RecentDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "b", deliveries[0].ID)
	assert.Equal(t, "no subscribers for topic", deliveries[0].Error)
	assert.Empty(t, deliveries[1].Error)

	assert.Error(t, s.InsertDelivery(ctx, model.Delivery{ID: "a", Service: "x", Method: "y"}))
}

func TestWipeData(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertFault(ctx, model.Fault{Kind: "geometry", Detail: "d"}))
	require.NoError(t, s.InsertDelivery(ctx, model.Delivery{ID: "a", Service: "s", Method: "m"}))
	require.NoError(t, s.WipeData(ctx))

	faults, err := s.RecentFaults(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, faults)

	deliveries, err := s.RecentDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}
