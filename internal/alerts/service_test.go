package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rentiva/rentiva-crm/internal/inventory"
)

type stubLister struct {
	items []inventory.Item
	calls int
}

func (s *stubLister) ListLowStock(ctx context.Context, threshold int64) ([]inventory.Item, error) {
	s.calls++
	return s.items, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRefreshCachesSnapshot(t *testing.T) {
	lister := &stubLister{items: []inventory.Item{
		{
			ID:         uuid.New(),
			OutletID:   uuid.New(),
			Name:       "Folding Table",
			Unit:       "pcs",
			Quantities: inventory.Quantities{Total: 2000, Available: 3, Allocated: 1997},
		},
	}}
	svc := NewService(lister, newTestRedis(t), 5, time.Minute)
	ctx := context.Background()

	snapshot, err := svc.Refresh(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, snapshot.Threshold)
	require.Len(t, snapshot.Alerts, 1)
	require.Equal(t, "Folding Table: 3 of 2,000 units available", snapshot.Alerts[0].Message)

	// the cached copy is served without rescanning
	cached, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, snapshot.Alerts, cached.Alerts)
	require.Equal(t, 1, lister.calls)
}

func TestSnapshotRefreshesOnCacheMiss(t *testing.T) {
	lister := &stubLister{}
	svc := NewService(lister, newTestRedis(t), 5, time.Minute)

	snapshot, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, snapshot.Alerts)
	require.Equal(t, 1, lister.calls)
}
