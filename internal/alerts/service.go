// Package alerts builds low-stock alert snapshots for the reporting layer.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rentiva/rentiva-crm/internal/inventory"
)

const snapshotKey = "alerts:low_stock"

// StockLister supplies items below the low-stock threshold.
type StockLister interface {
	ListLowStock(ctx context.Context, threshold int64) ([]inventory.Item, error)
}

// Alert is one low-stock entry with a display-ready message.
type Alert struct {
	ItemID    uuid.UUID `json:"item_id"`
	OutletID  uuid.UUID `json:"outlet_id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	Available int64     `json:"available"`
	Total     int64     `json:"total"`
	Message   string    `json:"message"`
}

// Snapshot is the cached result of one low-stock scan.
type Snapshot struct {
	Threshold   int64     `json:"threshold"`
	GeneratedAt time.Time `json:"generated_at"`
	Alerts      []Alert   `json:"alerts"`
}

// Service refreshes and serves the low-stock snapshot. Reads never hit the
// items table; they serve the cached scan result.
type Service struct {
	repo      StockLister
	redis     *redis.Client
	threshold int64
	ttl       time.Duration
	printer   *message.Printer
}

// NewService builds the alerts service.
func NewService(repo StockLister, redisClient *redis.Client, threshold int64, ttl time.Duration) *Service {
	return &Service{
		repo:      repo,
		redis:     redisClient,
		threshold: threshold,
		ttl:       ttl,
		printer:   message.NewPrinter(language.English),
	}
}

// Refresh scans the quantity summaries and caches a new snapshot.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	items, err := s.repo.ListLowStock(ctx, s.threshold)
	if err != nil {
		return Snapshot{}, fmt.Errorf("alerts: scan low stock: %w", err)
	}
	snapshot := Snapshot{
		Threshold:   s.threshold,
		GeneratedAt: time.Now().UTC(),
		Alerts:      make([]Alert, 0, len(items)),
	}
	for _, item := range items {
		snapshot.Alerts = append(snapshot.Alerts, Alert{
			ItemID:    item.ID,
			OutletID:  item.OutletID,
			Name:      item.Name,
			Unit:      item.Unit,
			Available: item.Quantities.Available,
			Total:     item.Quantities.Total,
			Message: s.printer.Sprintf("%s: %d of %d units available",
				item.Name, item.Quantities.Available, item.Quantities.Total),
		})
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.redis.Set(ctx, snapshotKey, data, s.ttl).Err(); err != nil {
		return Snapshot{}, fmt.Errorf("alerts: cache snapshot: %w", err)
	}
	return snapshot, nil
}

// Snapshot returns the cached snapshot, refreshing inline on a cache miss.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.Refresh(ctx)
		}
		return Snapshot{}, fmt.Errorf("alerts: read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}
