package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/rentiva/rentiva-crm/internal/alerts"
)

// NewLowStockScanHandler builds the handler that refreshes the cached
// low-stock snapshot served by the alerts endpoint.
func NewLowStockScanHandler(svc *alerts.Service, jobMetrics *JobMetrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := jobMetrics.Track(TaskLowStockScan)
		snapshot, err := svc.Refresh(ctx)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("low stock scan finished",
			slog.Int("alerts", len(snapshot.Alerts)),
			slog.Int64("threshold", snapshot.Threshold))
		return tracker.End(nil)
	}
}
