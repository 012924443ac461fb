// Package jobs wires background maintenance tasks on the Asynq queue.
package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryIntegrity replays every item's movement log and compares
	// the result with the cached quantity summary.
	TaskInventoryIntegrity = "inventory:integrity"
	// TaskLowStockScan refreshes the cached low-stock alert snapshot.
	TaskLowStockScan = "inventory:low_stock"
)

// NewInventoryIntegrityTask constructs the integrity-scan task.
func NewInventoryIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskInventoryIntegrity, nil)
}

// NewLowStockScanTask constructs the low-stock scan task.
func NewLowStockScanTask() *asynq.Task {
	return asynq.NewTask(TaskLowStockScan, nil)
}
