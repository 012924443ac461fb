package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementStockIn represents stock entering the pool (initial stock or replenishment).
	MovementStockIn MovementType = "stock_in"
	// MovementAllocation claims units for a subscription or event.
	MovementAllocation MovementType = "allocation"
	// MovementReturn releases previously allocated units back to the pool.
	MovementReturn MovementType = "return"
	// MovementDamage removes allocated units to the damaged pool.
	MovementDamage MovementType = "damage"
	// MovementLoss removes allocated units to the lost pool.
	MovementLoss MovementType = "loss"
	// MovementAdjustment is a privileged manual recount correction.
	MovementAdjustment MovementType = "adjustment"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementStockIn, MovementAllocation, MovementReturn, MovementDamage, MovementLoss, MovementAdjustment:
		return true
	}
	return false
}

// RequiresNotes reports whether movements of this type must carry a note.
func (t MovementType) RequiresNotes() bool {
	return t == MovementDamage || t == MovementLoss || t == MovementAdjustment
}

// ReferenceType identifies the external entity an allocation is made for.
type ReferenceType string

const (
	// ReferenceSubscription ties a movement to a rental subscription.
	ReferenceSubscription ReferenceType = "subscription"
	// ReferenceEvent ties a movement to a one-off event booking.
	ReferenceEvent ReferenceType = "event"
	// ReferenceManual marks movements recorded without an owning entity.
	ReferenceManual ReferenceType = "manual"
)

// Valid reports whether t is a known reference type.
func (t ReferenceType) Valid() bool {
	switch t {
	case ReferenceSubscription, ReferenceEvent, ReferenceManual:
		return true
	}
	return false
}

// Quantities is the projected quantity state of one item.
type Quantities struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Allocated int64 `json:"allocated"`
	Damaged   int64 `json:"damaged"`
	Lost      int64 `json:"lost"`
}

// Consistent reports whether the pools add up to the total.
func (q Quantities) Consistent() bool {
	return q.Total == q.Available+q.Allocated+q.Damaged+q.Lost
}

// Apply folds one movement into the quantity state. It returns
// ErrInsufficientStock when an allocation exceeds the available pool and
// ErrExceedsOutstanding when a resolution exceeds the allocated pool, so a
// replay of the ledger enforces the same limits as the live write path.
func (q Quantities) Apply(t MovementType, qty int64) (Quantities, error) {
	switch t {
	case MovementStockIn:
		q.Total += qty
		q.Available += qty
	case MovementAdjustment:
		if q.Available+qty < 0 {
			return q, ErrInsufficientStock
		}
		q.Total += qty
		q.Available += qty
	case MovementAllocation:
		if q.Available < qty {
			return q, ErrInsufficientStock
		}
		q.Available -= qty
		q.Allocated += qty
	case MovementReturn:
		if q.Allocated < qty {
			return q, ErrExceedsOutstanding
		}
		q.Allocated -= qty
		q.Available += qty
	case MovementDamage:
		if q.Allocated < qty {
			return q, ErrExceedsOutstanding
		}
		q.Allocated -= qty
		q.Damaged += qty
	case MovementLoss:
		if q.Allocated < qty {
			return q, ErrExceedsOutstanding
		}
		q.Allocated -= qty
		q.Lost += qty
	default:
		return q, ErrValidation
	}
	return q, nil
}

// Item is a rentable inventory item with its cached quantity summary.
// Quantities mutate only through movements; the summary columns are updated
// in the same transaction as every appended movement.
type Item struct {
	ID         uuid.UUID  `json:"id"`
	OutletID   uuid.UUID  `json:"outlet_id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	Unit       string     `json:"unit"`
	Quantities Quantities `json:"quantities"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Movement is one immutable ledger entry. Once written it is never updated or
// deleted; corrections are new offsetting movements.
type Movement struct {
	ID            uuid.UUID     `json:"id"`
	ItemID        uuid.UUID     `json:"item_id"`
	OutletID      uuid.UUID     `json:"outlet_id"`
	Type          MovementType  `json:"type"`
	Quantity      int64         `json:"quantity"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   *uuid.UUID    `json:"reference_id,omitempty"`
	Notes         string        `json:"notes"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Allocation is the long-lived claim of units against one (item, reference)
// pair. AllocatedQty and ResolvedQty accumulate across movements; the row is
// never deleted so history stays queryable.
type Allocation struct {
	ID            uuid.UUID     `json:"id"`
	ItemID        uuid.UUID     `json:"item_id"`
	OutletID      uuid.UUID     `json:"outlet_id"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   uuid.UUID     `json:"reference_id"`
	AllocatedQty  int64         `json:"allocated_qty"`
	ResolvedQty   int64         `json:"resolved_qty"`
	Active        bool          `json:"active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Outstanding is the quantity still allocated and not yet returned, damaged
// or lost. Never negative.
func (a Allocation) Outstanding() int64 {
	return a.AllocatedQty - a.ResolvedQty
}

// CreateItemInput describes a new item. InitialQty > 0 records an opening
// stock_in movement in the same transaction.
type CreateItemInput struct {
	OutletID   uuid.UUID
	Name       string
	Category   string
	Unit       string
	InitialQty int64
	Notes      string
}

// StockInInput adds units to an item's pool.
type StockInInput struct {
	ItemID         uuid.UUID
	Qty            int64
	Notes          string
	IdempotencyKey string
}

// AllocateInput claims units for a reference.
type AllocateInput struct {
	ItemID         uuid.UUID
	Qty            int64
	ReferenceType  ReferenceType
	ReferenceID    uuid.UUID
	Notes          string
	IdempotencyKey string
}

// ResolveInput settles allocated units back to the pool (return) or out of it
// permanently (damage/loss).
type ResolveInput struct {
	ItemID         uuid.UUID
	Qty            int64
	ReferenceType  ReferenceType
	ReferenceID    uuid.UUID
	Notes          string
	IdempotencyKey string
}

// AdjustInput is a signed manual correction to total/available.
type AdjustInput struct {
	ItemID         uuid.UUID
	Delta          int64
	Notes          string
	IdempotencyKey string
}

// ListItemsFilter filters item listings.
type ListItemsFilter struct {
	OutletID   uuid.UUID
	ActiveOnly bool
	Limit      int
	Offset     int
}

// MovementFilter filters the movement history of one item.
type MovementFilter struct {
	ItemID uuid.UUID
	Types  []MovementType
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// AllocationFilter filters allocation listings.
type AllocationFilter struct {
	ItemID        uuid.UUID
	ReferenceType ReferenceType
	ReferenceID   uuid.UUID
	ActiveOnly    bool
	Limit         int
	Offset        int
}

// Sentinel errors returned by the service. Wrapped variants carry the
// user-displayable reason.
var (
	// ErrValidation indicates bad input: non-positive quantity, missing
	// mandatory notes, unknown movement or reference type, inactive item.
	ErrValidation = errors.New("inventory: validation failed")
	// ErrInsufficientStock indicates an allocation exceeding available units.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrExceedsOutstanding indicates a return/damage/loss exceeding the
	// outstanding quantity of the allocation.
	ErrExceedsOutstanding = errors.New("inventory: quantity exceeds outstanding")
	// ErrNotFound indicates an unknown item or allocation.
	ErrNotFound = errors.New("inventory: not found")
	// ErrConcurrencyConflict indicates the transaction lost a serialization
	// conflict. Safe to retry with the same inputs.
	ErrConcurrencyConflict = errors.New("inventory: concurrent update conflict")
	// ErrPermissionDenied indicates the actor lacks the role required for a
	// privileged operation.
	ErrPermissionDenied = errors.New("inventory: permission denied")
)
