package inventory

import (
	"time"

	"github.com/google/uuid"
)

type createItemRequest struct {
	OutletID   string `json:"outlet_id" validate:"required,uuid"`
	Name       string `json:"name" validate:"required,max=120"`
	Category   string `json:"category" validate:"max=80"`
	Unit       string `json:"unit" validate:"max=20"`
	InitialQty int64  `json:"initial_qty" validate:"gte=0"`
	Notes      string `json:"notes" validate:"max=500"`
}

type stockInRequest struct {
	Qty   int64  `json:"qty" validate:"required,gt=0"`
	Notes string `json:"notes" validate:"max=500"`
}

type allocateRequest struct {
	Qty           int64  `json:"qty" validate:"required,gt=0"`
	ReferenceType string `json:"reference_type" validate:"required,oneof=subscription event"`
	ReferenceID   string `json:"reference_id" validate:"required,uuid"`
	Notes         string `json:"notes" validate:"max=500"`
}

type resolveRequest struct {
	Qty           int64  `json:"qty" validate:"required,gt=0"`
	ReferenceType string `json:"reference_type" validate:"required,oneof=subscription event"`
	ReferenceID   string `json:"reference_id" validate:"required,uuid"`
	Notes         string `json:"notes" validate:"max=500"`
}

type adjustRequest struct {
	Delta int64  `json:"delta" validate:"required"`
	Notes string `json:"notes" validate:"required,max=500"`
}

// allocationResponse carries the server-computed outstanding quantity; the UI
// only ever displays this value.
type allocationResponse struct {
	ID            uuid.UUID     `json:"id"`
	ItemID        uuid.UUID     `json:"item_id"`
	OutletID      uuid.UUID     `json:"outlet_id"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   uuid.UUID     `json:"reference_id"`
	AllocatedQty  int64         `json:"allocated_qty"`
	ResolvedQty   int64         `json:"resolved_qty"`
	Outstanding   int64         `json:"outstanding_quantity"`
	Active        bool          `json:"active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func newAllocationResponse(a Allocation) allocationResponse {
	return allocationResponse{
		ID:            a.ID,
		ItemID:        a.ItemID,
		OutletID:      a.OutletID,
		ReferenceType: a.ReferenceType,
		ReferenceID:   a.ReferenceID,
		AllocatedQty:  a.AllocatedQty,
		ResolvedQty:   a.ResolvedQty,
		Outstanding:   a.Outstanding(),
		Active:        a.Active,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type outstandingResponse struct {
	ItemID        uuid.UUID     `json:"item_id"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   uuid.UUID     `json:"reference_id"`
	Outstanding   int64         `json:"outstanding_quantity"`
}

type movementListResponse struct {
	Movements []Movement `json:"movements"`
}

type itemListResponse struct {
	Items []Item `json:"items"`
}

type allocationListResponse struct {
	Allocations []allocationResponse `json:"allocations"`
}
