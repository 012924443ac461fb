package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rentiva/rentiva-crm/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, itemID uuid.UUID) (Item, error)
	ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetAllocation(ctx context.Context, itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) (Allocation, error)
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MovementRecorder receives a signal for every committed movement, used for
// metrics.
type MovementRecorder interface {
	MovementPosted(movementType string)
}

// Service is the allocation manager: the only entry point through which
// movements are created. Every mutating call runs as one transaction that
// locks the item row, validates against current quantities, appends the
// movement and updates the cached summary and allocation state.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     MovementRecorder
}

// NewService builds Service. audit, idem and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics MovementRecorder) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics}
}

// CreateItem registers a new item. A positive initial quantity is recorded as
// an opening stock_in movement inside the same transaction.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return Item{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return Item{}, fmt.Errorf("%w: item name required", ErrValidation)
	}
	if input.OutletID == uuid.Nil {
		return Item{}, fmt.Errorf("%w: outlet required", ErrValidation)
	}
	if input.InitialQty < 0 {
		return Item{}, fmt.Errorf("%w: initial quantity must not be negative", ErrValidation)
	}
	item := Item{
		ID:       uuid.New(),
		OutletID: input.OutletID,
		Name:     strings.TrimSpace(input.Name),
		Category: input.Category,
		Unit:     input.Unit,
		Active:   true,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		if input.InitialQty == 0 {
			return nil
		}
		q, err := item.Quantities.Apply(MovementStockIn, input.InitialQty)
		if err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			ItemID:        item.ID,
			OutletID:      item.OutletID,
			Type:          MovementStockIn,
			Quantity:      input.InitialQty,
			ReferenceType: ReferenceManual,
			Notes:         input.Notes,
			CreatedBy:     actor.ID,
			CreatedAt:     time.Now().UTC(),
		}); err != nil {
			return err
		}
		item.Quantities = q
		return tx.UpdateItemQuantities(ctx, item.ID, q)
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actor, "inventory:item_created", item.ID, map[string]any{
		"name":        item.Name,
		"outlet_id":   item.OutletID,
		"initial_qty": input.InitialQty,
	})
	return item, nil
}

// DeactivateItem soft-deactivates an item. Movements keep referencing it and
// history stays queryable; new movements are rejected.
func (s *Service) DeactivateItem(ctx context.Context, itemID uuid.UUID) error {
	return s.setItemActive(ctx, itemID, false, "inventory:item_deactivated")
}

// ReactivateItem re-enables a deactivated item.
func (s *Service) ReactivateItem(ctx context.Context, itemID uuid.UUID) error {
	return s.setItemActive(ctx, itemID, true, "inventory:item_reactivated")
}

func (s *Service) setItemActive(ctx context.Context, itemID uuid.UUID, active bool, action string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItemForUpdate(ctx, itemID); err != nil {
			return err
		}
		return tx.SetItemActive(ctx, itemID, active)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, action, itemID, nil)
	return nil
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, itemID uuid.UUID) (Item, error) {
	return s.repo.GetItem(ctx, itemID)
}

// ListItems lists items.
func (s *Service) ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error) {
	return s.repo.ListItems(ctx, filter)
}

// ListMovements exposes the movement history for audit views.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ItemID == uuid.Nil {
		return nil, fmt.Errorf("%w: item required", ErrValidation)
	}
	return s.repo.ListMovements(ctx, filter)
}

// ListAllocations exposes allocation state for reporting.
func (s *Service) ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error) {
	return s.repo.ListAllocations(ctx, filter)
}

// ProjectQuantities answers the current quantity state of an item from the
// cached summary, which is updated transactionally with every movement and is
// therefore never stale relative to committed movements.
func (s *Service) ProjectQuantities(ctx context.Context, itemID uuid.UUID) (Quantities, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return Quantities{}, err
	}
	return item.Quantities, nil
}

// RecomputeQuantities folds the full movement log of an item into quantity
// totals. The integrity job compares this against ProjectQuantities to detect
// summary drift.
func (s *Service) RecomputeQuantities(ctx context.Context, itemID uuid.UUID) (Quantities, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return Quantities{}, err
	}
	movements, err := s.repo.ListMovements(ctx, MovementFilter{ItemID: itemID, Limit: 100000})
	if err != nil {
		return Quantities{}, err
	}
	var q Quantities
	for _, m := range movements {
		q, err = q.Apply(m.Type, m.Quantity)
		if err != nil {
			return Quantities{}, fmt.Errorf("replay movement %s: %w", m.ID, err)
		}
	}
	return q, nil
}

// Outstanding is the single source of truth for how much of an allocation
// remains unresolved. Callers must never derive this themselves.
func (s *Service) Outstanding(ctx context.Context, itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) (int64, error) {
	if !refType.Valid() {
		return 0, fmt.Errorf("%w: unknown reference type %q", ErrValidation, refType)
	}
	alloc, err := s.repo.GetAllocation(ctx, itemID, refType, refID)
	if err != nil {
		if errors.Is(err, ErrAllocationNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return alloc.Outstanding(), nil
}

// StockIn adds units to the pool (replenishment).
func (s *Service) StockIn(ctx context.Context, input StockInInput) (Movement, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return Movement{}, err
	}
	if input.Qty <= 0 {
		return Movement{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	var movement Movement
	err = s.postMovement(ctx, input.IdempotencyKey, func(ctx context.Context, tx TxRepository) error {
		item, err := lockActiveItem(ctx, tx, input.ItemID)
		if err != nil {
			return err
		}
		q, err := item.Quantities.Apply(MovementStockIn, input.Qty)
		if err != nil {
			return err
		}
		movement = Movement{
			ItemID:        item.ID,
			OutletID:      item.OutletID,
			Type:          MovementStockIn,
			Quantity:      input.Qty,
			ReferenceType: ReferenceManual,
			Notes:         input.Notes,
			CreatedBy:     actor.ID,
			CreatedAt:     time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return tx.UpdateItemQuantities(ctx, item.ID, q)
	})
	if err != nil {
		return Movement{}, err
	}
	s.afterCommit(ctx, actor, movement, nil)
	return movement, nil
}

// Allocate claims units for a subscription or event. Available stock is
// checked with the item row locked, so two concurrent allocations cannot both
// succeed on the last unit.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (Allocation, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return Allocation{}, err
	}
	if input.Qty <= 0 {
		return Allocation{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if err := validateReference(input.ReferenceType, input.ReferenceID); err != nil {
		return Allocation{}, err
	}
	var (
		movement Movement
		alloc    Allocation
	)
	err = s.postMovement(ctx, input.IdempotencyKey, func(ctx context.Context, tx TxRepository) error {
		item, err := lockActiveItem(ctx, tx, input.ItemID)
		if err != nil {
			return err
		}
		q, err := item.Quantities.Apply(MovementAllocation, input.Qty)
		if err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				return fmt.Errorf("%w: only %d units available, cannot allocate %d",
					ErrInsufficientStock, item.Quantities.Available, input.Qty)
			}
			return err
		}
		alloc, err = tx.GetAllocationForUpdate(ctx, item.ID, input.ReferenceType, input.ReferenceID)
		if errors.Is(err, ErrAllocationNotFound) {
			alloc = Allocation{
				ID:            uuid.New(),
				ItemID:        item.ID,
				OutletID:      item.OutletID,
				ReferenceType: input.ReferenceType,
				ReferenceID:   input.ReferenceID,
			}
		} else if err != nil {
			return err
		}
		alloc.AllocatedQty += input.Qty
		alloc.Active = true
		movement = Movement{
			ItemID:        item.ID,
			OutletID:      item.OutletID,
			Type:          MovementAllocation,
			Quantity:      input.Qty,
			ReferenceType: input.ReferenceType,
			ReferenceID:   &input.ReferenceID,
			Notes:         input.Notes,
			CreatedBy:     actor.ID,
			CreatedAt:     time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		if err := tx.UpsertAllocation(ctx, alloc); err != nil {
			return err
		}
		return tx.UpdateItemQuantities(ctx, item.ID, q)
	})
	if err != nil {
		return Allocation{}, err
	}
	s.afterCommit(ctx, actor, movement, &alloc)
	return alloc, nil
}

// Return releases allocated units back to the available pool.
func (s *Service) Return(ctx context.Context, input ResolveInput) (Allocation, error) {
	return s.resolve(ctx, MovementReturn, input)
}

// MarkDamage moves allocated units to the damaged pool. Notes are mandatory.
func (s *Service) MarkDamage(ctx context.Context, input ResolveInput) (Allocation, error) {
	return s.resolve(ctx, MovementDamage, input)
}

// MarkLoss moves allocated units to the lost pool. Notes are mandatory.
func (s *Service) MarkLoss(ctx context.Context, input ResolveInput) (Allocation, error) {
	return s.resolve(ctx, MovementLoss, input)
}

func (s *Service) resolve(ctx context.Context, movementType MovementType, input ResolveInput) (Allocation, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return Allocation{}, err
	}
	if input.Qty <= 0 {
		return Allocation{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if movementType.RequiresNotes() && strings.TrimSpace(input.Notes) == "" {
		return Allocation{}, fmt.Errorf("%w: notes are mandatory for %s", ErrValidation, movementType)
	}
	if err := validateReference(input.ReferenceType, input.ReferenceID); err != nil {
		return Allocation{}, err
	}
	var (
		movement Movement
		alloc    Allocation
	)
	err = s.postMovement(ctx, input.IdempotencyKey, func(ctx context.Context, tx TxRepository) error {
		item, err := lockActiveItem(ctx, tx, input.ItemID)
		if err != nil {
			return err
		}
		alloc, err = tx.GetAllocationForUpdate(ctx, item.ID, input.ReferenceType, input.ReferenceID)
		if err != nil {
			if errors.Is(err, ErrAllocationNotFound) {
				return fmt.Errorf("%w: no allocation for %s %s", ErrNotFound, input.ReferenceType, input.ReferenceID)
			}
			return err
		}
		if outstanding := alloc.Outstanding(); input.Qty > outstanding {
			return fmt.Errorf("%w: only %d units outstanding, cannot %s %d",
				ErrExceedsOutstanding, outstanding, verb(movementType), input.Qty)
		}
		q, err := item.Quantities.Apply(movementType, input.Qty)
		if err != nil {
			return err
		}
		alloc.ResolvedQty += input.Qty
		if alloc.Outstanding() == 0 {
			alloc.Active = false
		}
		movement = Movement{
			ItemID:        item.ID,
			OutletID:      item.OutletID,
			Type:          movementType,
			Quantity:      input.Qty,
			ReferenceType: input.ReferenceType,
			ReferenceID:   &input.ReferenceID,
			Notes:         input.Notes,
			CreatedBy:     actor.ID,
			CreatedAt:     time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		if err := tx.UpsertAllocation(ctx, alloc); err != nil {
			return err
		}
		return tx.UpdateItemQuantities(ctx, item.ID, q)
	})
	if err != nil {
		return Allocation{}, err
	}
	s.afterCommit(ctx, actor, movement, &alloc)
	return alloc, nil
}

// Adjust applies a privileged signed correction to total/available after a
// physical recount. It never touches allocations.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Quantities, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return Quantities{}, err
	}
	if !actor.Privileged() {
		return Quantities{}, fmt.Errorf("%w: adjustments require an elevated role", ErrPermissionDenied)
	}
	if input.Delta == 0 {
		return Quantities{}, fmt.Errorf("%w: adjustment delta must not be zero", ErrValidation)
	}
	if strings.TrimSpace(input.Notes) == "" {
		return Quantities{}, fmt.Errorf("%w: notes are mandatory for adjustments", ErrValidation)
	}
	var (
		movement Movement
		result   Quantities
	)
	err = s.postMovement(ctx, input.IdempotencyKey, func(ctx context.Context, tx TxRepository) error {
		item, err := lockActiveItem(ctx, tx, input.ItemID)
		if err != nil {
			return err
		}
		q, err := item.Quantities.Apply(MovementAdjustment, input.Delta)
		if err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				return fmt.Errorf("%w: only %d units available, cannot remove %d",
					ErrInsufficientStock, item.Quantities.Available, -input.Delta)
			}
			return err
		}
		movement = Movement{
			ItemID:        item.ID,
			OutletID:      item.OutletID,
			Type:          MovementAdjustment,
			Quantity:      input.Delta,
			ReferenceType: ReferenceManual,
			Notes:         input.Notes,
			CreatedBy:     actor.ID,
			CreatedAt:     time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		result = q
		return tx.UpdateItemQuantities(ctx, item.ID, q)
	})
	if err != nil {
		return Quantities{}, err
	}
	s.afterCommit(ctx, actor, movement, nil)
	return result, nil
}

// postMovement wraps a mutating transaction with idempotency-key handling.
// A failed transaction releases the key so the caller can retry.
func (s *Service) postMovement(ctx context.Context, idemKey string, fn func(context.Context, TxRepository) error) error {
	insertedKey := false
	if s.idempotency != nil && idemKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "inventory"); err != nil {
			return err
		}
		insertedKey = true
	}
	err := s.repo.WithTx(ctx, fn)
	if err != nil && insertedKey {
		_ = s.idempotency.Delete(ctx, idemKey)
	}
	return err
}

func (s *Service) afterCommit(ctx context.Context, actor shared.Actor, movement Movement, alloc *Allocation) {
	if s.metrics != nil {
		s.metrics.MovementPosted(string(movement.Type))
	}
	meta := map[string]any{
		"item_id":        movement.ItemID,
		"movement_type":  movement.Type,
		"quantity":       movement.Quantity,
		"reference_type": movement.ReferenceType,
	}
	if movement.ReferenceID != nil {
		meta["reference_id"] = *movement.ReferenceID
	}
	if alloc != nil {
		meta["outstanding"] = alloc.Outstanding()
	}
	s.recordAudit(ctx, actor, fmt.Sprintf("inventory:%s", movement.Type), movement.ItemID, meta)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "inventory_item",
		EntityID: entityID.String(),
		Meta:     meta,
	})
}

func lockActiveItem(ctx context.Context, tx TxRepository, itemID uuid.UUID) (Item, error) {
	if itemID == uuid.Nil {
		return Item{}, fmt.Errorf("%w: item required", ErrValidation)
	}
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	if !item.Active {
		return Item{}, fmt.Errorf("%w: item %s is deactivated", ErrValidation, item.Name)
	}
	return item, nil
}

// validateReference ensures allocate/return/damage/loss movements carry a
// real owning reference. Manual moves stock through stock_in and adjustment
// instead.
func validateReference(refType ReferenceType, refID uuid.UUID) error {
	if refType != ReferenceSubscription && refType != ReferenceEvent {
		return fmt.Errorf("%w: reference type must be subscription or event, got %q", ErrValidation, refType)
	}
	if refID == uuid.Nil {
		return fmt.Errorf("%w: reference id required", ErrValidation)
	}
	return nil
}

func verb(t MovementType) string {
	switch t {
	case MovementReturn:
		return "return"
	case MovementDamage:
		return "mark damaged"
	case MovementLoss:
		return "mark lost"
	}
	return string(t)
}

func requireActor(ctx context.Context) (shared.Actor, error) {
	actor := shared.ActorFromContext(ctx)
	if actor.ID == "" {
		return shared.Actor{}, fmt.Errorf("%w: caller identity missing", ErrValidation)
	}
	return actor, nil
}
