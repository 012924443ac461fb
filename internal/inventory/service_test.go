package inventory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rentiva/rentiva-crm/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	items       map[uuid.UUID]Item
	movements   []Movement
	allocations map[string]Allocation
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:       make(map[uuid.UUID]Item),
		allocations: make(map[string]Allocation),
	}
}

func allocKey(itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", itemID, refType, refID)
}

// WithTx holds the repo mutex for the whole callback, serializing transactions
// the way row locks do in Postgres.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, itemID uuid.UUID) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	return item, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		if filter.ActiveOnly && !item.Active {
			continue
		}
		result = append(result, item)
	}
	return result, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context, threshold int64) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Item
	for _, item := range r.items {
		if item.Active && item.Quantities.Available <= threshold {
			result = append(result, item)
		}
	}
	return result, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Movement
	for _, m := range r.movements {
		if m.ItemID == filter.ItemID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *memoryRepo) GetAllocation(ctx context.Context, itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) (Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alloc, ok := r.allocations[allocKey(itemID, refType, refID)]
	if !ok {
		return Allocation{}, ErrAllocationNotFound
	}
	return alloc, nil
}

func (r *memoryRepo) ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Allocation
	for _, a := range r.allocations {
		if filter.ItemID != uuid.Nil && a.ItemID != filter.ItemID {
			continue
		}
		if filter.ReferenceType != "" && a.ReferenceType != filter.ReferenceType {
			continue
		}
		if filter.ReferenceID != uuid.Nil && a.ReferenceID != filter.ReferenceID {
			continue
		}
		if filter.ActiveOnly && !a.Active {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) error {
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	tx.repo.items[item.ID] = item
	return nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, itemID uuid.UUID) (Item, error) {
	item, ok := tx.repo.items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	return item, nil
}

func (tx *memoryTx) UpdateItemQuantities(ctx context.Context, itemID uuid.UUID, q Quantities) error {
	item := tx.repo.items[itemID]
	item.Quantities = q
	item.UpdatedAt = time.Now().UTC()
	tx.repo.items[itemID] = item
	return nil
}

func (tx *memoryTx) SetItemActive(ctx context.Context, itemID uuid.UUID, active bool) error {
	item := tx.repo.items[itemID]
	item.Active = active
	tx.repo.items[itemID] = item
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (uuid.UUID, error) {
	m.ID = uuid.New()
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) GetAllocationForUpdate(ctx context.Context, itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) (Allocation, error) {
	alloc, ok := tx.repo.allocations[allocKey(itemID, refType, refID)]
	if !ok {
		return Allocation{}, ErrAllocationNotFound
	}
	return alloc, nil
}

func (tx *memoryTx) UpsertAllocation(ctx context.Context, a Allocation) error {
	a.UpdatedAt = time.Now().UTC()
	tx.repo.allocations[allocKey(a.ItemID, a.ReferenceType, a.ReferenceID)] = a
	return nil
}

func staffCtx() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: "staff-1", Role: shared.RoleStaff})
}

func managerCtx() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: "manager-1", Role: shared.RoleManager})
}

func newTestItem(t *testing.T, svc *Service, initial int64) Item {
	t.Helper()
	item, err := svc.CreateItem(staffCtx(), CreateItemInput{
		OutletID:   uuid.New(),
		Name:       "PA Speaker",
		Category:   "audio",
		Unit:       "pcs",
		InitialQty: initial,
	})
	require.NoError(t, err)
	return item
}

func requireQuantities(t *testing.T, svc *Service, itemID uuid.UUID, want Quantities) {
	t.Helper()
	got, err := svc.ProjectQuantities(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, got.Consistent())
}

func TestAllocationLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 10)
	requireQuantities(t, svc, item.ID, Quantities{Total: 10, Available: 10})

	subID := uuid.New()
	alloc, err := svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 4, ReferenceType: ReferenceSubscription, ReferenceID: subID,
	})
	require.NoError(t, err)
	require.EqualValues(t, 4, alloc.Outstanding())
	require.True(t, alloc.Active)
	requireQuantities(t, svc, item.ID, Quantities{Total: 10, Available: 6, Allocated: 4})

	alloc, err = svc.Return(ctx, ResolveInput{
		ItemID: item.ID, Qty: 2, ReferenceType: ReferenceSubscription, ReferenceID: subID,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, alloc.Outstanding())
	require.True(t, alloc.Active)
	requireQuantities(t, svc, item.ID, Quantities{Total: 10, Available: 8, Allocated: 2})

	alloc, err = svc.MarkDamage(ctx, ResolveInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceSubscription, ReferenceID: subID,
		Notes: "cracked housing on pickup",
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, alloc.Outstanding())
	requireQuantities(t, svc, item.ID, Quantities{Total: 10, Available: 8, Allocated: 1, Damaged: 1})

	alloc, err = svc.MarkLoss(ctx, ResolveInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceSubscription, ReferenceID: subID,
		Notes: "never returned after event",
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, alloc.Outstanding())
	require.False(t, alloc.Active)
	requireQuantities(t, svc, item.ID, Quantities{Total: 10, Available: 8, Allocated: 0, Damaged: 1, Lost: 1})
}

func TestAllocateInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 3)
	before, err := svc.ProjectQuantities(ctx, item.ID)
	require.NoError(t, err)

	_, err = svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 5, ReferenceType: ReferenceEvent, ReferenceID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// a rejected allocation must leave no trace
	requireQuantities(t, svc, item.ID, before)
	movements, err := svc.ListMovements(ctx, MovementFilter{ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1) // only the opening stock_in

	// retrying the same rejected call stays rejected
	_, err = svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 5, ReferenceType: ReferenceEvent, ReferenceID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestResolveExceedsOutstanding(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 10)
	evtID := uuid.New()
	_, err := svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 3, ReferenceType: ReferenceEvent, ReferenceID: evtID,
	})
	require.NoError(t, err)

	_, err = svc.Return(ctx, ResolveInput{
		ItemID: item.ID, Qty: 4, ReferenceType: ReferenceEvent, ReferenceID: evtID,
	})
	require.ErrorIs(t, err, ErrExceedsOutstanding)

	_, err = svc.Return(ctx, ResolveInput{
		ItemID: item.ID, Qty: 3, ReferenceType: ReferenceEvent, ReferenceID: evtID,
	})
	require.NoError(t, err)

	// the allocation is settled; even one more unit is over
	_, err = svc.MarkLoss(ctx, ResolveInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceEvent, ReferenceID: evtID,
		Notes: "already settled",
	})
	require.ErrorIs(t, err, ErrExceedsOutstanding)
	requireQuantities(t, svc, item.ID, Quantities{Total: 10, Available: 10})
}

func TestResolveUnknownAllocation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 5)
	_, err := svc.Return(ctx, ResolveInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceSubscription, ReferenceID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNotesMandatory(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 5)
	subID := uuid.New()
	_, err := svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 2, ReferenceType: ReferenceSubscription, ReferenceID: subID,
	})
	require.NoError(t, err)

	_, err = svc.MarkDamage(ctx, ResolveInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceSubscription, ReferenceID: subID,
		Notes: "   ",
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.MarkLoss(ctx, ResolveInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceSubscription, ReferenceID: subID,
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Adjust(managerCtx(), AdjustInput{ItemID: item.ID, Delta: 1})
	require.ErrorIs(t, err, ErrValidation)

	requireQuantities(t, svc, item.ID, Quantities{Total: 5, Available: 3, Allocated: 2})
}

func TestAdjustRequiresElevatedRole(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	item := newTestItem(t, svc, 5)
	_, err := svc.Adjust(staffCtx(), AdjustInput{ItemID: item.ID, Delta: 2, Notes: "recount"})
	require.ErrorIs(t, err, ErrPermissionDenied)

	q, err := svc.Adjust(managerCtx(), AdjustInput{ItemID: item.ID, Delta: 2, Notes: "recount found two more"})
	require.NoError(t, err)
	require.Equal(t, Quantities{Total: 7, Available: 7}, q)

	q, err = svc.Adjust(managerCtx(), AdjustInput{ItemID: item.ID, Delta: -3, Notes: "shelf miscount"})
	require.NoError(t, err)
	require.Equal(t, Quantities{Total: 4, Available: 4}, q)
}

func TestAdjustCannotDrainAllocatedUnits(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 5)
	_, err := svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 4, ReferenceType: ReferenceEvent, ReferenceID: uuid.New(),
	})
	require.NoError(t, err)

	// only 1 available; removing 2 would break the pool sum
	_, err = svc.Adjust(managerCtx(), AdjustInput{ItemID: item.ID, Delta: -2, Notes: "recount"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	requireQuantities(t, svc, item.ID, Quantities{Total: 5, Available: 1, Allocated: 4})
}

func TestOutstandingUnknownPairIsZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 5)
	outstanding, err := svc.Outstanding(ctx, item.ID, ReferenceSubscription, uuid.New())
	require.NoError(t, err)
	require.EqualValues(t, 0, outstanding)

	_, err = svc.Outstanding(ctx, item.ID, ReferenceType("warehouse"), uuid.New())
	require.ErrorIs(t, err, ErrValidation)
}

func TestAllocationReactivatesAfterSettlement(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 6)
	subID := uuid.New()

	_, err := svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 2, ReferenceType: ReferenceSubscription, ReferenceID: subID,
	})
	require.NoError(t, err)
	alloc, err := svc.Return(ctx, ResolveInput{
		ItemID: item.ID, Qty: 2, ReferenceType: ReferenceSubscription, ReferenceID: subID,
	})
	require.NoError(t, err)
	require.False(t, alloc.Active)

	// a later rental cycle under the same subscription reuses the row
	alloc, err = svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 3, ReferenceType: ReferenceSubscription, ReferenceID: subID,
	})
	require.NoError(t, err)
	require.True(t, alloc.Active)
	require.EqualValues(t, 5, alloc.AllocatedQty)
	require.EqualValues(t, 3, alloc.Outstanding())
	requireQuantities(t, svc, item.ID, Quantities{Total: 6, Available: 3, Allocated: 3})
}

func TestReferenceValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 5)

	_, err := svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceManual, ReferenceID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceSubscription,
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 0, ReferenceType: ReferenceSubscription, ReferenceID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestDeactivatedItemRejectsMovements(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 5)
	require.NoError(t, svc.DeactivateItem(ctx, item.ID))

	_, err := svc.StockIn(ctx, StockInInput{ItemID: item.ID, Qty: 1})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Allocate(ctx, AllocateInput{
		ItemID: item.ID, Qty: 1, ReferenceType: ReferenceEvent, ReferenceID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrValidation)

	// history stays readable while deactivated
	movements, err := svc.ListMovements(ctx, MovementFilter{ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)

	require.NoError(t, svc.ReactivateItem(ctx, item.ID))
	_, err = svc.StockIn(ctx, StockInInput{ItemID: item.ID, Qty: 1})
	require.NoError(t, err)
	requireQuantities(t, svc, item.ID, Quantities{Total: 6, Available: 6})
}

func TestMissingActorRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.StockIn(context.Background(), StockInInput{ItemID: uuid.New(), Qty: 1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestRecomputeMatchesProjection(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 20)
	subID := uuid.New()
	evtID := uuid.New()

	_, err := svc.Allocate(ctx, AllocateInput{ItemID: item.ID, Qty: 7, ReferenceType: ReferenceSubscription, ReferenceID: subID})
	require.NoError(t, err)
	_, err = svc.Allocate(ctx, AllocateInput{ItemID: item.ID, Qty: 5, ReferenceType: ReferenceEvent, ReferenceID: evtID})
	require.NoError(t, err)
	_, err = svc.Return(ctx, ResolveInput{ItemID: item.ID, Qty: 4, ReferenceType: ReferenceSubscription, ReferenceID: subID})
	require.NoError(t, err)
	_, err = svc.MarkDamage(ctx, ResolveInput{ItemID: item.ID, Qty: 2, ReferenceType: ReferenceEvent, ReferenceID: evtID, Notes: "bent frame"})
	require.NoError(t, err)
	_, err = svc.Adjust(managerCtx(), AdjustInput{ItemID: item.ID, Delta: 3, Notes: "recount"})
	require.NoError(t, err)
	_, err = svc.StockIn(ctx, StockInInput{ItemID: item.ID, Qty: 10})
	require.NoError(t, err)

	projected, err := svc.ProjectQuantities(ctx, item.ID)
	require.NoError(t, err)
	recomputed, err := svc.RecomputeQuantities(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, projected, recomputed)
	require.True(t, projected.Consistent())
}

func TestConcurrentAllocationLastUnit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 1)

	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Allocate(ctx, AllocateInput{
				ItemID: item.ID, Qty: 1, ReferenceType: ReferenceEvent, ReferenceID: uuid.New(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, ErrInsufficientStock)
			insufficient++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, insufficient)
	requireQuantities(t, svc, item.ID, Quantities{Total: 1, Allocated: 1})
}

func TestConcurrentMixedMovements(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := staffCtx()

	item := newTestItem(t, svc, 100)
	refs := make([]uuid.UUID, 10)
	for i := range refs {
		refs[i] = uuid.New()
		_, err := svc.Allocate(ctx, AllocateInput{
			ItemID: item.ID, Qty: 5, ReferenceType: ReferenceSubscription, ReferenceID: refs[i],
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref uuid.UUID) {
			defer wg.Done()
			_, err := svc.Return(ctx, ResolveInput{
				ItemID: item.ID, Qty: 3, ReferenceType: ReferenceSubscription, ReferenceID: ref,
			})
			require.NoError(t, err)
			_, err = svc.MarkLoss(ctx, ResolveInput{
				ItemID: item.ID, Qty: 2, ReferenceType: ReferenceSubscription, ReferenceID: ref,
				Notes: "missing at teardown",
			})
			require.NoError(t, err)
		}(ref)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StockIn(ctx, StockInInput{ItemID: item.ID, Qty: 1})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	requireQuantities(t, svc, item.ID, Quantities{Total: 110, Available: 90, Lost: 20})
	recomputed, err := svc.RecomputeQuantities(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, Quantities{Total: 110, Available: 90, Lost: 20}, recomputed)
}
