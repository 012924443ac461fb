package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a ledger transaction.
// Every mutating service call runs entirely through one TxRepository so that
// the movement append, the summary update and the allocation update commit or
// roll back together.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) error
	GetItemForUpdate(ctx context.Context, itemID uuid.UUID) (Item, error)
	UpdateItemQuantities(ctx context.Context, itemID uuid.UUID, q Quantities) error
	SetItemActive(ctx context.Context, itemID uuid.UUID, active bool) error
	InsertMovement(ctx context.Context, m Movement) (uuid.UUID, error)
	GetAllocationForUpdate(ctx context.Context, itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) (Allocation, error)
	UpsertAllocation(ctx context.Context, a Allocation) error
}

type txRepository struct {
	tx pgx.Tx
}

// ErrAllocationNotFound indicates no allocation row exists for the pair yet.
var ErrAllocationNotFound = errors.New("inventory allocation not found")

// WithTx executes the callback inside a repeatable-read transaction.
// Serialization failures and deadlocks surface as ErrConcurrencyConflict so
// callers can retry with the same inputs.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return mapPgError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

const itemColumns = `id, outlet_id, name, category, unit, total, available, allocated, damaged, lost, active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.OutletID, &it.Name, &it.Category, &it.Unit,
		&it.Quantities.Total, &it.Quantities.Available, &it.Quantities.Allocated,
		&it.Quantities.Damaged, &it.Quantities.Lost, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// GetItem fetches one item with its cached quantity summary.
func (r *Repository) GetItem(ctx context.Context, itemID uuid.UUID) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1`, itemID)
	return scanItem(row)
}

// ListItems lists items for an outlet ordered by name.
func (r *Repository) ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE ($1::uuid IS NULL OR outlet_id=$1) AND (NOT $2 OR active)
ORDER BY name ASC, id ASC
LIMIT $3 OFFSET $4`, nullUUID(filter.OutletID), filter.ActiveOnly, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListLowStock returns active items whose available pool is at or below the
// threshold. Used by the stock-alert scan.
func (r *Repository) ListLowStock(ctx context.Context, threshold int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE active AND available <= $1
ORDER BY available ASC, name ASC`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListMovements returns the movement history of one item, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	types := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		types = append(types, string(t))
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, outlet_id, movement_type, quantity, reference_type, reference_id, notes, created_by, created_at
FROM inventory_movements
WHERE item_id=$1
  AND (cardinality($2::text[])=0 OR movement_type = ANY($2))
  AND created_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY created_at ASC, id ASC
LIMIT $5 OFFSET $6`, filter.ItemID, types, nullTime(filter.From), nullTime(filter.To), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.OutletID, &m.Type, &m.Quantity,
			&m.ReferenceType, &m.ReferenceID, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

const allocationColumns = `id, item_id, outlet_id, reference_type, reference_id, allocated_qty, resolved_qty, active, created_at, updated_at`

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	err := row.Scan(&a.ID, &a.ItemID, &a.OutletID, &a.ReferenceType, &a.ReferenceID,
		&a.AllocatedQty, &a.ResolvedQty, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, ErrAllocationNotFound
		}
		return Allocation{}, err
	}
	return a, nil
}

// GetAllocation fetches the allocation row for one (item, reference) pair.
func (r *Repository) GetAllocation(ctx context.Context, itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) (Allocation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+allocationColumns+` FROM inventory_allocations
WHERE item_id=$1 AND reference_type=$2 AND reference_id=$3`, itemID, string(refType), refID)
	return scanAllocation(row)
}

// ListAllocations lists allocations, newest first.
func (r *Repository) ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+allocationColumns+` FROM inventory_allocations
WHERE ($1::uuid IS NULL OR item_id=$1)
  AND ($2::text IS NULL OR reference_type=$2)
  AND ($3::uuid IS NULL OR reference_id=$3)
  AND (NOT $4 OR active)
ORDER BY updated_at DESC, id DESC
LIMIT $5 OFFSET $6`, nullUUID(filter.ItemID), nullString(string(filter.ReferenceType)),
		nullUUID(filter.ReferenceID), filter.ActiveOnly, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	allocations := []Allocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_items (id, outlet_id, name, category, unit, total, available, allocated, damaged, lost, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())`,
		item.ID, item.OutletID, item.Name, item.Category, item.Unit,
		item.Quantities.Total, item.Quantities.Available, item.Quantities.Allocated,
		item.Quantities.Damaged, item.Quantities.Lost, item.Active)
	return err
}

// GetItemForUpdate locks the item's quantity row for the rest of the
// transaction. This is the single point of contention between concurrent
// writers on the same item.
func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID uuid.UUID) (Item, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1 FOR UPDATE`, itemID)
	return scanItem(row)
}

func (r *txRepository) UpdateItemQuantities(ctx context.Context, itemID uuid.UUID, q Quantities) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_items
SET total=$2, available=$3, allocated=$4, damaged=$5, lost=$6, updated_at=NOW()
WHERE id=$1`, itemID, q.Total, q.Available, q.Allocated, q.Damaged, q.Lost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) SetItemActive(ctx context.Context, itemID uuid.UUID, active bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_items SET active=$2, updated_at=NOW() WHERE id=$1`, itemID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (uuid.UUID, error) {
	id := m.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_movements (id, item_id, outlet_id, movement_type, quantity, reference_type, reference_id, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		id, m.ItemID, m.OutletID, string(m.Type), m.Quantity, string(m.ReferenceType),
		m.ReferenceID, m.Notes, m.CreatedBy, m.CreatedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *txRepository) GetAllocationForUpdate(ctx context.Context, itemID uuid.UUID, refType ReferenceType, refID uuid.UUID) (Allocation, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM inventory_allocations
WHERE item_id=$1 AND reference_type=$2 AND reference_id=$3 FOR UPDATE`, itemID, string(refType), refID)
	return scanAllocation(row)
}

func (r *txRepository) UpsertAllocation(ctx context.Context, a Allocation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_allocations (id, item_id, outlet_id, reference_type, reference_id, allocated_qty, resolved_qty, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
ON CONFLICT (item_id, reference_type, reference_id)
DO UPDATE SET allocated_qty=EXCLUDED.allocated_qty, resolved_qty=EXCLUDED.resolved_qty, active=EXCLUDED.active, updated_at=NOW()`,
		a.ID, a.ItemID, a.OutletID, string(a.ReferenceType), a.ReferenceID,
		a.AllocatedQty, a.ResolvedQty, a.Active)
	return err
}

// mapPgError translates Postgres serialization failures (40001) and deadlocks
// (40P01) into ErrConcurrencyConflict.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
