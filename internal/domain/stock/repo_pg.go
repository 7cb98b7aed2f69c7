package stock

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eczane/eczane/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const entryCols = `id, pharmacy_id, drug_id, quantity, min_stock, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PharmacyID, &e.DrugID, &e.Quantity, &e.MinStock, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *repoPG) scanAll(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) LockForUpdate(ctx context.Context, pharmacyID uuid.UUID, drugIDs []uuid.UUID) (map[uuid.UUID]*Entry, error) {
	out := make(map[uuid.UUID]*Entry, len(drugIDs))
	if len(drugIDs) == 0 {
		return out, nil
	}
	// Rows are locked in drug id order so concurrent orders touching the
	// same drugs cannot deadlock.
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM stock_entries
		WHERE pharmacy_id = $1 AND drug_id = ANY($2)
		ORDER BY drug_id
		FOR UPDATE`, pharmacyID, drugIDs)
	if err != nil {
		return nil, err
	}
	items, err := r.scanAll(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range items {
		out[e.DrugID] = e
	}
	return out, nil
}

func (r *repoPG) Get(ctx context.Context, pharmacyID, drugID uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM stock_entries
		WHERE pharmacy_id = $1 AND drug_id = $2`, pharmacyID, drugID))
}

func (r *repoPG) ListForPharmacies(ctx context.Context, pharmacyIDs, drugIDs []uuid.UUID) ([]*Entry, error) {
	if len(pharmacyIDs) == 0 || len(drugIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM stock_entries
		WHERE pharmacy_id = ANY($1) AND drug_id = ANY($2)`, pharmacyIDs, drugIDs)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *repoPG) Debit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) (int, error) {
	var before int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE stock_entries s
		SET quantity = GREATEST(s.quantity - $3, 0), updated_at = NOW()
		FROM (
			SELECT id, quantity FROM stock_entries
			WHERE pharmacy_id = $1 AND drug_id = $2
			FOR UPDATE
		) prev
		WHERE s.id = prev.id
		RETURNING prev.quantity`, pharmacyID, drugID, qty).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return before, err
}

func (r *repoPG) Credit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO stock_entries (id, pharmacy_id, drug_id, quantity, min_stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT stock_entries_pharmacy_drug_key
		DO UPDATE SET quantity = stock_entries.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		uuid.New(), pharmacyID, drugID, qty, DefaultMinStock)
	return err
}

func (r *repoPG) Upsert(ctx context.Context, e *Entry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO stock_entries (id, pharmacy_id, drug_id, quantity, min_stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT stock_entries_pharmacy_drug_key
		DO UPDATE SET quantity = EXCLUDED.quantity, min_stock = EXCLUDED.min_stock, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), e.PharmacyID, e.DrugID, e.Quantity, e.MinStock,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *repoPG) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_entries WHERE pharmacy_id = $1`, pharmacyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM stock_entries
		WHERE pharmacy_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`, pharmacyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanAll(rows)
	return items, total, err
}

func (r *repoPG) ListLow(ctx context.Context, pharmacyID uuid.UUID) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM stock_entries
		WHERE pharmacy_id = $1 AND quantity <= min_stock
		ORDER BY quantity, drug_id`, pharmacyID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}
