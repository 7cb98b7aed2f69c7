package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const orderCols = `id, order_number, patient_id, pharmacy_id, prescription_id, total_amount,
	status, payment_status, delivery_address, note, cancellation_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.PatientID, &o.PharmacyID, &o.PrescriptionID, &o.Total,
		&o.Status, &o.PaymentStatus, &o.DeliveryAddress, &o.Note, &o.CancellationReason,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &o, err
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO orders (id, order_number, patient_id, pharmacy_id, prescription_id, total_amount,
			status, payment_status, delivery_address, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		o.ID, o.Number, o.PatientID, o.PharmacyID, o.PrescriptionID, o.Total,
		o.Status, o.PaymentStatus, o.DeliveryAddress, o.Note,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := range o.Lines {
		l := &o.Lines[i]
		l.ID = uuid.New()
		l.OrderID = o.ID
		batch.Queue(`
			INSERT INTO order_lines (id, order_id, drug_id, drug_name, barcode, quantity, unit_price, subtotal, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			l.ID, l.OrderID, l.DrugID, l.DrugName, l.Barcode, l.Quantity, l.UnitPrice, l.Subtotal, l.Position)
	}
	return r.sendBatch(ctx, batch)
}

// sendBatch runs batch on the context transaction, or on a pooled
// connection when there is none.
func (r *repoPG) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	var br pgx.BatchResults
	if tx := db.TxFromContext(ctx); tx != nil {
		br = tx.SendBatch(ctx, batch)
	} else {
		br = r.pool.SendBatch(ctx, batch)
	}
	return br.Close()
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.get(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.get(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	o.Lines, err = r.lines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repoPG) lines(ctx context.Context, orderID uuid.UUID) ([]Line, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, drug_id, drug_name, barcode, quantity, unit_price, subtotal, position
		FROM order_lines WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.DrugID, &l.DrugName, &l.Barcode,
			&l.Quantity, &l.UnitPrice, &l.Subtotal, &l.Position); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE orders SET status = $2, payment_status = $3, cancellation_reason = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Status, o.PaymentStatus, o.CancellationReason,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.PharmacyID != uuid.Nil {
		add("pharmacy_id = $%d", f.PharmacyID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM orders `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, o := range items {
		if o.Lines, err = r.lines(ctx, o.ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *repoPG) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	h.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO order_status_history (id, order_id, previous_status, new_status, note, actor_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		h.ID, h.OrderID, h.PreviousStatus, h.NewStatus, h.Note, h.ActorUserID,
	).Scan(&h.CreatedAt)
}

func (r *repoPG) History(ctx context.Context, orderID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, previous_status, new_status, note, actor_user_id, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.PreviousStatus, &h.NewStatus,
			&h.Note, &h.ActorUserID, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
