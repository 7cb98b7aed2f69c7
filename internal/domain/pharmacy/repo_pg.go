package pharmacy

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

const pharmacyCols = `id, user_id, registry_no, name, address, phone, district, city,
	approval_status, approval_note, created_at, updated_at`

func scanPharmacy(row pgx.Row) (*Pharmacy, error) {
	var p Pharmacy
	err := row.Scan(&p.ID, &p.UserID, &p.RegistryNo, &p.Name, &p.Address, &p.Phone,
		&p.District, &p.City, &p.ApprovalStatus, &p.ApprovalNote, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Pharmacy, error) {
	return scanPharmacy(r.conn(ctx).QueryRow(ctx, `SELECT `+pharmacyCols+` FROM pharmacies WHERE id = $1`, id))
}

func (r *repoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Pharmacy, error) {
	return scanPharmacy(r.conn(ctx).QueryRow(ctx, `SELECT `+pharmacyCols+` FROM pharmacies WHERE user_id = $1`, userID))
}

func (r *repoPG) ListByStatus(ctx context.Context, status ApprovalStatus, limit, offset int) ([]*Pharmacy, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pharmacies WHERE approval_status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+pharmacyCols+` FROM pharmacies
		WHERE approval_status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SetApproval(ctx context.Context, id uuid.UUID, status ApprovalStatus, note *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pharmacies SET approval_status = $2, approval_note = $3, updated_at = NOW()
		WHERE id = $1`, id, status, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
