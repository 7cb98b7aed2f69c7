package prescription

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

const prescriptionCols = `id, prescription_number, national_id, issue_date, status,
	doctor_id, doctor_name, hospital, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.Number, &p.NationalID, &p.IssueDate, &p.Status,
		&p.DoctorID, &p.DoctorName, &p.Hospital, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, prescription_number, national_id, issue_date, status, doctor_id, doctor_name, hospital)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.Number, p.NationalID, p.IssueDate, p.Status, p.DoctorID, p.DoctorName, p.Hospital,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range p.Lines {
		l := &p.Lines[i]
		l.ID = uuid.New()
		l.PrescriptionID = p.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO prescription_lines (id, prescription_id, drug_id, quantity, usage_period)
			VALUES ($1, $2, $3, $4, $5)`,
			l.ID, l.PrescriptionID, l.DrugID, l.Quantity, l.UsagePeriod); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	p.Lines, err = r.lines(ctx, p.ID)
	return p, err
}

func (r *repoPG) lines(ctx context.Context, prescriptionID uuid.UUID) ([]Line, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, drug_id, quantity, usage_period
		FROM prescription_lines WHERE prescription_id = $1`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PrescriptionID, &l.DrugID, &l.Quantity, &l.UsagePeriod); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByNationalID(ctx context.Context, nationalID string, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescriptions WHERE national_id = $1`, nationalID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescriptions
		WHERE national_id = $1
		ORDER BY issue_date DESC
		LIMIT $2 OFFSET $3`, nationalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, p := range items {
		if p.Lines, err = r.lines(ctx, p.ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
