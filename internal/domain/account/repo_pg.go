package account

import (
	"context"
	"errors"
	"fmt"

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

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Account, error) {
	var (
		email  string
		role   Role
		active bool
	)
	err := r.conn(ctx).QueryRow(ctx, `SELECT email, role, active FROM users WHERE id = $1`, userID).
		Scan(&email, &role, &active)
	if err != nil {
		return nil, notFound(err)
	}

	profile, err := r.loadProfile(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return New(userID, email, active, profile)
}

func (r *repoPG) loadProfile(ctx context.Context, userID uuid.UUID, role Role) (Profile, error) {
	q := r.conn(ctx)
	switch role {
	case RolePatient:
		var p PatientProfile
		err := q.QueryRow(ctx, `
			SELECT id, national_id, first_name, last_name, phone, address
			FROM patients WHERE user_id = $1`, userID).
			Scan(&p.ID, &p.NationalID, &p.FirstName, &p.LastName, &p.Phone, &p.Address)
		return p, notFound(err)
	case RolePharmacy:
		var p PharmacyProfile
		err := q.QueryRow(ctx, `SELECT id, name, approval_status FROM pharmacies WHERE user_id = $1`, userID).
			Scan(&p.ID, &p.Name, &p.ApprovalStatus)
		return p, notFound(err)
	case RoleDoctor:
		var p DoctorProfile
		err := q.QueryRow(ctx, `
			SELECT id, diploma_no, first_name, last_name, hospital
			FROM doctors WHERE user_id = $1`, userID).
			Scan(&p.ID, &p.DiplomaNo, &p.FirstName, &p.LastName, &p.Hospital)
		return p, notFound(err)
	case RoleAdmin:
		var p AdminProfile
		err := q.QueryRow(ctx, `SELECT id, full_name FROM admins WHERE user_id = $1`, userID).
			Scan(&p.ID, &p.FullName)
		return p, notFound(err)
	}
	return nil, fmt.Errorf("unknown role %q for user %s", role, userID)
}

func (r *repoPG) PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT user_id FROM patients WHERE id = $1`, patientID).Scan(&userID)
	return userID, notFound(err)
}
