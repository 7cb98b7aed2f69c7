package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("account: not found")

type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Account, error)
	// PatientUserID returns the user that owns the patient profile.
	PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
}
