package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	// GetByID loads the prescription with its lines.
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByNationalID(ctx context.Context, nationalID string, limit, offset int) ([]*Prescription, int, error)
	// SetStatus moves the prescription from one status to another and reports
	// whether a row matched.
	SetStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
}
