package pharmacy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("pharmacy: not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Pharmacy, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Pharmacy, error)
	ListByStatus(ctx context.Context, status ApprovalStatus, limit, offset int) ([]*Pharmacy, int, error)
	SetApproval(ctx context.Context, id uuid.UUID, status ApprovalStatus, note *string) error
}
