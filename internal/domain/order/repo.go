package order

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the order and its lines.
	Create(ctx context.Context, o *Order) error
	// GetByID loads the order with its lines.
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetForUpdate is GetByID with the order row locked until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	// UpdateStatus persists status, payment status and cancellation reason.
	UpdateStatus(ctx context.Context, o *Order) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error)

	AppendHistory(ctx context.Context, h *HistoryEntry) error
	History(ctx context.Context, orderID uuid.UUID) ([]HistoryEntry, error)
}
