package stock

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// LockForUpdate returns the pharmacy's entries for drugIDs with their rows
	// locked until the surrounding transaction ends. Drugs without an entry
	// are absent from the result.
	LockForUpdate(ctx context.Context, pharmacyID uuid.UUID, drugIDs []uuid.UUID) (map[uuid.UUID]*Entry, error)
	Get(ctx context.Context, pharmacyID, drugID uuid.UUID) (*Entry, error)
	// ListForPharmacies reads the entries of drugIDs across pharmacyIDs
	// without locking them.
	ListForPharmacies(ctx context.Context, pharmacyIDs, drugIDs []uuid.UUID) ([]*Entry, error)
	// Debit lowers the quantity by qty, flooring at zero, and returns the
	// quantity held before. A missing entry is left alone and reports 0.
	Debit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) (before int, err error)
	// Credit raises the quantity by qty, creating the entry if needed.
	Credit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) error
	Upsert(ctx context.Context, e *Entry) error
	ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*Entry, int, error)
	ListLow(ctx context.Context, pharmacyID uuid.UUID) ([]*Entry, error)
}
