package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("catalog: drug not found")

type Repository interface {
	Create(ctx context.Context, d *Drug) error
	GetByID(ctx context.Context, id uuid.UUID) (*Drug, error)
	// GetByIDs returns the drugs found among ids; missing ids are skipped.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error)
	Search(ctx context.Context, query string, limit, offset int) ([]*Drug, int, error)
}
