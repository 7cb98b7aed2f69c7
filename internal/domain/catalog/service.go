package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	drugs Repository
}

func NewService(drugs Repository) *Service {
	return &Service{drugs: drugs}
}

func (s *Service) CreateDrug(ctx context.Context, d *Drug) error {
	d.Barcode = strings.TrimSpace(d.Barcode)
	d.Name = strings.TrimSpace(d.Name)
	if d.Barcode == "" {
		return fmt.Errorf("barcode is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.Category == "" {
		d.Category = CategoryNormal
	}
	if !d.Category.Valid() {
		return fmt.Errorf("invalid category: %s", d.Category)
	}
	if d.UnitPrice.IsNegative() {
		return fmt.Errorf("unit_price must not be negative")
	}
	d.UnitPrice = d.UnitPrice.Round(2)
	if d.Category == CategoryPrescriptionControlled {
		d.RequiresPrescription = true
	}
	d.Active = true
	return s.drugs.Create(ctx, d)
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

// GetDrugs satisfies the drug lookup used by the prescription gate.
func (s *Service) GetDrugs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error) {
	return s.drugs.GetByIDs(ctx, ids)
}

func (s *Service) SearchDrugs(ctx context.Context, query string, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.Search(ctx, strings.TrimSpace(query), limit, offset)
}
