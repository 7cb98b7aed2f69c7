package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryNormal                 Category = "NORMAL"
	CategoryPrescriptionControlled Category = "PRESCRIPTION_CONTROLLED"
	CategoryColdChain              Category = "COLD_CHAIN"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryNormal, CategoryPrescriptionControlled, CategoryColdChain:
		return true
	}
	return false
}

// Drug is a catalog entry. Once an order references it, its name, barcode and
// price are copied into the order line and never read back.
type Drug struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	Barcode              string          `db:"barcode" json:"barcode"`
	Name                 string          `db:"name" json:"name"`
	Category             Category        `db:"category" json:"category"`
	UnitPrice            decimal.Decimal `db:"unit_price" json:"unit_price"`
	RequiresPrescription bool            `db:"requires_prescription" json:"requires_prescription"`
	Active               bool            `db:"active" json:"active"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}
