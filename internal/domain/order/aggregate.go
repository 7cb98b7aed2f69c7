package order

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineInput is a line as submitted by the patient. Subtotal is supplied by
// the caller and stored as given.
type LineInput struct {
	DrugID    uuid.UUID       `json:"drug_id"`
	DrugName  string          `json:"drug_name"`
	Barcode   string          `json:"barcode"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Compute returns the order total, the sum of the line subtotals.
func Compute(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal)
	}
	return total
}

// Demand sums the requested quantity per drug across lines.
func Demand(lines []Line) map[uuid.UUID]int {
	demand := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		demand[l.DrugID] += l.Quantity
	}
	return demand
}

// buildLines validates inputs and turns them into order lines. With strict
// set, a subtotal other than quantity times unit price is rejected.
func buildLines(inputs []LineInput, strict bool) ([]Line, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", ErrInvalidArgument)
	}
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		switch {
		case in.DrugID == uuid.Nil:
			return nil, fmt.Errorf("%w: line %d has no drug_id", ErrInvalidArgument, i+1)
		case in.Quantity <= 0:
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidArgument, i+1)
		case in.UnitPrice.IsNegative() || in.Subtotal.IsNegative():
			return nil, fmt.Errorf("%w: line %d has a negative amount", ErrInvalidArgument, i+1)
		case strings.TrimSpace(in.DrugName) == "":
			return nil, fmt.Errorf("%w: line %d has no drug_name", ErrInvalidArgument, i+1)
		}
		unit := in.UnitPrice.Round(2)
		sub := in.Subtotal.Round(2)
		if strict {
			if want := unit.Mul(decimal.NewFromInt(int64(in.Quantity))); !sub.Equal(want) {
				return nil, fmt.Errorf("%w: line %d subtotal %s does not match %d x %s",
					ErrInvalidArgument, i+1, sub.StringFixed(2), in.Quantity, unit.StringFixed(2))
			}
		}
		lines = append(lines, Line{
			DrugID:    in.DrugID,
			DrugName:  strings.TrimSpace(in.DrugName),
			Barcode:   strings.TrimSpace(in.Barcode),
			Quantity:  in.Quantity,
			UnitPrice: unit,
			Subtotal:  sub,
			Position:  i + 1,
		})
	}
	return lines, nil
}
