package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	Number             string          `db:"order_number" json:"order_number"`
	PatientID          uuid.UUID       `db:"patient_id" json:"patient_id"`
	PharmacyID         uuid.UUID       `db:"pharmacy_id" json:"pharmacy_id"`
	PrescriptionID     *uuid.UUID      `db:"prescription_id" json:"prescription_id,omitempty"`
	Lines              []Line          `json:"lines"`
	Total              decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status             Status          `db:"status" json:"status"`
	PaymentStatus      PaymentStatus   `db:"payment_status" json:"payment_status"`
	DeliveryAddress    string          `db:"delivery_address" json:"delivery_address"`
	Note               *string         `db:"note" json:"note,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	History            []HistoryEntry  `json:"history,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Line is one drug of an order. Name, barcode and unit price are copies
// taken when the order was placed.
type Line struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	DrugID    uuid.UUID       `db:"drug_id" json:"drug_id"`
	DrugName  string          `db:"drug_name" json:"drug_name"`
	Barcode   string          `db:"barcode" json:"barcode"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
	Position  int             `db:"position" json:"position"`
}

// HistoryEntry records one status transition. The first entry of every
// order has no previous status.
type HistoryEntry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrderID        uuid.UUID  `db:"order_id" json:"order_id"`
	PreviousStatus *Status    `db:"previous_status" json:"previous_status"`
	NewStatus      Status     `db:"new_status" json:"new_status"`
	Note           *string    `db:"note" json:"note,omitempty"`
	ActorUserID    *uuid.UUID `db:"actor_user_id" json:"actor_user_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ListFilter narrows order listings. Zero fields are ignored.
type ListFilter struct {
	PatientID  uuid.UUID
	PharmacyID uuid.UUID
	Status     Status
}
