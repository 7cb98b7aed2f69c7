package prescription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusUsed      Status = "USED"
	StatusCancelled Status = "CANCELLED"
)

type Prescription struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Number     string     `db:"prescription_number" json:"prescription_number"`
	NationalID string     `db:"national_id" json:"national_id"`
	IssueDate  time.Time  `db:"issue_date" json:"issue_date"`
	Status     Status     `db:"status" json:"status"`
	DoctorID   *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	DoctorName *string    `db:"doctor_name" json:"doctor_name,omitempty"`
	Hospital   *string    `db:"hospital" json:"hospital,omitempty"`
	Lines      []Line     `json:"lines"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

type Line struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	DrugID         uuid.UUID `db:"drug_id" json:"drug_id"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UsagePeriod    *string   `db:"usage_period" json:"usage_period,omitempty"`
}

// LastValidDay is the last calendar day on which the prescription can back
// an order.
func (p *Prescription) LastValidDay(validityDays int) time.Time {
	y, m, d := p.IssueDate.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, validityDays)
}

// Expired compares UTC calendar days only; the time of day in now is ignored.
func (p *Prescription) Expired(now time.Time, validityDays int) bool {
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return today.After(p.LastValidDay(validityDays))
}

var (
	ErrNotFound = errors.New("prescription: not found")
	ErrInvalid  = errors.New("prescription: invalid")
	ErrExpired  = errors.New("prescription: expired")
	ErrRequired = errors.New("prescription: required")

	// ErrUsed and ErrCancelled match ErrInvalid under errors.Is.
	ErrUsed      = fmt.Errorf("%w: already used", ErrInvalid)
	ErrCancelled = fmt.Errorf("%w: cancelled", ErrInvalid)
)

// RequiredError names the drugs of an order that cannot be sold without a
// prescription. It matches ErrRequired under errors.Is.
type RequiredError struct {
	DrugNames []string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("%s for %s", ErrRequired, strings.Join(e.DrugNames, ", "))
}

func (e *RequiredError) Unwrap() error {
	return ErrRequired
}
