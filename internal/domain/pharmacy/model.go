package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Pharmacy is the pharmacy profile owned by exactly one user account.
type Pharmacy struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	UserID         uuid.UUID      `db:"user_id" json:"user_id"`
	RegistryNo     string         `db:"registry_no" json:"registry_no"`
	Name           string         `db:"name" json:"name"`
	Address        string         `db:"address" json:"address"`
	Phone          string         `db:"phone" json:"phone"`
	District       *string        `db:"district" json:"district,omitempty"`
	City           *string        `db:"city" json:"city,omitempty"`
	ApprovalStatus ApprovalStatus `db:"approval_status" json:"approval_status"`
	ApprovalNote   *string        `db:"approval_note" json:"approval_note,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

func (p *Pharmacy) Approved() bool {
	return p.ApprovalStatus == ApprovalApproved
}
