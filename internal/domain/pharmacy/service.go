package pharmacy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Directory answers which pharmacies may receive orders and handles their
// admin approval.
type Directory struct {
	pharmacies Repository
}

func NewDirectory(pharmacies Repository) *Directory {
	return &Directory{pharmacies: pharmacies}
}

// GetApproved returns the pharmacy if it exists and has been approved.
// Unapproved pharmacies are reported as ErrNotFound.
func (d *Directory) GetApproved(ctx context.Context, id uuid.UUID) (*Pharmacy, error) {
	p, err := d.pharmacies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Approved() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFound, id, p.ApprovalStatus)
	}
	return p, nil
}

func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Pharmacy, error) {
	return d.pharmacies.GetByID(ctx, id)
}

func (d *Directory) GetByUserID(ctx context.Context, userID uuid.UUID) (*Pharmacy, error) {
	return d.pharmacies.GetByUserID(ctx, userID)
}

func (d *Directory) ListByStatus(ctx context.Context, status ApprovalStatus, limit, offset int) ([]*Pharmacy, int, error) {
	if status == "" {
		status = ApprovalPending
	}
	if !status.Valid() {
		return nil, 0, fmt.Errorf("invalid approval status: %s", status)
	}
	return d.pharmacies.ListByStatus(ctx, status, limit, offset)
}

// Decide records an admin's approval decision. Rejections must carry a note.
func (d *Directory) Decide(ctx context.Context, id uuid.UUID, status ApprovalStatus, note string) error {
	if status != ApprovalApproved && status != ApprovalRejected {
		return fmt.Errorf("invalid approval decision: %s", status)
	}
	if status == ApprovalRejected && note == "" {
		return fmt.Errorf("note is required when rejecting")
	}
	var n *string
	if note != "" {
		n = &note
	}
	return d.pharmacies.SetApproval(ctx, id, status, n)
}
