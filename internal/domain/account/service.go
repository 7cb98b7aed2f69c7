package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	accounts Repository
}

func NewService(accounts Repository) *Service {
	return &Service{accounts: accounts}
}

// Resolve loads the active account for userID.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID) (*Account, error) {
	a, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, fmt.Errorf("%w: user %s is inactive", ErrNotFound, userID)
	}
	return a, nil
}

func (s *Service) PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	return s.accounts.PatientUserID(ctx, patientID)
}
