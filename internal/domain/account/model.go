package account

import (
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "patient"
	RolePharmacy Role = "pharmacy"
	RoleDoctor   Role = "doctor"
	RoleAdmin    Role = "admin"
)

// Profile is the role-specific record owned by an Account. The set of
// implementations is closed.
type Profile interface {
	Role() Role
	isProfile()
}

type PatientProfile struct {
	ID         uuid.UUID `json:"id"`
	NationalID string    `json:"national_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Phone      *string   `json:"phone,omitempty"`
	Address    *string   `json:"address,omitempty"`
}

type PharmacyProfile struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	ApprovalStatus string    `json:"approval_status"`
}

type DoctorProfile struct {
	ID        uuid.UUID `json:"id"`
	DiplomaNo string    `json:"diploma_no"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Hospital  *string   `json:"hospital,omitempty"`
}

type AdminProfile struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
}

func (PatientProfile) Role() Role  { return RolePatient }
func (PharmacyProfile) Role() Role { return RolePharmacy }
func (DoctorProfile) Role() Role   { return RoleDoctor }
func (AdminProfile) Role() Role    { return RoleAdmin }

func (PatientProfile) isProfile()  {}
func (PharmacyProfile) isProfile() {}
func (DoctorProfile) isProfile()   {}
func (AdminProfile) isProfile()    {}

// Account is a user identity together with exactly one role profile.
type Account struct {
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email"`
	Role    Role      `json:"role"`
	Active  bool      `json:"active"`
	Profile Profile   `json:"profile"`
}

// New builds an Account whose role is taken from its profile.
func New(userID uuid.UUID, email string, active bool, p Profile) (*Account, error) {
	if p == nil {
		return nil, fmt.Errorf("account %s has no profile", userID)
	}
	return &Account{UserID: userID, Email: email, Role: p.Role(), Active: active, Profile: p}, nil
}

func (a *Account) Patient() (PatientProfile, bool) {
	p, ok := a.Profile.(PatientProfile)
	return p, ok
}

func (a *Account) Pharmacy() (PharmacyProfile, bool) {
	p, ok := a.Profile.(PharmacyProfile)
	return p, ok
}

func (a *Account) Doctor() (DoctorProfile, bool) {
	p, ok := a.Profile.(DoctorProfile)
	return p, ok
}

func (a *Account) IsAdmin() bool {
	_, ok := a.Profile.(AdminProfile)
	return ok
}
