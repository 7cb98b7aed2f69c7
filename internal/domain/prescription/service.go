package prescription

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eczane/eczane/internal/domain/catalog"
	"github.com/eczane/eczane/internal/platform/db"
)

// DefaultValidityDays is how many days after its issue date a prescription
// can still back an order.
const DefaultValidityDays = 2

const numberConstraint = "prescriptions_prescription_number_key"

var nationalIDPattern = regexp.MustCompile(`^[0-9]{11}$`)

// DrugLookup resolves catalog drugs by id.
type DrugLookup interface {
	GetDrugs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*catalog.Drug, error)
}

// Gate decides whether a prescription may back an order and owns every
// status change of a prescription.
type Gate struct {
	prescriptions Repository
	drugs         DrugLookup
	tx            db.Transactor
	validityDays  int
	now           func() time.Time
	logger        zerolog.Logger
}

func NewGate(prescriptions Repository, drugs DrugLookup, tx db.Transactor, validityDays int, logger zerolog.Logger) *Gate {
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}
	return &Gate{
		prescriptions: prescriptions,
		drugs:         drugs,
		tx:            tx,
		validityDays:  validityDays,
		now:           time.Now,
		logger:        logger.With().Str("component", "prescription_gate").Logger(),
	}
}

// SetClock replaces the gate's source of the current time.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// ValidateForOrder returns the prescription if it can back a new order.
// An ACTIVE prescription past its validity window is cancelled before
// ErrExpired is returned; the cancellation commits on its own and survives a
// rollback of the caller's transaction.
func (g *Gate) ValidateForOrder(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := g.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case StatusUsed:
		return nil, fmt.Errorf("%w: %s", ErrUsed, p.Number)
	case StatusCancelled:
		return nil, fmt.Errorf("%w: %s", ErrCancelled, p.Number)
	}

	if p.Expired(g.now(), g.validityDays) {
		err := g.tx.WithTx(db.WithoutTx(ctx), func(ctx context.Context) error {
			_, err := g.prescriptions.SetStatus(ctx, p.ID, StatusActive, StatusCancelled)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("cancel expired prescription %s: %w", p.Number, err)
		}
		g.logger.Info().
			Str("prescription_id", p.ID.String()).
			Time("issue_date", p.IssueDate).
			Msg("expired prescription cancelled")
		return nil, fmt.Errorf("%w: %s must be used within %d days of issue", ErrExpired, p.Number, g.validityDays)
	}
	return p, nil
}

// RequirePrescriptionFree fails with a *RequiredError naming every drug in
// drugIDs that can only be sold against a prescription.
func (g *Gate) RequirePrescriptionFree(ctx context.Context, drugIDs []uuid.UUID) error {
	drugs, err := g.drugs.GetDrugs(ctx, drugIDs)
	if err != nil {
		return fmt.Errorf("lookup drugs: %w", err)
	}
	var names []string
	for _, id := range drugIDs {
		if d, ok := drugs[id]; ok && d.RequiresPrescription {
			names = append(names, d.Name)
		}
	}
	if len(names) > 0 {
		return &RequiredError{DrugNames: names}
	}
	return nil
}

// MarkUsed consumes an ACTIVE prescription. It fails with ErrUsed when the
// prescription is no longer ACTIVE, which also covers two orders racing for
// the same prescription.
func (g *Gate) MarkUsed(ctx context.Context, id uuid.UUID) error {
	ok, err := g.prescriptions.SetStatus(ctx, id, StatusActive, StatusUsed)
	if err != nil {
		return fmt.Errorf("mark prescription used: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUsed, id)
	}
	return nil
}

// Cancel withdraws an ACTIVE prescription.
func (g *Gate) Cancel(ctx context.Context, id uuid.UUID) error {
	p, err := g.prescriptions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusActive {
		return fmt.Errorf("%w: %s is %s", ErrInvalid, p.Number, p.Status)
	}
	ok, err := g.prescriptions.SetStatus(ctx, id, StatusActive, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalid, p.Number)
	}
	return nil
}

func (g *Gate) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return g.prescriptions.GetByID(ctx, id)
}

func (g *Gate) ListByNationalID(ctx context.Context, nationalID string, limit, offset int) ([]*Prescription, int, error) {
	if !nationalIDPattern.MatchString(nationalID) {
		return nil, 0, fmt.Errorf("%w: national id must be 11 digits", ErrInvalid)
	}
	return g.prescriptions.ListByNationalID(ctx, nationalID, limit, offset)
}

// IssueRequest is what a doctor submits when writing a prescription.
type IssueRequest struct {
	NationalID string    `json:"national_id"`
	DoctorID   uuid.UUID `json:"-"`
	DoctorName string    `json:"-"`
	Hospital   string    `json:"-"`
	Lines      []Line    `json:"lines"`
}

// Issue writes a new ACTIVE prescription dated today. Prescription numbers
// are RCT + YYYYMMDD + four random digits; a collision is retried.
func (g *Gate) Issue(ctx context.Context, req IssueRequest) (*Prescription, error) {
	if !nationalIDPattern.MatchString(req.NationalID) {
		return nil, fmt.Errorf("%w: national id must be 11 digits", ErrInvalid)
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalid)
	}
	for _, l := range req.Lines {
		if l.DrugID == uuid.Nil || l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every line needs a drug and a positive quantity", ErrInvalid)
		}
	}

	y, m, d := g.now().UTC().Date()
	p := &Prescription{
		NationalID: req.NationalID,
		IssueDate:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Status:     StatusActive,
		Lines:      req.Lines,
	}
	if req.DoctorID != uuid.Nil {
		p.DoctorID = &req.DoctorID
	}
	if req.DoctorName != "" {
		p.DoctorName = &req.DoctorName
	}
	if req.Hospital != "" {
		p.Hospital = &req.Hospital
	}

	const attempts = 5
	for i := 0; ; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(9000))
		if err != nil {
			return nil, err
		}
		p.Number = fmt.Sprintf("RCT%s%d", p.IssueDate.Format("20060102"), 1000+n.Int64())

		err = g.tx.WithTx(ctx, func(ctx context.Context) error {
			return g.prescriptions.Create(ctx, p)
		})
		if err == nil {
			return p, nil
		}
		if !db.IsUniqueViolation(err, numberConstraint) || i == attempts-1 {
			return nil, err
		}
	}
}
