package prescription

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/eczane/eczane/internal/domain/catalog"
	"github.com/eczane/eczane/internal/platform/db"
)

type mockPrescriptionRepo struct {
	items       map[uuid.UUID]*Prescription
	createErrs  []error
	setStatusTx []bool
}

func newMockPrescriptionRepo() *mockPrescriptionRepo {
	return &mockPrescriptionRepo{items: make(map[uuid.UUID]*Prescription)}
}

func (m *mockPrescriptionRepo) add(status Status, issued time.Time) *Prescription {
	p := &Prescription{ID: uuid.New(), Number: "RCT" + uuid.NewString()[:8], NationalID: "12345678901", IssueDate: issued, Status: status}
	m.items[p.ID] = p
	return p
}

func (m *mockPrescriptionRepo) Create(_ context.Context, p *Prescription) error {
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	p.ID = uuid.New()
	m.items[p.ID] = p
	return nil
}

func (m *mockPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPrescriptionRepo) ListByNationalID(_ context.Context, nationalID string, limit, offset int) ([]*Prescription, int, error) {
	var result []*Prescription
	for _, p := range m.items {
		if p.NationalID == nationalID {
			result = append(result, p)
		}
	}
	return result, len(result), nil
}

func (m *mockPrescriptionRepo) SetStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	m.setStatusTx = append(m.setStatusTx, db.TxFromContext(ctx) != nil)
	p, ok := m.items[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

// fakeTransactor runs fn directly and counts the transactions it was asked
// to open.
type fakeTransactor struct {
	calls int
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

// outerTx stands in for a caller's open transaction.
type outerTx struct{ pgx.Tx }

type stubDrugs map[uuid.UUID]*catalog.Drug

func (s stubDrugs) GetDrugs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*catalog.Drug, error) {
	out := make(map[uuid.UUID]*catalog.Drug)
	for _, id := range ids {
		if d, ok := s[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

var testNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func newTestGate(drugs stubDrugs) (*Gate, *mockPrescriptionRepo, *fakeTransactor) {
	repo := newMockPrescriptionRepo()
	tx := &fakeTransactor{}
	g := NewGate(repo, drugs, tx, 2, zerolog.Nop())
	g.SetClock(func() time.Time { return testNow })
	return g, repo, tx
}

func day(offset int) time.Time {
	return time.Date(2025, 3, 10+offset, 0, 0, 0, 0, time.UTC)
}

func TestExpired(t *testing.T) {
	tests := []struct {
		name   string
		issued time.Time
		want   bool
	}{
		{"issued today", day(0), false},
		{"issued yesterday", day(-1), false},
		{"last valid day", day(-2), false},
		{"three days ago", day(-3), true},
		{"issued late in the day", time.Date(2025, 3, 8, 23, 59, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Prescription{IssueDate: tt.issued}
			if got := p.Expired(testNow, 2); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpired_UsesUTCCalendarDay(t *testing.T) {
	istanbul := time.FixedZone("TRT", 3*60*60)
	// 01:30 on 13 March in Istanbul is still 12 March in UTC.
	now := time.Date(2025, 3, 13, 1, 30, 0, 0, istanbul)
	p := &Prescription{IssueDate: day(0)}

	if p.Expired(now, 2) {
		t.Error("expected valid on the last UTC day even though the local date has moved on")
	}
	if !p.Expired(now.Add(24*time.Hour), 2) {
		t.Error("expected expiry one UTC day later")
	}
}

func TestValidateForOrder(t *testing.T) {
	g, repo, _ := newTestGate(nil)
	active := repo.add(StatusActive, day(-1))
	used := repo.add(StatusUsed, day(0))
	cancelled := repo.add(StatusCancelled, day(0))

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr error
	}{
		{"active", active.ID, nil},
		{"used", used.ID, ErrUsed},
		{"cancelled", cancelled.ID, ErrCancelled},
		{"missing", uuid.New(), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := g.ValidateForOrder(context.Background(), tt.id)
			if tt.wantErr == nil {
				if err != nil || p.ID != tt.id {
					t.Fatalf("expected prescription, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	_, err := g.ValidateForOrder(context.Background(), used.ID)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("used prescription should be reported as invalid, got %v", err)
	}
}

func TestValidateForOrder_ExpiredIsCancelled(t *testing.T) {
	g, repo, tx := newTestGate(nil)
	p := repo.add(StatusActive, day(-3))

	outer := db.ContextWithTx(context.Background(), outerTx{})
	_, err := g.ValidateForOrder(outer, p.ID)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if tx.calls != 1 {
		t.Errorf("expected the cancellation in its own transaction, got %d", tx.calls)
	}
	if len(repo.setStatusTx) != 1 || repo.setStatusTx[0] {
		t.Error("expected the cancellation to run outside the caller's transaction")
	}
	if got, _ := g.Get(context.Background(), p.ID); got.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}

	_, err = g.ValidateForOrder(context.Background(), p.ID)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled on revalidation, got %v", err)
	}
}

func TestRequirePrescriptionFree(t *testing.T) {
	otc := &catalog.Drug{ID: uuid.New(), Name: "Parol", UnitPrice: decimal.NewFromInt(30)}
	rx := &catalog.Drug{ID: uuid.New(), Name: "Augmentin", RequiresPrescription: true}
	rx2 := &catalog.Drug{ID: uuid.New(), Name: "Xanax", RequiresPrescription: true}
	g, _, _ := newTestGate(stubDrugs{otc.ID: otc, rx.ID: rx, rx2.ID: rx2})

	if err := g.RequirePrescriptionFree(context.Background(), []uuid.UUID{otc.ID}); err != nil {
		t.Errorf("expected no error for OTC drug, got %v", err)
	}

	err := g.RequirePrescriptionFree(context.Background(), []uuid.UUID{otc.ID, rx.ID, rx2.ID})
	if !errors.Is(err, ErrRequired) {
		t.Fatalf("expected ErrRequired, got %v", err)
	}
	var re *RequiredError
	if !errors.As(err, &re) {
		t.Fatal("expected *RequiredError")
	}
	if len(re.DrugNames) != 2 || re.DrugNames[0] != "Augmentin" || re.DrugNames[1] != "Xanax" {
		t.Errorf("unexpected drug names: %v", re.DrugNames)
	}
	if !strings.Contains(err.Error(), "Augmentin") {
		t.Errorf("expected drug name in message: %s", err)
	}
}

func TestMarkUsed(t *testing.T) {
	g, repo, _ := newTestGate(nil)
	p := repo.add(StatusActive, day(0))

	if err := g.MarkUsed(context.Background(), p.ID); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if repo.items[p.ID].Status != StatusUsed {
		t.Errorf("expected USED, got %s", repo.items[p.ID].Status)
	}
	if err := g.MarkUsed(context.Background(), p.ID); !errors.Is(err, ErrUsed) {
		t.Errorf("expected ErrUsed on second use, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	g, repo, _ := newTestGate(nil)
	p := repo.add(StatusActive, day(0))
	used := repo.add(StatusUsed, day(0))

	if err := g.Cancel(context.Background(), p.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if repo.items[p.ID].Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", repo.items[p.ID].Status)
	}
	if err := g.Cancel(context.Background(), used.ID); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for used prescription, got %v", err)
	}
}

func TestListByNationalID(t *testing.T) {
	g, repo, _ := newTestGate(nil)
	repo.add(StatusActive, day(0))
	repo.add(StatusUsed, day(-5))

	items, total, err := g.ListByNationalID(context.Background(), "12345678901", 20, 0)
	if err != nil {
		t.Fatalf("ListByNationalID: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 prescriptions, got %d", total)
	}
	if _, _, err := g.ListByNationalID(context.Background(), "123", 20, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for malformed national id, got %v", err)
	}
}

func TestIssue(t *testing.T) {
	g, repo, _ := newTestGate(nil)
	repo.createErrs = []error{&pgconn.PgError{Code: "23505", ConstraintName: numberConstraint}}

	p, err := g.Issue(context.Background(), IssueRequest{
		NationalID: "12345678901",
		DoctorName: "Dr. Ayşe Yılmaz",
		Lines:      []Line{{DrugID: uuid.New(), Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(p.Number, "RCT20250310") || len(p.Number) != len("RCT20250310")+4 {
		t.Errorf("unexpected prescription number %q", p.Number)
	}
	if p.Status != StatusActive || !p.IssueDate.Equal(day(0)) {
		t.Errorf("expected ACTIVE prescription dated today, got %s %s", p.Status, p.IssueDate)
	}
	if p.DoctorName == nil || *p.DoctorName != "Dr. Ayşe Yılmaz" {
		t.Error("expected doctor name to be recorded")
	}
}

func TestIssue_DatesInUTC(t *testing.T) {
	g, _, _ := newTestGate(nil)
	// 23:30 on 10 March in UTC is already 11 March in Istanbul.
	g.SetClock(func() time.Time {
		return time.Date(2025, 3, 11, 2, 30, 0, 0, time.FixedZone("TRT", 3*60*60))
	})

	p, err := g.Issue(context.Background(), IssueRequest{
		NationalID: "12345678901",
		Lines:      []Line{{DrugID: uuid.New(), Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !p.IssueDate.Equal(day(0)) {
		t.Errorf("IssueDate = %s, want %s", p.IssueDate, day(0))
	}
	if !strings.HasPrefix(p.Number, "RCT20250310") {
		t.Errorf("number %q does not carry the UTC issue day", p.Number)
	}
}

func TestIssue_Validation(t *testing.T) {
	g, _, _ := newTestGate(nil)
	tests := []struct {
		name string
		req  IssueRequest
	}{
		{"bad national id", IssueRequest{NationalID: "abc", Lines: []Line{{DrugID: uuid.New(), Quantity: 1}}}},
		{"no lines", IssueRequest{NationalID: "12345678901"}},
		{"zero quantity", IssueRequest{NationalID: "12345678901", Lines: []Line{{DrugID: uuid.New()}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := g.Issue(context.Background(), tt.req); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
