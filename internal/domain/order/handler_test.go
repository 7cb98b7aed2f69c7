package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/eczane/eczane/internal/domain/account"
	"github.com/eczane/eczane/internal/domain/pharmacy"
	"github.com/eczane/eczane/internal/domain/prescription"
	"github.com/eczane/eczane/internal/domain/stock"
	"github.com/eczane/eczane/internal/platform/auth"
	"github.com/eczane/eczane/internal/platform/idempotency"
)

type stubAccounts map[uuid.UUID]*account.Account

func (s stubAccounts) Resolve(_ context.Context, userID uuid.UUID) (*account.Account, error) {
	a, ok := s[userID]
	if !ok {
		return nil, account.ErrNotFound
	}
	return a, nil
}

type handlerFixture struct {
	*fixture
	h           *Handler
	e           *echo.Echo
	idem        *idempotency.MemoryStore
	strangerID  uuid.UUID
	adminUserID uuid.UUID
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := newFixture(t)
	f.stock.set(f.pharmacyID, f.otcDrug.ID, 10, 5)

	hf := &handlerFixture{
		fixture:     f,
		e:           echo.New(),
		idem:        idempotency.NewMemoryStore(time.Hour),
		strangerID:  uuid.New(),
		adminUserID: uuid.New(),
	}
	mustAccount := func(userID uuid.UUID, p account.Profile) *account.Account {
		a, err := account.New(userID, userID.String()+"@example.com", true, p)
		if err != nil {
			t.Fatalf("account.New: %v", err)
		}
		return a
	}
	accounts := stubAccounts{
		f.patientUserID:  mustAccount(f.patientUserID, account.PatientProfile{ID: f.patientID, NationalID: "12345678901", FirstName: "Ayşe", LastName: "Yılmaz"}),
		f.pharmacyUserID: mustAccount(f.pharmacyUserID, account.PharmacyProfile{ID: f.pharmacyID, Name: "Merkez Eczanesi", ApprovalStatus: string(pharmacy.ApprovalApproved)}),
		hf.strangerID:    mustAccount(hf.strangerID, account.PatientProfile{ID: uuid.New(), NationalID: "10987654321", FirstName: "Mehmet", LastName: "Kaya"}),
		hf.adminUserID:   mustAccount(hf.adminUserID, account.AdminProfile{ID: uuid.New(), FullName: "Sistem Yöneticisi"}),
	}
	hf.h = NewHandler(f.svc, accounts, hf.idem)
	return hf
}

func (hf *handlerFixture) newContext(method, body string, userID uuid.UUID, role string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), userID.String(), []string{role}))
	rec := httptest.NewRecorder()
	return hf.e.NewContext(req, rec), rec
}

func (hf *handlerFixture) orderBody(qty int) string {
	return `{"pharmacy_id":"` + hf.pharmacyID.String() + `",` +
		`"delivery_address":"Bağdat Cad. 5 Kadıköy",` +
		`"items":[{"drug_id":"` + hf.otcDrug.ID.String() + `","drug_name":"Parol 500 mg","quantity":` +
		strconv.Itoa(qty) + `,"unit_price":"25.50","subtotal":"` + hf.otcDrug.UnitPrice.Mul(decimal.NewFromInt(int64(qty))).StringFixed(2) + `"}]}`
}

func expectCode(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != code {
		t.Fatalf("expected %d, got %v", code, err)
	}
	return he
}

func TestHandler_CreateOrder(t *testing.T) {
	hf := newHandlerFixture(t)
	c, rec := hf.newContext(http.MethodPost, hf.orderBody(2), hf.patientUserID, auth.RolePatient)

	if err := hf.h.CreateOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var o Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.PatientID != hf.patientID || o.Status != StatusPending {
		t.Errorf("order = %+v", o)
	}
	if q := hf.stock.qty(hf.pharmacyID, hf.otcDrug.ID); q != 8 {
		t.Errorf("stock = %d, want 8", q)
	}
}

func TestHandler_CreateOrder_NotPatient(t *testing.T) {
	hf := newHandlerFixture(t)
	c, _ := hf.newContext(http.MethodPost, hf.orderBody(1), hf.pharmacyUserID, auth.RolePatient)
	expectCode(t, hf.h.CreateOrder(c), http.StatusForbidden)
}

func TestHandler_CreateOrder_Idempotent(t *testing.T) {
	hf := newHandlerFixture(t)
	var ids []string
	for i := 0; i < 2; i++ {
		c, rec := hf.newContext(http.MethodPost, hf.orderBody(2), hf.patientUserID, auth.RolePatient)
		c.Request().Header.Set(IdempotencyKeyHeader, "retry-1")
		if err := hf.h.CreateOrder(c); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		var o Order
		json.Unmarshal(rec.Body.Bytes(), &o)
		ids = append(ids, o.ID.String())
	}
	if ids[0] != ids[1] {
		t.Errorf("retry created a new order: %v", ids)
	}
	if len(hf.orders.orders) != 1 {
		t.Errorf("orders stored = %d, want 1", len(hf.orders.orders))
	}
	if q := hf.stock.qty(hf.pharmacyID, hf.otcDrug.ID); q != 8 {
		t.Errorf("stock = %d, want 8", q)
	}
}

func TestHandler_CreateOrder_FailureReleasesKey(t *testing.T) {
	hf := newHandlerFixture(t)

	c, _ := hf.newContext(http.MethodPost, hf.orderBody(50), hf.patientUserID, auth.RolePatient)
	c.Request().Header.Set(IdempotencyKeyHeader, "k")
	he := expectCode(t, hf.h.CreateOrder(c), http.StatusUnprocessableEntity)
	body, ok := he.Message.(map[string]interface{})
	if !ok || body["shortages"] == nil {
		t.Errorf("expected shortages in body, got %v", he.Message)
	}

	c, rec := hf.newContext(http.MethodPost, hf.orderBody(1), hf.patientUserID, auth.RolePatient)
	c.Request().Header.Set(IdempotencyKeyHeader, "k")
	if err := hf.h.CreateOrder(c); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

// ctxStrictStore refuses writes on a context that is already done, the way a
// network-backed store would.
type ctxStrictStore struct {
	*idempotency.MemoryStore
}

func (s ctxStrictStore) Complete(ctx context.Context, key, result string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Complete(ctx, key, result)
}

func (s ctxStrictStore) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Release(ctx, key)
}

func TestHandler_CreateOrder_ClientGoneAfterCommit(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.h.idem = ctxStrictStore{hf.idem}

	c, rec := hf.newContext(http.MethodPost, hf.orderBody(2), hf.patientUserID, auth.RolePatient)
	ctx, cancel := context.WithCancel(c.Request().Context())
	c.SetRequest(c.Request().WithContext(ctx))
	c.Request().Header.Set(IdempotencyKeyHeader, "gone-1")
	hf.orders.afterCreate = cancel

	if err := hf.h.CreateOrder(c); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var first Order
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	hf.orders.afterCreate = nil

	c, rec = hf.newContext(http.MethodPost, hf.orderBody(2), hf.patientUserID, auth.RolePatient)
	c.Request().Header.Set(IdempotencyKeyHeader, "gone-1")
	if err := hf.h.CreateOrder(c); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("retry expected 200, got %d", rec.Code)
	}
	var again Order
	if err := json.Unmarshal(rec.Body.Bytes(), &again); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("retry returned order %s, want %s", again.ID, first.ID)
	}
	if len(hf.orders.orders) != 1 {
		t.Errorf("orders stored = %d, want 1", len(hf.orders.orders))
	}
}

func TestHandler_GetOrder_Visibility(t *testing.T) {
	hf := newHandlerFixture(t)
	o := hf.create(t, hf.input(hf.line(hf.otcDrug, 1)))

	tests := []struct {
		name   string
		userID uuid.UUID
		want   int
	}{
		{"patient", hf.patientUserID, http.StatusOK},
		{"pharmacy", hf.pharmacyUserID, http.StatusOK},
		{"admin", hf.adminUserID, http.StatusOK},
		{"other patient", hf.strangerID, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := hf.newContext(http.MethodGet, "", tt.userID, auth.RolePatient)
			c.SetParamNames("id")
			c.SetParamValues(o.ID.String())
			err := hf.h.GetOrder(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				var got Order
				json.Unmarshal(rec.Body.Bytes(), &got)
				if len(got.History) != 1 {
					t.Errorf("history entries = %d, want 1", len(got.History))
				}
				return
			}
			expectCode(t, err, tt.want)
		})
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	hf := newHandlerFixture(t)
	o := hf.create(t, hf.input(hf.line(hf.otcDrug, 1)))

	c, rec := hf.newContext(http.MethodPut, `{"status":"PREPARING","note":"hazırlanıyor"}`, hf.pharmacyUserID, auth.RolePharmacy)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	if err := hf.h.UpdateStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Order
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusPreparing {
		t.Errorf("Status = %s, want PREPARING", got.Status)
	}

	c, _ = hf.newContext(http.MethodPut, `{"status":"PENDING"}`, hf.pharmacyUserID, auth.RolePharmacy)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	expectCode(t, hf.h.UpdateStatus(c), http.StatusConflict)
}

func TestHandler_CancelOrder(t *testing.T) {
	hf := newHandlerFixture(t)
	o := hf.create(t, hf.input(hf.line(hf.otcDrug, 3)))

	c, _ := hf.newContext(http.MethodPost, `{"reason":"yok"}`, hf.pharmacyUserID, auth.RolePharmacy)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	expectCode(t, hf.h.CancelOrder(c), http.StatusBadRequest)

	c, _ = hf.newContext(http.MethodPost, `{}`, hf.strangerID, auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	expectCode(t, hf.h.CancelOrder(c), http.StatusNotFound)

	c, rec := hf.newContext(http.MethodPost, `{}`, hf.patientUserID, auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	if err := hf.h.CancelOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Order
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCancelled || got.PaymentStatus != PaymentRefunded {
		t.Errorf("order = %s/%s", got.Status, got.PaymentStatus)
	}
}

func TestHandler_ListPharmacyOrders(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.create(t, hf.input(hf.line(hf.otcDrug, 1)))
	hf.create(t, hf.input(hf.line(hf.otcDrug, 1)))

	c, rec := hf.newContext(http.MethodGet, "", hf.pharmacyUserID, auth.RolePharmacy)
	if err := hf.h.ListPharmacyOrders(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["total"] != float64(2) {
		t.Errorf("total = %v, want 2", body["total"])
	}

	c, _ = hf.newContext(http.MethodGet, "", hf.patientUserID, auth.RolePharmacy)
	expectCode(t, hf.h.ListPharmacyOrders(c), http.StatusForbidden)
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"order missing", ErrNotFound, http.StatusNotFound},
		{"pharmacy missing", pharmacy.ErrNotFound, http.StatusNotFound},
		{"shortage", &stock.ShortageError{PharmacyID: uuid.New()}, http.StatusUnprocessableEntity},
		{"prescription required", &prescription.RequiredError{DrugNames: []string{"Augmentin"}}, http.StatusBadRequest},
		{"prescription expired", prescription.ErrExpired, http.StatusBadRequest},
		{"prescription used", prescription.ErrUsed, http.StatusBadRequest},
		{"invalid argument", ErrInvalidArgument, http.StatusBadRequest},
		{"transition", ErrInvalidTransition, http.StatusConflict},
		{"in flight", idempotency.ErrInFlight, http.StatusConflict},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, httpError(tt.err), tt.want)
		})
	}
}
