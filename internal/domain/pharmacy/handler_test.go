package pharmacy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHandler_GetPharmacy_HidesUnapproved(t *testing.T) {
	repo := newMockPharmacyRepo()
	h := NewHandler(NewDirectory(repo))
	e := echo.New()
	p := repo.add(ApprovalPending)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	err := h.GetPharmacy(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Decide(t *testing.T) {
	repo := newMockPharmacyRepo()
	h := NewHandler(NewDirectory(repo))
	e := echo.New()
	p := repo.add(ApprovalPending)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"approved"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.Decide(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if !p.Approved() {
		t.Error("expected pharmacy to be approved")
	}
}
