package prescription

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eczane/eczane/internal/domain/account"
	"github.com/eczane/eczane/internal/platform/auth"
	"github.com/eczane/eczane/pkg/pagination"
)

// AccountResolver loads the caller's account.
type AccountResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*account.Account, error)
}

type Handler struct {
	gate     *Gate
	accounts AccountResolver
}

func NewHandler(gate *Gate, accounts AccountResolver) *Handler {
	return &Handler{gate: gate, accounts: accounts}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/doctor/prescriptions", h.Issue, auth.RequireRole(auth.RoleDoctor))
	api.POST("/doctor/prescriptions/:id/cancel", h.Withdraw, auth.RequireRole(auth.RoleDoctor))
	api.GET("/patient/prescriptions", h.ListMine, auth.RequireRole(auth.RolePatient))
	api.GET("/prescriptions/:id", h.GetPrescription)
}

func (h *Handler) caller(c echo.Context) (*account.Account, error) {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
	}
	a, err := h.accounts.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusForbidden, "account not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return a, nil
}

func (h *Handler) Issue(c echo.Context) error {
	a, err := h.caller(c)
	if err != nil {
		return err
	}
	doctor, ok := a.Doctor()
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "only doctors can issue prescriptions")
	}

	var req IssueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.DoctorID = doctor.ID
	req.DoctorName = strings.TrimSpace(doctor.FirstName + " " + doctor.LastName)
	if doctor.Hospital != nil {
		req.Hospital = *doctor.Hospital
	}

	p, err := h.gate.Issue(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

// Withdraw cancels an ACTIVE prescription issued by the calling doctor.
func (h *Handler) Withdraw(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.caller(c)
	if err != nil {
		return err
	}
	doctor, ok := a.Doctor()
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "only doctors can withdraw prescriptions")
	}

	ctx := c.Request().Context()
	p, err := h.gate.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if p.DoctorID == nil || *p.DoctorID != doctor.ID {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	if err := h.gate.Cancel(ctx, id); err != nil {
		if errors.Is(err, ErrInvalid) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	p.Status = StatusCancelled
	return c.JSON(http.StatusOK, p)
}

// ListMine lists the calling patient's prescriptions.
func (h *Handler) ListMine(c echo.Context) error {
	a, err := h.caller(c)
	if err != nil {
		return err
	}
	patient, ok := a.Patient()
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "caller is not a patient")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.gate.ListByNationalID(c.Request().Context(), patient.NationalID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.caller(c)
	if err != nil {
		return err
	}
	p, err := h.gate.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if patient, ok := a.Patient(); ok && patient.NationalID != p.NationalID {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, p)
}
