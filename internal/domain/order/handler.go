package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eczane/eczane/internal/domain/account"
	"github.com/eczane/eczane/internal/domain/prescription"
	"github.com/eczane/eczane/internal/domain/stock"
	"github.com/eczane/eczane/internal/platform/auth"
	"github.com/eczane/eczane/internal/platform/idempotency"
	"github.com/eczane/eczane/pkg/pagination"
)

const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencySettleTimeout = 3 * time.Second

// AccountResolver loads the caller's account.
type AccountResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*account.Account, error)
}

type Handler struct {
	svc      *Service
	accounts AccountResolver
	idem     idempotency.Store
}

func NewHandler(svc *Service, accounts AccountResolver, idem idempotency.Store) *Handler {
	return &Handler{svc: svc, accounts: accounts, idem: idem}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := api.Group("/patient/orders", auth.RequireRole(auth.RolePatient))
	patient.POST("", h.CreateOrder)
	patient.GET("", h.ListPatientOrders)
	patient.POST("/:id/cancel", h.CancelOrder)

	pharm := api.Group("/pharmacy/orders", auth.RequireRole(auth.RolePharmacy))
	pharm.GET("", h.ListPharmacyOrders)
	pharm.POST("/:id/approve", h.ApproveOrder)
	pharm.PUT("/:id/status", h.UpdateStatus)
	pharm.POST("/:id/cancel", h.CancelOrder)

	api.GET("/orders/:id", h.GetOrder)
	api.GET("/admin/orders", h.ListAllOrders, auth.RequireRole(auth.RoleAdmin))
}

// -- request types --

type createOrderRequest struct {
	PharmacyID      uuid.UUID   `json:"pharmacy_id"`
	PrescriptionID  *uuid.UUID  `json:"prescription_id"`
	Items           []LineInput `json:"items"`
	DeliveryAddress string      `json:"delivery_address"`
	Note            string      `json:"note"`
}

type updateStatusRequest struct {
	Status Status `json:"status"`
	Note   string `json:"note"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// -- caller resolution --

type caller struct {
	userID  uuid.UUID
	account *account.Account
}

func (h *Handler) caller(c echo.Context) (*caller, error) {
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
	return &caller{userID: userID, account: a}, nil
}

// canSee reports whether the caller is a party to o, or an admin.
func (cl *caller) canSee(o *Order) bool {
	if cl.account.IsAdmin() {
		return true
	}
	if p, ok := cl.account.Patient(); ok {
		return p.ID == o.PatientID
	}
	if p, ok := cl.account.Pharmacy(); ok {
		return p.ID == o.PharmacyID
	}
	return false
}

// ownOrder loads :id and checks that the caller may act on it. Orders of
// other parties are reported as missing.
func (h *Handler) ownOrder(c echo.Context, cl *caller) (*Order, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	if !cl.canSee(o) {
		return nil, httpError(ErrNotFound)
	}
	return o, nil
}

// -- handlers --

func (h *Handler) CreateOrder(c echo.Context) error {
	cl, err := h.caller(c)
	if err != nil {
		return err
	}
	patient, ok := cl.account.Patient()
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "only patients can place orders")
	}

	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	var idemKey string
	if key := c.Request().Header.Get(IdempotencyKeyHeader); key != "" && h.idem != nil {
		idemKey = fmt.Sprintf(idempotency.KeyOrderCreate, cl.userID, key)
		result, reserved, err := h.idem.Reserve(ctx, idemKey)
		if err != nil {
			return httpError(err)
		}
		if !reserved {
			id, err := uuid.Parse(result)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "corrupt idempotency record")
			}
			o, err := h.svc.Get(ctx, id)
			if err != nil {
				return httpError(err)
			}
			return c.JSON(http.StatusOK, o)
		}
	}

	o, err := h.svc.CreateOrder(ctx, CreateInput{
		PatientID:       patient.ID,
		PharmacyID:      req.PharmacyID,
		PrescriptionID:  req.PrescriptionID,
		Lines:           req.Items,
		DeliveryAddress: req.DeliveryAddress,
		Note:            req.Note,
		ActorUserID:     cl.userID,
	})
	if idemKey != "" {
		h.settleIdempotency(ctx, idemKey, o, err)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

// settleIdempotency records the outcome of a reserved create. It runs on a
// context detached from the request so a client that hangs up after the
// commit does not leave the key reserved until it expires.
func (h *Handler) settleIdempotency(ctx context.Context, key string, o *Order, createErr error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencySettleTimeout)
	defer cancel()

	var err error
	if createErr != nil {
		err = h.idem.Release(sctx, key)
	} else {
		err = h.idem.Complete(sctx, key, o.ID.String())
	}
	if err != nil {
		ev := zerolog.Ctx(ctx).Error().Err(err).Str("idempotency_key", key)
		if o != nil {
			ev = ev.Str("order_id", o.ID.String())
		}
		ev.Msg("settle idempotency key")
	}
}

func (h *Handler) GetOrder(c echo.Context) error {
	cl, err := h.caller(c)
	if err != nil {
		return err
	}
	o, err := h.ownOrder(c, cl)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListPatientOrders(c echo.Context) error {
	cl, err := h.caller(c)
	if err != nil {
		return err
	}
	patient, ok := cl.account.Patient()
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "caller is not a patient")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patient.ID, Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) ListPharmacyOrders(c echo.Context) error {
	cl, err := h.caller(c)
	if err != nil {
		return err
	}
	ph, ok := cl.account.Pharmacy()
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "caller is not a pharmacy")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPharmacy(c.Request().Context(), ph.ID, Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

// ListAllOrders handles GET /admin/orders?status=&pharmacy_id=&patient_id=.
func (h *Handler) ListAllOrders(c echo.Context) error {
	var f ListFilter
	f.Status = Status(c.QueryParam("status"))
	if v := c.QueryParam("pharmacy_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy_id")
		}
		f.PharmacyID = id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) ApproveOrder(c echo.Context) error {
	cl, err := h.caller(c)
	if err != nil {
		return err
	}
	o, err := h.ownOrder(c, cl)
	if err != nil {
		return err
	}
	o, err = h.svc.Approve(c.Request().Context(), o.ID, cl.userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	cl, err := h.caller(c)
	if err != nil {
		return err
	}
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.ownOrder(c, cl)
	if err != nil {
		return err
	}
	o, err = h.svc.UpdateStatus(c.Request().Context(), o.ID, req.Status, cl.userID, req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	cl, err := h.caller(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.ownOrder(c, cl)
	if err != nil {
		return err
	}
	o, err = h.svc.Cancel(c.Request().Context(), o.ID, req.Reason, cl.userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

// httpError maps lifecycle failures to HTTP responses.
func httpError(err error) error {
	var (
		shortage *stock.ShortageError
		required *prescription.RequiredError
	)
	switch {
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &shortage):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message":   "insufficient stock",
			"shortages": shortage.Shortages,
		})
	case errors.As(err, &required):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message":    "prescription required",
			"drug_names": required.DrugNames,
		})
	case errors.Is(err, prescription.ErrExpired),
		errors.Is(err, prescription.ErrInvalid),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, stock.ErrInvalidQuantity):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, idempotency.ErrInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
