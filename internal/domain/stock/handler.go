package stock

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eczane/eczane/internal/domain/pharmacy"
	"github.com/eczane/eczane/internal/platform/auth"
	"github.com/eczane/eczane/pkg/pagination"
)

// PharmacyDirectory finds the pharmacy owned by the calling user and lists
// pharmacies by approval status.
type PharmacyDirectory interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*pharmacy.Pharmacy, error)
	ListByStatus(ctx context.Context, status pharmacy.ApprovalStatus, limit, offset int) ([]*pharmacy.Pharmacy, int, error)
}

type Handler struct {
	ledger     *Ledger
	pharmacies PharmacyDirectory
}

func NewHandler(ledger *Ledger, pharmacies PharmacyDirectory) *Handler {
	return &Handler{ledger: ledger, pharmacies: pharmacies}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacy/stock", auth.RequireRole(auth.RolePharmacy))
	g.GET("", h.List)
	g.GET("/low", h.LowStock)
	g.GET("/:drug_id", h.GetEntry)
	g.PUT("/:drug_id", h.Upsert)

	api.POST("/patient/pharmacies/availability", h.FindPharmacies, auth.RequireRole(auth.RolePatient))
}

func (h *Handler) callerPharmacy(c echo.Context) (*pharmacy.Pharmacy, error) {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
	}
	p, err := h.pharmacies.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pharmacy.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusForbidden, "caller has no pharmacy")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return p, nil
}

func views(entries []*Entry) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, View(e))
	}
	return out
}

func (h *Handler) List(c echo.Context) error {
	p, err := h.callerPharmacy(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.ledger.List(c.Request().Context(), p.ID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewPage(views(items), total, pg))
}

func (h *Handler) LowStock(c echo.Context) error {
	p, err := h.callerPharmacy(c)
	if err != nil {
		return err
	}
	items, err := h.ledger.LowStock(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, views(items))
}

func (h *Handler) GetEntry(c echo.Context) error {
	p, err := h.callerPharmacy(c)
	if err != nil {
		return err
	}
	drugID, err := uuid.Parse(c.Param("drug_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid drug_id")
	}
	e, err := h.ledger.Get(c.Request().Context(), p.ID, drugID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "stock entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, View(e))
}

type demandItem struct {
	DrugID   uuid.UUID `json:"drug_id"`
	Quantity int       `json:"quantity"`
}

type availabilityRequest struct {
	Items []demandItem `json:"items"`
}

// PharmacyAvailability is an approved pharmacy together with how far its
// stock covers the requested basket.
type PharmacyAvailability struct {
	PharmacyID   uuid.UUID              `json:"pharmacy_id"`
	Name         string                 `json:"name"`
	Address      string                 `json:"address"`
	Phone        string                 `json:"phone"`
	District     *string                `json:"district,omitempty"`
	City         *string                `json:"city,omitempty"`
	AllAvailable bool                   `json:"all_available"`
	Shortages    map[uuid.UUID]Shortage `json:"shortages,omitempty"`
}

// FindPharmacies pages through approved pharmacies and reports which of
// them can serve the patient's basket. Pharmacies that can serve all of it
// come first within a page.
func (h *Handler) FindPharmacies(c echo.Context) error {
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Items) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one item is required")
	}
	demand := make(map[uuid.UUID]int, len(req.Items))
	for _, it := range req.Items {
		if it.DrugID == uuid.Nil || it.Quantity <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "every item needs a drug and a positive quantity")
		}
		demand[it.DrugID] += it.Quantity
	}

	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	pharmacies, total, err := h.pharmacies.ListByStatus(ctx, pharmacy.ApprovalApproved, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ids := make([]uuid.UUID, 0, len(pharmacies))
	for _, p := range pharmacies {
		ids = append(ids, p.ID)
	}
	avail, err := h.ledger.Availability(ctx, ids, demand)
	if err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	items := make([]PharmacyAvailability, 0, len(pharmacies))
	for i, p := range pharmacies {
		items = append(items, PharmacyAvailability{
			PharmacyID:   p.ID,
			Name:         p.Name,
			Address:      p.Address,
			Phone:        p.Phone,
			District:     p.District,
			City:         p.City,
			AllAvailable: avail[i].AllAvailable,
			Shortages:    avail[i].Shortages,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AllAvailable && !items[j].AllAvailable
	})
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

type upsertRequest struct {
	Quantity int  `json:"quantity"`
	MinStock *int `json:"min_stock"`
}

func (h *Handler) Upsert(c echo.Context) error {
	p, err := h.callerPharmacy(c)
	if err != nil {
		return err
	}
	drugID, err := uuid.Parse(c.Param("drug_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid drug_id")
	}
	var req upsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.ledger.Upsert(c.Request().Context(), p.ID, drugID, req.Quantity, req.MinStock)
	if err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, View(e))
}
