package stock

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMinStock is the low-stock threshold given to entries created
// without one.
const DefaultMinStock = 10

type Status string

const (
	StatusExhausted  Status = "exhausted"
	StatusLow        Status = "low"
	StatusSufficient Status = "sufficient"
)

// Entry is the quantity of one drug held by one pharmacy.
type Entry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PharmacyID uuid.UUID `db:"pharmacy_id" json:"pharmacy_id"`
	DrugID     uuid.UUID `db:"drug_id" json:"drug_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	MinStock   int       `db:"min_stock" json:"min_stock"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// StatusOf derives the stock status from a quantity and its threshold.
func StatusOf(quantity, minStock int) Status {
	switch {
	case quantity <= 0:
		return StatusExhausted
	case quantity <= minStock:
		return StatusLow
	default:
		return StatusSufficient
	}
}

func (e *Entry) Status() Status {
	return StatusOf(e.Quantity, e.MinStock)
}

// EntryView is an Entry together with its derived status, as served over HTTP.
type EntryView struct {
	*Entry
	Status Status `json:"status"`
}

func View(e *Entry) EntryView {
	return EntryView{Entry: e, Status: e.Status()}
}

var (
	ErrNotFound          = errors.New("stock: entry not found")
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	ErrInvalidQuantity   = errors.New("stock: invalid quantity")
)

// Shortage describes how far a single drug's stock falls short of a demand.
type Shortage struct {
	Requested int `json:"requested"`
	Available int `json:"available"`
	Missing   int `json:"missing"`
}

// Availability is how far one pharmacy's stock covers a demand.
type Availability struct {
	PharmacyID   uuid.UUID              `json:"pharmacy_id"`
	AllAvailable bool                   `json:"all_available"`
	Shortages    map[uuid.UUID]Shortage `json:"shortages,omitempty"`
}

// ShortageError reports every drug of a demand that cannot be served.
// It matches ErrInsufficientStock under errors.Is.
type ShortageError struct {
	PharmacyID uuid.UUID
	Shortages  map[uuid.UUID]Shortage
}

func (e *ShortageError) Error() string {
	ids := make([]uuid.UUID, 0, len(e.Shortages))
	for id := range e.Shortages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		s := e.Shortages[id]
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", id, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(parts, ", "))
}

func (e *ShortageError) Unwrap() error {
	return ErrInsufficientStock
}
