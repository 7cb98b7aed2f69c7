package stock

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger is the only writer of stock quantities. Availability checks lock the
// rows they read, so callers that check and then debit inside one
// transaction cannot be overtaken by a concurrent order.
type Ledger struct {
	entries Repository
	logger  zerolog.Logger
}

func NewLedger(entries Repository, logger zerolog.Logger) *Ledger {
	return &Ledger{entries: entries, logger: logger.With().Str("component", "stock_ledger").Logger()}
}

// SortedDrugIDs returns the keys of demand in a stable order.
func SortedDrugIDs(demand map[uuid.UUID]int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// CheckAvailability compares demand (drug id to quantity) against the
// pharmacy's stock. A drug the pharmacy has never stocked counts as zero
// available. Nothing is mutated.
func (l *Ledger) CheckAvailability(ctx context.Context, pharmacyID uuid.UUID, demand map[uuid.UUID]int) (bool, map[uuid.UUID]Shortage, error) {
	if err := validateDemand(demand); err != nil {
		return false, nil, err
	}

	entries, err := l.entries.LockForUpdate(ctx, pharmacyID, SortedDrugIDs(demand))
	if err != nil {
		return false, nil, fmt.Errorf("lock stock: %w", err)
	}
	shortages := shortagesOf(entries, demand)
	return len(shortages) == 0, shortages, nil
}

// Availability reports, for each of pharmacyIDs in the given order, how far
// its stock covers demand. It is a read-only snapshot: no row is locked, so
// the answer can be stale by the time an order is placed.
func (l *Ledger) Availability(ctx context.Context, pharmacyIDs []uuid.UUID, demand map[uuid.UUID]int) ([]Availability, error) {
	if err := validateDemand(demand); err != nil {
		return nil, err
	}
	if len(demand) == 0 {
		return nil, fmt.Errorf("%w: empty demand", ErrInvalidQuantity)
	}

	entries, err := l.entries.ListForPharmacies(ctx, pharmacyIDs, SortedDrugIDs(demand))
	if err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}
	byPharmacy := make(map[uuid.UUID]map[uuid.UUID]*Entry, len(pharmacyIDs))
	for _, e := range entries {
		if byPharmacy[e.PharmacyID] == nil {
			byPharmacy[e.PharmacyID] = make(map[uuid.UUID]*Entry)
		}
		byPharmacy[e.PharmacyID][e.DrugID] = e
	}

	out := make([]Availability, 0, len(pharmacyIDs))
	for _, id := range pharmacyIDs {
		shortages := shortagesOf(byPharmacy[id], demand)
		a := Availability{PharmacyID: id, AllAvailable: len(shortages) == 0}
		if !a.AllAvailable {
			a.Shortages = shortages
		}
		out = append(out, a)
	}
	return out, nil
}

func validateDemand(demand map[uuid.UUID]int) error {
	for id, qty := range demand {
		if qty <= 0 {
			return fmt.Errorf("%w: %d requested for drug %s", ErrInvalidQuantity, qty, id)
		}
	}
	return nil
}

func shortagesOf(entries map[uuid.UUID]*Entry, demand map[uuid.UUID]int) map[uuid.UUID]Shortage {
	shortages := make(map[uuid.UUID]Shortage)
	for id, qty := range demand {
		available := 0
		if e, ok := entries[id]; ok {
			available = e.Quantity
		}
		if available < qty {
			shortages[id] = Shortage{Requested: qty, Available: available, Missing: qty - available}
		}
	}
	return shortages
}

// Reserve is CheckAvailability reported as an error: a *ShortageError when
// any drug falls short.
func (l *Ledger) Reserve(ctx context.Context, pharmacyID uuid.UUID, demand map[uuid.UUID]int) error {
	ok, shortages, err := l.CheckAvailability(ctx, pharmacyID, demand)
	if err != nil {
		return err
	}
	if !ok {
		return &ShortageError{PharmacyID: pharmacyID, Shortages: shortages}
	}
	return nil
}

// Debit lowers the pharmacy's quantity of drugID by qty. The quantity never
// drops below zero; callers are expected to have checked availability first.
func (l *Ledger) Debit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: debit of %d", ErrInvalidQuantity, qty)
	}
	before, err := l.entries.Debit(ctx, pharmacyID, drugID, qty)
	if err != nil {
		return fmt.Errorf("debit stock: %w", err)
	}
	if before < qty {
		l.logger.Warn().
			Str("pharmacy_id", pharmacyID.String()).
			Str("drug_id", drugID.String()).
			Int("requested", qty).
			Int("available", before).
			Msg("stock debit floored at zero")
	}
	return nil
}

// Credit raises the pharmacy's quantity of drugID by qty.
func (l *Ledger) Credit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: credit of %d", ErrInvalidQuantity, qty)
	}
	if err := l.entries.Credit(ctx, pharmacyID, drugID, qty); err != nil {
		return fmt.Errorf("credit stock: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, pharmacyID, drugID uuid.UUID) (*Entry, error) {
	return l.entries.Get(ctx, pharmacyID, drugID)
}

// Upsert sets the quantity and threshold of an entry, creating it on first
// use. A nil minStock keeps DefaultMinStock.
func (l *Ledger) Upsert(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int, minStock *int) (*Entry, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", ErrInvalidQuantity)
	}
	threshold := DefaultMinStock
	if minStock != nil {
		if *minStock < 0 {
			return nil, fmt.Errorf("%w: min_stock must not be negative", ErrInvalidQuantity)
		}
		threshold = *minStock
	}
	e := &Entry{PharmacyID: pharmacyID, DrugID: drugID, Quantity: qty, MinStock: threshold}
	if err := l.entries.Upsert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (l *Ledger) List(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return l.entries.ListByPharmacy(ctx, pharmacyID, limit, offset)
}

// LowStock lists entries whose status is low or exhausted.
func (l *Ledger) LowStock(ctx context.Context, pharmacyID uuid.UUID) ([]*Entry, error) {
	return l.entries.ListLow(ctx, pharmacyID)
}
