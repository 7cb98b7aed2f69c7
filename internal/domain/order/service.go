package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eczane/eczane/internal/domain/pharmacy"
	"github.com/eczane/eczane/internal/domain/prescription"
	"github.com/eczane/eczane/internal/domain/stock"
	"github.com/eczane/eczane/internal/platform/db"
	"github.com/eczane/eczane/internal/platform/notification"
)

const (
	numberConstraint      = "orders_order_number_key"
	defaultNumberAttempts = 5

	// MinCancelReasonLength applies to cancellations not made by the
	// order's patient.
	MinCancelReasonLength = 10

	noteCreated          = "Sipariş oluşturuldu"
	noteApproved         = "Sipariş onaylandı"
	defaultPatientReason = "Hasta tarafından iptal edildi"
)

// PharmacyDirectory resolves pharmacies for ordering.
type PharmacyDirectory interface {
	GetApproved(ctx context.Context, id uuid.UUID) (*pharmacy.Pharmacy, error)
	Get(ctx context.Context, id uuid.UUID) (*pharmacy.Pharmacy, error)
}

// StockLedger is the part of the stock ledger the lifecycle drives.
type StockLedger interface {
	Reserve(ctx context.Context, pharmacyID uuid.UUID, demand map[uuid.UUID]int) error
	Debit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) error
	Credit(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int) error
}

// PrescriptionGate checks and consumes prescriptions.
type PrescriptionGate interface {
	ValidateForOrder(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
	RequirePrescriptionFree(ctx context.Context, drugIDs []uuid.UUID) error
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

// PatientDirectory maps a patient profile to its owning user.
type PatientDirectory interface {
	PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
}

// Notifier delivers notifications without blocking the caller.
type Notifier interface {
	Dispatch(ns ...notification.Notification)
}

// Service runs the order lifecycle. Every operation runs in one database
// transaction; notifications are handed to the Notifier only after commit.
type Service struct {
	orders        Repository
	pharmacies    PharmacyDirectory
	stock         StockLedger
	prescriptions PrescriptionGate
	patients      PatientDirectory
	tx            db.Transactor
	notifier      Notifier
	templates     *notification.TemplateEngine
	logger        zerolog.Logger
	tracer        trace.Tracer

	now            func() time.Time
	newNumber      NumberFunc
	numberAttempts int
	strictTotals   bool
}

func NewService(
	orders Repository,
	pharmacies PharmacyDirectory,
	stock StockLedger,
	prescriptions PrescriptionGate,
	patients PatientDirectory,
	tx db.Transactor,
	notifier Notifier,
	logger zerolog.Logger,
) *Service {
	return &Service{
		orders:         orders,
		pharmacies:     pharmacies,
		stock:          stock,
		prescriptions:  prescriptions,
		patients:       patients,
		tx:             tx,
		notifier:       notifier,
		templates:      notification.NewTemplateEngine(),
		logger:         logger.With().Str("component", "order").Logger(),
		tracer:         otel.Tracer("github.com/eczane/eczane/internal/domain/order"),
		now:            time.Now,
		newNumber:      NewNumber,
		numberAttempts: defaultNumberAttempts,
	}
}

// SetClock replaces the service's source of the current time.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetNumberFunc replaces the order number generator.
func (s *Service) SetNumberFunc(fn NumberFunc) { s.newNumber = fn }

// SetNumberAttempts bounds how many order numbers are tried when inserts
// collide on the unique order number.
func (s *Service) SetNumberAttempts(n int) {
	if n > 0 {
		s.numberAttempts = n
	}
}

// SetStrictLineTotals makes CreateOrder reject lines whose subtotal is not
// quantity times unit price.
func (s *Service) SetStrictLineTotals(strict bool) { s.strictTotals = strict }

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateInput is a patient's order request.
type CreateInput struct {
	PatientID       uuid.UUID
	PharmacyID      uuid.UUID
	PrescriptionID  *uuid.UUID
	Lines           []LineInput
	DeliveryAddress string
	Note            string
	ActorUserID     uuid.UUID
}

// CreateOrder places an order in PENDING with payment PAID. Stock for every
// line is checked before anything is written and the whole order fails on
// any shortage.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (o *Order, err error) {
	ctx, span := s.startSpan(ctx, "order.create",
		attribute.String("pharmacy.id", in.PharmacyID.String()),
		attribute.Int("order.lines", len(in.Lines)))
	defer func() { endSpan(span, err) }()

	if in.PatientID == uuid.Nil || in.PharmacyID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient and pharmacy are required", ErrInvalidArgument)
	}
	address := strings.TrimSpace(in.DeliveryAddress)
	if address == "" {
		return nil, fmt.Errorf("%w: delivery_address is required", ErrInvalidArgument)
	}
	lines, err := buildLines(in.Lines, s.strictTotals)
	if err != nil {
		return nil, err
	}

	var outbox []notification.Notification
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		ph, err := s.pharmacies.GetApproved(ctx, in.PharmacyID)
		if err != nil {
			return err
		}

		demand := Demand(lines)
		drugIDs := stock.SortedDrugIDs(demand)
		if err := s.stock.Reserve(ctx, ph.ID, demand); err != nil {
			return err
		}

		if in.PrescriptionID == nil {
			if err := s.prescriptions.RequirePrescriptionFree(ctx, drugIDs); err != nil {
				return err
			}
		} else if _, err := s.prescriptions.ValidateForOrder(ctx, *in.PrescriptionID); err != nil {
			return err
		}

		o = &Order{
			PatientID:       in.PatientID,
			PharmacyID:      ph.ID,
			PrescriptionID:  in.PrescriptionID,
			Lines:           lines,
			Total:           Compute(lines),
			Status:          StatusPending,
			PaymentStatus:   PaymentPaid,
			DeliveryAddress: address,
		}
		if note := strings.TrimSpace(in.Note); note != "" {
			o.Note = &note
		}
		if err := s.insert(ctx, o); err != nil {
			return err
		}

		for _, id := range drugIDs {
			if err := s.stock.Debit(ctx, ph.ID, id, demand[id]); err != nil {
				return err
			}
		}

		h, err := s.appendHistory(ctx, o.ID, nil, StatusPending, noteCreated, in.ActorUserID)
		if err != nil {
			return err
		}
		o.History = []HistoryEntry{*h}

		if o.PrescriptionID != nil {
			if err := s.prescriptions.MarkUsed(ctx, *o.PrescriptionID); err != nil {
				return err
			}
		}

		outbox = s.appendNotification(ctx, outbox, notification.TplOrderCreated, ph.UserID,
			pharmacyLink(o.ID), map[string]string{
				"order_number": o.Number,
				"total":        o.Total.StringFixed(2),
			})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Dispatch(outbox...)
	span.SetAttributes(attribute.String("order.id", o.ID.String()))
	s.log(ctx).Info().
		Str("order_id", o.ID.String()).
		Str("order_number", o.Number).
		Str("pharmacy_id", o.PharmacyID.String()).
		Str("total", o.Total.StringFixed(2)).
		Msg("order created")
	return o, nil
}

// insert stores o under a fresh order number, retrying with a new number
// when the previous one is already taken.
func (s *Service) insert(ctx context.Context, o *Order) error {
	for attempt := 1; ; attempt++ {
		number, err := s.newNumber(s.now())
		if err != nil {
			return fmt.Errorf("generate order number: %w", err)
		}
		o.Number = number

		err = db.Savepoint(ctx, func(ctx context.Context) error {
			return s.orders.Create(ctx, o)
		})
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, numberConstraint) || attempt >= s.numberAttempts {
			return fmt.Errorf("insert order: %w", err)
		}
		s.log(ctx).Debug().Str("order_number", number).Int("attempt", attempt).Msg("order number collision")
	}
}

// UpdateStatus moves the order to status to. Moving to CANCELLED goes
// through Cancel so that stock is returned.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actorUserID uuid.UUID, note string) (o *Order, err error) {
	if to == StatusCancelled {
		return s.Cancel(ctx, id, note, actorUserID)
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, to)
	}

	ctx, span := s.startSpan(ctx, "order.update_status",
		attribute.String("order.id", id.String()),
		attribute.String("order.status.to", string(to)))
	defer func() { endSpan(span, err) }()

	var (
		outbox []notification.Notification
		from   Status
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		o = cur
		from = o.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		o.Status = to
		if to == StatusDelivered {
			o.PaymentStatus = PaymentPaid
		}
		if err := s.orders.UpdateStatus(ctx, o); err != nil {
			return err
		}
		_, err = s.appendHistory(ctx, o.ID, &from, to, note, actorUserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// The recipient is resolved after commit; a failed lookup only costs the
	// notification.
	if patientUser, err := s.patients.PatientUserID(ctx, o.PatientID); err != nil {
		s.log(ctx).Warn().Err(err).
			Str("order_id", o.ID.String()).
			Str("patient_id", o.PatientID.String()).
			Msg("status notification skipped: patient user not resolved")
	} else {
		outbox = s.appendNotification(ctx, outbox, statusTemplate(to), patientUser,
			patientLink(o.ID), map[string]string{
				"order_number": o.Number,
				"status":       to.Label(),
			})
	}
	s.notifier.Dispatch(outbox...)
	s.log(ctx).Info().
		Str("order_id", o.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("order status changed")
	return o, nil
}

// Approve is the pharmacy's acceptance of a pending order.
func (s *Service) Approve(ctx context.Context, id, actorUserID uuid.UUID) (*Order, error) {
	return s.UpdateStatus(ctx, id, StatusApproved, actorUserID, noteApproved)
}

// Cancel cancels an order that has not started preparation, returns its
// stock and refunds it. The party that did not cancel is notified. The
// patient may cancel without a reason; anyone else must give one of at
// least MinCancelReasonLength characters.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actorUserID uuid.UUID) (o *Order, err error) {
	ctx, span := s.startSpan(ctx, "order.cancel", attribute.String("order.id", id.String()))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	var (
		outbox    []notification.Notification
		byPatient bool
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		o = cur
		from := o.Status
		if !CanTransition(from, StatusCancelled) {
			return fmt.Errorf("%w: %s order cannot be cancelled", ErrInvalidTransition, from)
		}

		patientUser, err := s.patients.PatientUserID(ctx, o.PatientID)
		if err != nil {
			return fmt.Errorf("resolve patient user: %w", err)
		}
		byPatient = actorUserID == patientUser
		if reason == "" && byPatient {
			reason = defaultPatientReason
		}
		if !byPatient && utf8.RuneCountInString(reason) < MinCancelReasonLength {
			return fmt.Errorf("%w: cancellation reason must be at least %d characters", ErrInvalidArgument, MinCancelReasonLength)
		}

		demand := Demand(o.Lines)
		for _, drugID := range stock.SortedDrugIDs(demand) {
			if err := s.stock.Credit(ctx, o.PharmacyID, drugID, demand[drugID]); err != nil {
				return err
			}
		}

		o.Status = StatusCancelled
		o.PaymentStatus = PaymentRefunded
		o.CancellationReason = &reason
		if err := s.orders.UpdateStatus(ctx, o); err != nil {
			return err
		}
		if _, err := s.appendHistory(ctx, o.ID, &from, StatusCancelled, "İptal nedeni: "+reason, actorUserID); err != nil {
			return err
		}

		if !byPatient {
			outbox = s.appendNotification(ctx, outbox, notification.TplOrderCancelledByPharmacy,
				patientUser, patientLink(o.ID), map[string]string{"order_number": o.Number})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if byPatient {
		if ph, err := s.pharmacies.Get(ctx, o.PharmacyID); err != nil {
			s.log(ctx).Warn().Err(err).
				Str("order_id", o.ID.String()).
				Str("pharmacy_id", o.PharmacyID.String()).
				Msg("cancel notification skipped: pharmacy user not resolved")
		} else {
			outbox = s.appendNotification(ctx, outbox, notification.TplOrderCancelledByPatient,
				ph.UserID, pharmacyLink(o.ID), map[string]string{"order_number": o.Number})
		}
	}
	s.notifier.Dispatch(outbox...)
	s.log(ctx).Info().
		Str("order_id", o.ID.String()).
		Str("actor_user_id", actorUserID.String()).
		Msg("order cancelled")
	return o, nil
}

// Get returns the order with its lines and status history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o.History, err = s.orders.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Order, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	return s.orders.List(ctx, ListFilter{PatientID: patientID, Status: status}, limit, offset)
}

func (s *Service) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, status Status, limit, offset int) ([]*Order, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	return s.orders.List(ctx, ListFilter{PharmacyID: pharmacyID, Status: status}, limit, offset)
}

// List returns orders across all patients and pharmacies.
func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, f.Status)
	}
	return s.orders.List(ctx, f, limit, offset)
}

func (s *Service) appendHistory(ctx context.Context, orderID uuid.UUID, from *Status, to Status, note string, actor uuid.UUID) (*HistoryEntry, error) {
	h := &HistoryEntry{OrderID: orderID, PreviousStatus: from, NewStatus: to}
	if note != "" {
		h.Note = &note
	}
	if actor != uuid.Nil {
		h.ActorUserID = &actor
	}
	if err := s.orders.AppendHistory(ctx, h); err != nil {
		return nil, fmt.Errorf("append status history: %w", err)
	}
	return h, nil
}

// appendNotification renders a notification onto outbox. Rendering
// problems are logged and never fail the order operation.
func (s *Service) appendNotification(ctx context.Context, outbox []notification.Notification, tpl string, userID uuid.UUID, link string, data map[string]string) []notification.Notification {
	n, err := s.templates.Build(tpl, userID, link, data)
	if err != nil {
		s.log(ctx).Error().Err(err).Str("template", tpl).Str("user_id", userID.String()).Msg("build notification")
		return outbox
	}
	return append(outbox, n)
}

func statusTemplate(s Status) string {
	switch s {
	case StatusApproved:
		return notification.TplOrderApproved
	case StatusPreparing:
		return notification.TplOrderPreparing
	case StatusOnTheWay:
		return notification.TplOrderOnTheWay
	case StatusDelivered:
		return notification.TplOrderDelivered
	}
	return notification.TplOrderStatusChanged
}

func pharmacyLink(id uuid.UUID) string { return "/pharmacy/orders/" + id.String() }
func patientLink(id uuid.UUID) string  { return "/patient/orders/" + id.String() }

// IsNotFound reports whether err means a referenced entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, pharmacy.ErrNotFound) ||
		errors.Is(err, prescription.ErrNotFound)
}
