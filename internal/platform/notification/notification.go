// Package notification carries user-facing notifications from the order
// lifecycle to their recipients: template rendering, an asynchronous
// dispatcher, a PostgreSQL inbox and a Kafka publisher/relay pair.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for the recipient's inbox.
type Type string

const (
	TypeOrder   Type = "ORDER"
	TypeSystem  Type = "SYSTEM"
	TypePayment Type = "PAYMENT"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	switch t {
	case TypeOrder, TypeSystem, TypePayment:
		return true
	}
	return false
}

// Notification is a single message addressed to one user.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	EventID   string    `json:"event_id,omitempty"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	Link      *string   `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives notifications. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template IDs used by the order lifecycle.
const (
	TplOrderCreated             = "order-created"
	TplOrderApproved            = "order-approved"
	TplOrderPreparing           = "order-preparing"
	TplOrderOnTheWay            = "order-on-the-way"
	TplOrderDelivered           = "order-delivered"
	TplOrderStatusChanged       = "order-status-changed"
	TplOrderCancelledByPatient  = "order-cancelled-by-patient"
	TplOrderCancelledByPharmacy = "order-cancelled-by-pharmacy"
)

// Template defines a reusable notification text.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  Type   `json:"type"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    TplOrderCreated,
			Title: "Yeni Sipariş",
			Body:  "#{{order_number}} numaralı yeni sipariş geldi. Toplam: {{total}} TL",
			Type:  TypeOrder,
		},
		{
			ID:    TplOrderApproved,
			Title: "Sipariş Güncelleme",
			Body:  "#{{order_number}} numaralı siparişiniz onaylandı",
			Type:  TypeOrder,
		},
		{
			ID:    TplOrderPreparing,
			Title: "Sipariş Güncelleme",
			Body:  "#{{order_number}} numaralı siparişiniz hazırlanıyor",
			Type:  TypeOrder,
		},
		{
			ID:    TplOrderOnTheWay,
			Title: "Sipariş Güncelleme",
			Body:  "#{{order_number}} numaralı siparişiniz yola çıktı",
			Type:  TypeOrder,
		},
		{
			ID:    TplOrderDelivered,
			Title: "Sipariş Güncelleme",
			Body:  "#{{order_number}} numaralı siparişiniz teslim edildi",
			Type:  TypeOrder,
		},
		{
			ID:    TplOrderStatusChanged,
			Title: "Sipariş Güncelleme",
			Body:  "#{{order_number}} numaralı sipariş durumu: {{status}}",
			Type:  TypeOrder,
		},
		{
			ID:    TplOrderCancelledByPatient,
			Title: "Sipariş İptal Edildi",
			Body:  "#{{order_number}} numaralı sipariş hasta tarafından iptal edildi",
			Type:  TypeOrder,
		},
		{
			ID:    TplOrderCancelledByPharmacy,
			Title: "Sipariş İptal Edildi",
			Body:  "#{{order_number}} numaralı siparişiniz eczane tarafından iptal edildi. Ödeme iade edilecektir.",
			Type:  TypeOrder,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	title = t.Title
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// Build renders templateID for userID into a Notification. link may be empty.
func (e *TemplateEngine) Build(templateID string, userID uuid.UUID, link string, data map[string]string) (Notification, error) {
	title, body, err := e.Render(templateID, data)
	if err != nil {
		return Notification{}, err
	}

	e.mu.RLock()
	typ := e.templates[templateID].Type
	e.mu.RUnlock()

	n := Notification{UserID: userID, Title: title, Message: body, Type: typ}
	if link != "" {
		n.Link = &link
	}
	return n, nil
}
