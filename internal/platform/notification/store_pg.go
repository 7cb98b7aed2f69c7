package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eczane/eczane/internal/platform/db"
)

var ErrNotFound = errors.New("notification: not found")

// Inbox is the read side of persisted notifications.
type Inbox interface {
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
}

// Store persists notifications to the notifications table. It is both a Sink
// and an Inbox.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

// Notify inserts n. A notification carrying an already stored event id is
// ignored, which makes relayed deliveries idempotent.
func (s *Store) Notify(ctx context.Context, n Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if !n.Type.Valid() {
		return fmt.Errorf("invalid notification type %q", n.Type)
	}

	var eventID *string
	if n.EventID != "" {
		eventID = &n.EventID
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (id, event_id, user_id, title, message, type, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (event_id) DO NOTHING`,
		n.ID, eventID, n.UserID, n.Title, n.Message, string(n.Type), n.Link, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := `WHERE user_id = $1`
	if unreadOnly {
		where += ` AND read = FALSE`
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, COALESCE(event_id, ''), user_id, title, message, type, link, read, created_at
		FROM notifications `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		var n Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.EventID, &n.UserID, &n.Title, &n.Message, &typ, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		n.Type = Type(typ)
		items = append(items, &n)
	}
	return items, total, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var (
	_ Sink  = (*Store)(nil)
	_ Inbox = (*Store)(nil)
)
