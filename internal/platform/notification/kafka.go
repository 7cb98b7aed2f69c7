package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event is the wire envelope published for every notification.
type Event struct {
	EventID      string       `json:"event_id"`
	OccurredAt   time.Time    `json:"occurred_at"`
	Notification Notification `json:"notification"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a Sink that writes notifications to a Kafka topic keyed by
// recipient, so one user's notifications stay ordered within a partition.
type Publisher struct {
	w   messageWriter
	now func() time.Time
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		now: time.Now,
	}
}

func (p *Publisher) Notify(ctx context.Context, n Notification) error {
	evt := Event{
		EventID:      ulid.Make().String(),
		OccurredAt:   p.now().UTC(),
		Notification: n,
	}
	evt.Notification.EventID = evt.EventID

	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode notification event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.UserID.String()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.EventID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// Relay consumes notification events and hands them to a Sink, committing the
// offset only after the sink accepted the message. Delivery is at-least-once:
// when the sink keeps failing Run stops without committing, and the group
// resumes from that offset on the next start. The inbox store ignores
// duplicate event ids.
type Relay struct {
	r        messageReader
	sink     Sink
	logger   zerolog.Logger
	attempts int
	backoff  time.Duration
}

func NewRelay(brokers []string, group, topic string, sink Sink, logger zerolog.Logger) *Relay {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return &Relay{
		r:        r,
		sink:     sink,
		logger:   logger.With().Str("component", "relay").Logger(),
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled, the reader fails or the sink rejects a
// message on every attempt.
func (r *Relay) Run(ctx context.Context) error {
	defer r.r.Close()

	for {
		m, err := r.r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := r.deliver(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error().Err(err).Int64("offset", m.Offset).Int("partition", m.Partition).Msg("relay notification failed")
			return fmt.Errorf("relay offset %d: %w", m.Offset, err)
		}
		if err := r.r.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, m kafka.Message) error {
	attempts := max(r.attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.logger.Warn().Err(err).Int64("offset", m.Offset).Int("attempt", i+1).Msg("retrying notification")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff * time.Duration(i)):
			}
		}
		if err = r.handle(ctx, m); err == nil {
			return nil
		}
	}
	return err
}

func (r *Relay) handle(ctx context.Context, m kafka.Message) error {
	var evt Event
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		// poison message: log and skip so it does not block the partition
		r.logger.Warn().Err(err).Int64("offset", m.Offset).Msg("dropping undecodable notification event")
		return nil
	}
	n := evt.Notification
	if n.EventID == "" {
		n.EventID = evt.EventID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = evt.OccurredAt
	}
	return r.sink.Notify(ctx, n)
}
