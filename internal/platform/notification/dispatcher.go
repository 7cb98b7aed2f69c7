package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher delivers notifications to a Sink on background goroutines.
// Each delivery runs on its own context bounded by timeout, so it outlives
// the request that produced it. Failures are logged and dropped.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(sink Sink, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		timeout: timeout,
		logger:  logger.With().Str("component", "notification").Logger(),
	}
}

// Dispatch schedules delivery of ns and returns immediately.
func (d *Dispatcher) Dispatch(ns ...Notification) {
	for _, n := range ns {
		d.wg.Add(1)
		go func(n Notification) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error().Interface("panic", r).Str("user_id", n.UserID.String()).Msg("notification sink panicked")
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := d.sink.Notify(ctx, n); err != nil {
				d.logger.Warn().Err(err).
					Str("user_id", n.UserID.String()).
					Str("title", n.Title).
					Msg("notification delivery failed")
			}
		}(n)
	}
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
