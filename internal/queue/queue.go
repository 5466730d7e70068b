package queue

import (
	"context"
	"errors"
	"sync"

	"conviction-engine/internal/domain"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("outcome queue closed")

// Delivery is one received outcome. It must be acked only after it was applied.
// DecodeErr is set for payloads that could not be parsed; those are acked and dropped.
type Delivery struct {
	Outcome   domain.TradeOutcome
	DecodeErr error
	ack       func(ctx context.Context) error
}

// NewDelivery wraps an outcome with the callback that acknowledges it.
func NewDelivery(outcome domain.TradeOutcome, ack func(ctx context.Context) error) Delivery {
	return Delivery{Outcome: outcome, ack: ack}
}

func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

type Publisher interface {
	Publish(ctx context.Context, outcome domain.TradeOutcome) error
}

type Consumer interface {
	Receive(ctx context.Context) (Delivery, error)
}

type Queue interface {
	Publisher
	Consumer
	Close() error
}

// MemoryQueue is an in-process queue used when no broker is configured. Delivery is
// at-most-once across restarts; within the process the consumer retries before acking.
type MemoryQueue struct {
	ch        chan domain.TradeOutcome
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan domain.TradeOutcome, size), done: make(chan struct{})}
}

func (q *MemoryQueue) Publish(ctx context.Context, outcome domain.TradeOutcome) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- outcome:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	select {
	case o := <-q.ch:
		return Delivery{Outcome: o}, nil
	case <-q.done:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Len reports the number of buffered outcomes.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Close stops the queue. Outcomes still buffered are lost and logged with their count.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
		if n := len(q.ch); n > 0 {
			log.Warn().Int("dropped", n).Msg("in-process outcome queue closed with unapplied trade outcomes")
		}
	})
	return nil
}
