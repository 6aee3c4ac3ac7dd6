// Package dispatch fans detection batches out to registered consumers.
//
// Delivery is synchronous and happens on the caller's goroutine (the capture
// loop that produced the batch). There is no buffering and no reordering.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

type consumerHolder struct {
	consumer  Consumer
	delivered uint64
	failed    uint64
}

// Dispatcher delivers batches to consumers in registration order
type Dispatcher struct {
	mu         sync.RWMutex
	consumers  []*consumerHolder
	dispatched uint64
	closed     bool
	logger     *slog.Logger
}

// New creates a dispatcher
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Register appends a consumer
func (d *Dispatcher) Register(c Consumer) error {
	if c == nil {
		return ErrNilConsumer
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	for _, h := range d.consumers {
		if h.consumer.ID() == c.ID() {
			return fmt.Errorf("%w: %s", ErrConsumerExists, c.ID())
		}
	}

	d.consumers = append(d.consumers, &consumerHolder{consumer: c})
	d.logger.Info("dispatch: consumer registered", "consumer", c.ID())
	return nil
}

// Unregister removes a consumer. Batches already in flight may still reach it.
func (d *Dispatcher) Unregister(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, h := range d.consumers {
		if h.consumer.ID() == id {
			d.consumers = append(d.consumers[:i:i], d.consumers[i+1:]...)
			d.logger.Info("dispatch: consumer unregistered", "consumer", id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrConsumerNotFound, id)
}

// Dispatch delivers the batch to every consumer, one after another.
// A failing or panicking consumer does not prevent delivery to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, batch types.DetectionBatch) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	// Snapshot so consumers can (un)register from inside a handler without deadlocking.
	holders := make([]*consumerHolder, len(d.consumers))
	copy(holders, d.consumers)
	d.mu.RUnlock()

	atomic.AddUint64(&d.dispatched, 1)

	for _, h := range holders {
		if err := d.deliver(ctx, h.consumer, batch); err != nil {
			atomic.AddUint64(&h.failed, 1)
			d.logger.Error("dispatch: consumer failed",
				"consumer", h.consumer.ID(),
				"source_id", batch.SourceID,
				"events", len(batch.Events),
				"error", err,
			)
			continue
		}
		atomic.AddUint64(&h.delivered, 1)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, c Consumer, batch types.DetectionBatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: consumer panic: %v", r)
		}
	}()
	return c.HandleDetections(ctx, batch)
}

// Stats returns a snapshot of delivery counters
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Stats{
		Dispatched: atomic.LoadUint64(&d.dispatched),
		Consumers:  make(map[string]ConsumerStats, len(d.consumers)),
	}
	for _, h := range d.consumers {
		stats.Consumers[h.consumer.ID()] = ConsumerStats{
			Delivered: atomic.LoadUint64(&h.delivered),
			Failed:    atomic.LoadUint64(&h.failed),
		}
	}
	return stats
}

// Close drops all consumers; later batches are discarded
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	d.consumers = nil
}
