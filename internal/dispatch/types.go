package dispatch

import (
	"context"
	"errors"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// Consumer receives every detection batch, in registration order
type Consumer interface {
	// ID uniquely identifies the consumer within a dispatcher
	ID() string
	// HandleDetections processes one batch. Errors are logged and counted;
	// they never stop delivery to the remaining consumers.
	HandleDetections(ctx context.Context, batch types.DetectionBatch) error
}

// ConsumerFunc adapts a function to the Consumer interface
func ConsumerFunc(id string, fn func(ctx context.Context, batch types.DetectionBatch) error) Consumer {
	return &funcConsumer{id: id, fn: fn}
}

type funcConsumer struct {
	id string
	fn func(ctx context.Context, batch types.DetectionBatch) error
}

func (c *funcConsumer) ID() string { return c.id }

func (c *funcConsumer) HandleDetections(ctx context.Context, batch types.DetectionBatch) error {
	return c.fn(ctx, batch)
}

// ConsumerStats contains delivery counters for one consumer
type ConsumerStats struct {
	Delivered uint64 `json:"delivered"` // Batches handled without error
	Failed    uint64 `json:"failed"`    // Batches that returned an error or panicked
}

// Stats contains dispatcher-wide counters
type Stats struct {
	Dispatched uint64                   `json:"dispatched"`
	Consumers  map[string]ConsumerStats `json:"consumers"`
}

var (
	// ErrConsumerExists is returned when registering a duplicate consumer ID
	ErrConsumerExists = errors.New("dispatch: consumer already registered")

	// ErrConsumerNotFound is returned when unregistering an unknown consumer
	ErrConsumerNotFound = errors.New("dispatch: consumer not found")

	// ErrNilConsumer is returned when registering a nil consumer
	ErrNilConsumer = errors.New("dispatch: consumer is nil")

	// ErrDispatcherClosed is returned when registering on a closed dispatcher
	ErrDispatcherClosed = errors.New("dispatch: dispatcher is closed")
)
