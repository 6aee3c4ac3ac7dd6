package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

func batch(person string) types.DetectionBatch {
	now := time.Now()
	return types.DetectionBatch{
		SourceID:  "cam-1",
		Timestamp: now,
		Events: []types.IdentificationEvent{
			{SourceID: "cam-1", Timestamp: now, PersonID: person, Confidence: 0.9},
		},
	}
}

// TestDeliveryOrder verifies consumers see each batch in registration order.
func TestDeliveryOrder(t *testing.T) {
	d := New(nil)
	defer d.Close()

	var mu sync.Mutex
	var order []string
	for _, id := range []string{"engine", "emitter", "audit"} {
		id := id
		if err := d.Register(ConsumerFunc(id, func(ctx context.Context, b types.DetectionBatch) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		})); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}

	d.Dispatch(context.Background(), batch("alice"))

	want := []string{"engine", "emitter", "audit"}
	if len(order) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery %d: got %s, want %s", i, order[i], want[i])
		}
	}
}

// TestFailureIsolation verifies errors and panics do not stop other consumers.
func TestFailureIsolation(t *testing.T) {
	d := New(nil)
	defer d.Close()

	received := 0
	d.Register(ConsumerFunc("erroring", func(ctx context.Context, b types.DetectionBatch) error {
		return errors.New("store unavailable")
	}))
	d.Register(ConsumerFunc("panicking", func(ctx context.Context, b types.DetectionBatch) error {
		panic("boom")
	}))
	d.Register(ConsumerFunc("healthy", func(ctx context.Context, b types.DetectionBatch) error {
		received++
		return nil
	}))

	d.Dispatch(context.Background(), batch("alice"))
	d.Dispatch(context.Background(), batch("bob"))

	if received != 2 {
		t.Errorf("healthy consumer received %d batches, want 2", received)
	}

	stats := d.Stats()
	if stats.Dispatched != 2 {
		t.Errorf("Dispatched = %d, want 2", stats.Dispatched)
	}
	if s := stats.Consumers["erroring"]; s.Failed != 2 || s.Delivered != 0 {
		t.Errorf("erroring stats = %+v", s)
	}
	if s := stats.Consumers["panicking"]; s.Failed != 2 {
		t.Errorf("panicking stats = %+v", s)
	}
	if s := stats.Consumers["healthy"]; s.Delivered != 2 || s.Failed != 0 {
		t.Errorf("healthy stats = %+v", s)
	}
}

func TestRegisterUnregister(t *testing.T) {
	d := New(nil)

	noop := func(ctx context.Context, b types.DetectionBatch) error { return nil }

	if err := d.Register(ConsumerFunc("a", noop)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register(ConsumerFunc("a", noop)); !errors.Is(err, ErrConsumerExists) {
		t.Errorf("duplicate Register: expected ErrConsumerExists, got %v", err)
	}
	if err := d.Register(nil); !errors.Is(err, ErrNilConsumer) {
		t.Errorf("nil Register: expected ErrNilConsumer, got %v", err)
	}
	if err := d.Unregister("missing"); !errors.Is(err, ErrConsumerNotFound) {
		t.Errorf("Unregister missing: expected ErrConsumerNotFound, got %v", err)
	}
	if err := d.Unregister("a"); err != nil {
		t.Errorf("Unregister: %v", err)
	}
	if _, ok := d.Stats().Consumers["a"]; ok {
		t.Error("unregistered consumer still in stats")
	}

	d.Close()
	d.Close()
	if err := d.Register(ConsumerFunc("b", noop)); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Register after Close: expected ErrDispatcherClosed, got %v", err)
	}
	// Dispatch after Close is a silent no-op.
	d.Dispatch(context.Background(), batch("alice"))
}

// TestUnregisterFromHandler verifies a consumer may unregister itself during delivery.
func TestUnregisterFromHandler(t *testing.T) {
	d := New(nil)
	defer d.Close()

	calls := 0
	d.Register(ConsumerFunc("once", func(ctx context.Context, b types.DetectionBatch) error {
		calls++
		return d.Unregister("once")
	}))

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), batch("alice"))
		d.Dispatch(context.Background(), batch("alice"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch deadlocked")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
