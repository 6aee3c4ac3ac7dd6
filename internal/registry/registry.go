// Package registry owns the set of running capture loops, keyed by source id.
//
// The registry controls loop lifecycle only; detections flow from the loops to
// the dispatcher without passing through here. Loop start/stop I/O never runs
// while the registry lock is held.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Rishiwins/attendance-tracker/internal/capture"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

var (
	// ErrInvalidInput is returned for empty ids or addresses
	ErrInvalidInput = errors.New("registry: invalid input")
	// ErrSourceExists is returned when adding an id that is registered (or being added)
	ErrSourceExists = errors.New("registry: source already exists")
	// ErrSourceNotFound is returned for unknown ids
	ErrSourceNotFound = errors.New("registry: source not found")
	// ErrStartFailed is returned when the loop for a new source cannot start
	ErrStartFailed = errors.New("registry: source failed to start")
)

// Loop is the lifecycle surface the registry needs from a capture loop
type Loop interface {
	Start(ctx context.Context) error
	Stop() error
	IsAlive() bool
	Address() string
	FrameAvailable() bool
	LatestFrame() (types.Frame, bool)
	Stats() capture.Stats
}

// LoopFactory builds an unstarted loop for a source
type LoopFactory func(sourceID, address string) (Loop, error)

// Source is a configured camera
type Source struct {
	ID      string `yaml:"id" json:"id"`
	Address string `yaml:"address" json:"address"`
	Active  bool   `yaml:"active" json:"active"`
}

// SourceStatus is a point-in-time view of one registered source
type SourceStatus struct {
	Alive          bool          `json:"alive"`
	Address        string        `json:"address"`
	FrameAvailable bool          `json:"frame_available"`
	Stats          capture.Stats `json:"stats"`
}

// Registry maps source ids to running capture loops
type Registry struct {
	mu      sync.RWMutex
	loops   map[string]Loop
	pending map[string]struct{}

	factory LoopFactory
	logger  *slog.Logger
}

// New creates an empty registry
func New(factory LoopFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		loops:   make(map[string]Loop),
		pending: make(map[string]struct{}),
		factory: factory,
		logger:  logger,
	}
}

// Add creates and starts a loop for the source. On start failure nothing is registered.
func (r *Registry) Add(ctx context.Context, id, address string) error {
	id, address = strings.TrimSpace(id), strings.TrimSpace(address)
	if id == "" || address == "" {
		return fmt.Errorf("%w: source id and address are required", ErrInvalidInput)
	}

	// Reserve the id so concurrent adds of the same source fail fast.
	r.mu.Lock()
	if _, ok := r.loops[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSourceExists, id)
	}
	if _, ok := r.pending[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSourceExists, id)
	}
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	loop, err := r.start(ctx, id, address)

	r.mu.Lock()
	delete(r.pending, id)
	if err == nil {
		r.loops[id] = loop
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("registry: failed to add source", "source_id", id, "address", address, "error", err)
		return err
	}
	r.logger.Info("registry: source added", "source_id", id, "address", address)
	return nil
}

func (r *Registry) start(ctx context.Context, id, address string) (Loop, error) {
	loop, err := r.factory(id, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, id, err)
	}
	// The loop outlives the request that added it.
	if err := loop.Start(context.WithoutCancel(ctx)); err != nil {
		_ = loop.Stop()
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, id, err)
	}
	return loop, nil
}

// Remove stops the loop and forgets the source
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	loop, ok := r.loops[id]
	if ok {
		delete(r.loops, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}

	if err := loop.Stop(); err != nil {
		// The source handle is released even when the loop was slow to exit.
		r.logger.Warn("registry: source stopped with error", "source_id", id, "error", err)
	}
	r.logger.Info("registry: source removed", "source_id", id)
	return nil
}

// Restart removes the source and adds it again with the same address.
// If the new loop cannot start the source stays absent.
func (r *Registry) Restart(ctx context.Context, id string) error {
	r.mu.RLock()
	loop, ok := r.loops[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	address := loop.Address()

	if err := r.Remove(id); err != nil {
		return err
	}
	return r.Add(ctx, id, address)
}

// Status returns a snapshot of every registered source
func (r *Registry) Status() map[string]SourceStatus {
	r.mu.RLock()
	loops := make(map[string]Loop, len(r.loops))
	for id, l := range r.loops {
		loops[id] = l
	}
	r.mu.RUnlock()

	out := make(map[string]SourceStatus, len(loops))
	for id, l := range loops {
		out[id] = SourceStatus{
			Alive:          l.IsAlive(),
			Address:        l.Address(),
			FrameAvailable: l.FrameAvailable(),
			Stats:          l.Stats(),
		}
	}
	return out
}

// Frame returns a copy of the latest frame of a source. ok is false when no
// frame has been captured yet.
func (r *Registry) Frame(id string) (frame types.Frame, ok bool, err error) {
	r.mu.RLock()
	loop, found := r.loops[id]
	r.mu.RUnlock()

	if !found {
		return types.Frame{}, false, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	frame, ok = loop.LatestFrame()
	return frame, ok, nil
}

// Active returns the sorted ids of sources whose loop is alive
func (r *Registry) Active() []string {
	var ids []string
	for id, st := range r.Status() {
		if st.Alive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered sources
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loops)
}

// StartAll adds every active configured source concurrently. Inactive entries
// are skipped. Failures are logged and joined; successful sources stay running.
func (r *Registry) StartAll(ctx context.Context, sources []Source) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(4)
	for _, src := range sources {
		if !src.Active {
			r.logger.Info("registry: skipping inactive source", "source_id", src.ID)
			continue
		}
		src := src
		g.Go(func() error {
			if err := r.Add(ctx, src.ID, src.Address); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// StopAll stops and removes every source concurrently
func (r *Registry) StopAll() {
	r.mu.Lock()
	loops := r.loops
	r.loops = make(map[string]Loop)
	r.mu.Unlock()

	var g errgroup.Group
	for id, loop := range loops {
		id, loop := id, loop
		g.Go(func() error {
			if err := loop.Stop(); err != nil {
				r.logger.Warn("registry: source stopped with error", "source_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("registry: all sources stopped", "count", len(loops))
}
