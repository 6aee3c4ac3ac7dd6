package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// Loop keeps one video source alive and samples it for identification
type Loop struct {
	cfg        Config
	opener     Opener
	classifier types.Classifier
	sink       Sink
	logger     *slog.Logger
	clock      func() time.Time

	// Lifecycle (guarded by mu)
	mu     sync.Mutex
	src    Source
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	active   atomic.Bool
	stopping atomic.Bool

	slot  frameSlot
	queue *frameQueue

	// Statistics (atomic for thread-safety)
	seq            uint64
	framesRead     uint64
	readErrors     uint64
	samples        uint64
	classifyErrors uint64
	eventsEmitted  uint64
	reopens        uint64
	started        time.Time
}

// NewLoop creates a capture loop with fail-fast validation
func NewLoop(cfg Config, opener Opener, classifier types.Classifier, sink Sink, logger *slog.Logger) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, fmt.Errorf("%w: opener is required", ErrInvalidConfig)
	}
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		cfg:        cfg,
		opener:     opener,
		classifier: classifier,
		sink:       sink,
		logger:     logger.With("source_id", cfg.SourceID),
		clock:      time.Now,
		queue:      newFrameQueue(cfg.QueueSize),
	}, nil
}

// SourceID returns the camera id
func (l *Loop) SourceID() string { return l.cfg.SourceID }

// Address returns the configured source address
func (l *Loop) Address() string { return l.cfg.Address }

// Start opens the source and launches the capture goroutine.
//
// An open failure is returned as an error matching ErrOpenFailed; the loop is
// left unstarted and may be discarded. ctx bounds the lifetime of the loop.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoopClosed
	}
	if l.cancel != nil {
		return ErrAlreadyStarted
	}

	src, err := l.opener.Open(ctx, l.cfg.Address)
	if err != nil {
		l.logger.Error("capture: failed to open source", "address", l.cfg.Address, "error", err)
		return &OpenError{SourceID: l.cfg.SourceID, Address: l.cfg.Address, Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.src = src
	l.cancel = cancel
	l.done = make(chan struct{})
	l.started = l.clock()
	l.active.Store(true)

	go l.run(runCtx, l.done)

	l.logger.Info("capture: loop started",
		"address", l.cfg.Address,
		"sample_interval", l.cfg.SampleInterval,
		"queue_size", l.cfg.QueueSize,
	)
	return nil
}

// Stop signals the loop to exit, waits up to StopTimeout and then releases the
// source unconditionally. The release is bounded by StopTimeout as well, so Stop
// returns even when the source's Close blocks. Safe to call concurrently with an
// in-flight read and idempotent. A stopped loop cannot be restarted.
func (l *Loop) Stop() error {
	l.mu.Lock()
	l.closed = true
	if l.cancel == nil {
		l.mu.Unlock()
		return nil
	}
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.stopping.Store(true)
	l.active.Store(false)
	l.mu.Unlock()

	l.logger.Info("capture: stopping loop")
	cancel()

	var stopErr error
	select {
	case <-done:
		l.logger.Debug("capture: loop exited cleanly")
	case <-time.After(l.cfg.StopTimeout):
		l.logger.Warn("capture: stop timeout exceeded, releasing source anyway", "timeout", l.cfg.StopTimeout)
		stopErr = fmt.Errorf("%w: %s after %s", ErrStopTimeout, l.cfg.SourceID, l.cfg.StopTimeout)
	}

	// Close may block on a stalled device; bound it like the exit wait.
	released := make(chan error, 1)
	go func() { released <- l.releaseSource() }()
	select {
	case err := <-released:
		if err != nil {
			l.logger.Error("capture: failed to close source", "error", err)
			if stopErr == nil {
				stopErr = fmt.Errorf("capture: close %s: %w", l.cfg.SourceID, err)
			}
		}
	case <-time.After(l.cfg.StopTimeout):
		l.logger.Error("capture: source close did not return, abandoning handle", "timeout", l.cfg.StopTimeout)
		if stopErr == nil {
			stopErr = fmt.Errorf("%w: close %s after %s", ErrStopTimeout, l.cfg.SourceID, l.cfg.StopTimeout)
		}
	}

	l.logger.Info("capture: loop stopped",
		"frames_read", atomic.LoadUint64(&l.framesRead),
		"events_emitted", atomic.LoadUint64(&l.eventsEmitted),
		"reopens", atomic.LoadUint64(&l.reopens),
		"uptime", l.clock().Sub(l.started),
	)
	return stopErr
}

// IsAlive reports whether the loop is flagged active and its goroutine is still running
func (l *Loop) IsAlive() bool {
	if !l.active.Load() {
		return false
	}

	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return false
	}

	select {
	case <-done:
		return false
	default:
		return true
	}
}

// LatestFrame returns a copy of the most recent frame
func (l *Loop) LatestFrame() (types.Frame, bool) {
	return l.slot.Snapshot()
}

// FrameAvailable reports whether at least one frame has been captured
func (l *Loop) FrameAvailable() bool {
	return l.slot.Available()
}

// TryDequeue pulls the oldest queued frame without blocking
func (l *Loop) TryDequeue() (types.Frame, bool) {
	return l.queue.TryGet()
}

// Stats returns current loop statistics (thread-safe snapshot)
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()

	framesRead := atomic.LoadUint64(&l.framesRead)

	var uptime time.Duration
	var fps float64
	if !started.IsZero() {
		uptime = l.clock().Sub(started)
		if s := uptime.Seconds(); s > 0 {
			fps = float64(framesRead) / s
		}
	}

	return Stats{
		FramesRead:     framesRead,
		ReadErrors:     atomic.LoadUint64(&l.readErrors),
		QueueDrops:     l.queue.Drops(),
		Samples:        atomic.LoadUint64(&l.samples),
		ClassifyErrors: atomic.LoadUint64(&l.classifyErrors),
		EventsEmitted:  atomic.LoadUint64(&l.eventsEmitted),
		Reopens:        atomic.LoadUint64(&l.reopens),
		FPSReal:        fps,
		LastFrameAt:    l.slot.UpdatedAt(),
		Uptime:         uptime,
	}
}

// run is the capture goroutine: read, store, sample, repeat until ctx ends
func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var lastSample time.Time
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return
		}

		src := l.source()
		if src == nil {
			if !l.reopen(ctx) {
				return
			}
			continue
		}

		frame, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			atomic.AddUint64(&l.readErrors, 1)
			consecutive++

			if consecutive == 1 {
				l.logger.Warn("capture: failed to read frame, retrying", "error", err, "backoff", l.cfg.ReadBackoff)
			} else {
				l.logger.Debug("capture: read still failing", "error", err, "consecutive", consecutive)
			}

			if l.cfg.ReopenAfter > 0 && consecutive >= l.cfg.ReopenAfter {
				if !l.reopen(ctx) {
					return
				}
				consecutive = 0
				continue
			}

			if !sleepCtx(ctx, l.cfg.ReadBackoff) {
				return
			}
			continue
		}

		if consecutive > 0 {
			l.logger.Info("capture: source recovered", "failed_reads", consecutive)
			consecutive = 0
		}

		now := l.clock()
		frame = l.accept(frame, now)

		if lastSample.IsZero() || now.Sub(lastSample) >= l.cfg.SampleInterval {
			lastSample = now
			l.sample(ctx, frame, now)
		}

		if !sleepCtx(ctx, l.cfg.FrameInterval) {
			return
		}
	}
}

// accept stamps the frame and publishes it to the slot and the queue
func (l *Loop) accept(frame types.Frame, now time.Time) types.Frame {
	atomic.AddUint64(&l.framesRead, 1)

	frame.SourceID = l.cfg.SourceID
	if frame.Seq == 0 {
		frame.Seq = atomic.AddUint64(&l.seq, 1)
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = now
	}
	if frame.TraceID == "" {
		frame.TraceID = uuid.New().String()
	}

	l.slot.Set(frame, now)

	if !l.queue.TryPut(frame.Clone()) {
		l.logger.Debug("capture: dropping frame, queue full", "seq", frame.Seq, "trace_id", frame.TraceID)
	}
	return frame
}

// sample runs the classifier on a frame and emits one event per identified face.
// Classifier errors (and panics) drop the batch; the loop continues.
func (l *Loop) sample(ctx context.Context, frame types.Frame, at time.Time) {
	atomic.AddUint64(&l.samples, 1)

	ids, err := l.identify(ctx, frame.Clone())
	if err != nil {
		atomic.AddUint64(&l.classifyErrors, 1)
		l.logger.Error("capture: classification failed, dropping batch",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return
	}
	if len(ids) == 0 {
		return
	}

	batch := types.DetectionBatch{
		SourceID:  l.cfg.SourceID,
		Timestamp: at,
		FrameSeq:  frame.Seq,
		Events:    make([]types.IdentificationEvent, 0, len(ids)),
	}
	for _, id := range ids {
		batch.Events = append(batch.Events, types.IdentificationEvent{
			SourceID:   l.cfg.SourceID,
			Timestamp:  at,
			PersonID:   id.PersonID,
			Confidence: id.Confidence,
			Box:        id.Box,
			TraceID:    frame.TraceID,
		})
	}

	// No delivery once Stop has begun; batches already handed over may still be processed.
	if l.stopping.Load() {
		l.logger.Debug("capture: loop stopping, batch suppressed", "events", len(batch.Events))
		return
	}

	l.sink.Dispatch(context.WithoutCancel(ctx), batch)
	atomic.AddUint64(&l.eventsEmitted, uint64(len(batch.Events)))

	l.logger.Debug("capture: detections dispatched",
		"seq", frame.Seq,
		"events", len(batch.Events),
		"trace_id", frame.TraceID,
	)
}

func (l *Loop) identify(ctx context.Context, frame types.Frame) (ids []types.Identification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture: classifier panic: %v", r)
		}
	}()
	return l.classifier.Identify(ctx, frame)
}

// reopen closes the current handle and opens a fresh one with exponential backoff.
// Returns false only when ctx ended (or Stop began) before a source could be opened.
func (l *Loop) reopen(ctx context.Context) bool {
	if err := l.releaseSource(); err != nil {
		l.logger.Warn("capture: failed to close source before reopen", "error", err)
	}

	for attempt := 1; ; attempt++ {
		delay := calculateBackoff(attempt, l.cfg.Reopen)
		l.logger.Warn("capture: reopening source", "attempt", attempt, "delay", delay)
		if !sleepCtx(ctx, delay) {
			return false
		}

		src, err := l.opener.Open(ctx, l.cfg.Address)
		if err != nil {
			l.logger.Error("capture: reopen failed", "attempt", attempt, "error", err)
			continue
		}

		l.mu.Lock()
		if l.stopping.Load() {
			l.mu.Unlock()
			_ = src.Close()
			return false
		}
		l.src = src
		l.mu.Unlock()

		atomic.AddUint64(&l.reopens, 1)
		l.logger.Info("capture: source reopened", "attempt", attempt)
		return true
	}
}

func (l *Loop) source() Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src
}

// releaseSource closes and forgets the current handle (no-op when none is held)
func (l *Loop) releaseSource() error {
	l.mu.Lock()
	src := l.src
	l.src = nil
	l.mu.Unlock()

	if src == nil {
		return nil
	}
	return src.Close()
}
