// Package classifier runs face identification in an external worker process.
//
// The worker reads length-prefixed msgpack requests on stdin, one per sampled
// frame, and answers on stdout with the faces it found:
//
//	request:  {id, frame_data (raw RGB24), width, height, format: "rgb24",
//	           meta: {source_id, seq, timestamp, trace_id}}
//	response: {id, faces: [{person_id, confidence, x, y, width, height}],
//	           error?, timing?: {total_ms, ...}}
//
// Responses may arrive in any order; they are matched to requests by id, so
// several capture loops can share one worker. stderr lines are forwarded to
// the logger at the level found in the line ([ERROR], [WARNING], ...).
package classifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

var (
	// ErrNotRunning is returned by Identify when the worker is not started or has exited
	ErrNotRunning = errors.New("classifier: worker not running")
	// ErrTimeout is returned when the worker does not answer within RequestTimeout
	ErrTimeout = errors.New("classifier: request timeout")
	// ErrWorker wraps an error reported by the worker for one request
	ErrWorker = errors.New("classifier: worker error")

	errMalformed = errors.New("classifier: malformed message")
)

// Config configures the worker process
type Config struct {
	Command        string        // Executable, e.g. "models/run_face_worker.sh"
	Args           []string      // Extra arguments
	Env            []string      // Extra KEY=VALUE pairs appended to the process environment
	RequestTimeout time.Duration // Per-frame answer deadline
	WriteTimeout   time.Duration // Deadline for writing one request to stdin
	StopTimeout    time.Duration // Grace period before the process is killed
}

// DefaultConfig returns timeouts suited to a local CPU model
func DefaultConfig(command string, args ...string) Config {
	return Config{
		Command:        command,
		Args:           args,
		RequestTimeout: 5 * time.Second,
		WriteTimeout:   2 * time.Second,
		StopTimeout:    2 * time.Second,
	}
}

// Metrics reports worker health
type Metrics struct {
	Requests     uint64    `json:"requests"`
	Responses    uint64    `json:"responses"`
	Failures     uint64    `json:"failures"`
	Timeouts     uint64    `json:"timeouts"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	Running      bool      `json:"running"`
}

// Worker is a types.Classifier backed by a child process
type Worker struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex // guards cmd, stdin, pending and running transitions
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	exited  chan struct{}
	pending map[uint64]chan response
	wg      sync.WaitGroup

	writeMu  sync.Mutex
	running  atomic.Bool
	stopping atomic.Bool
	nextID  atomic.Uint64

	requests       atomic.Uint64
	responses      atomic.Uint64
	failures       atomic.Uint64
	timeouts       atomic.Uint64
	totalLatencyUS atomic.Uint64
	lastSeenAt     atomic.Value // time.Time
}

var _ types.Classifier = (*Worker)(nil)

// New validates cfg and creates a stopped worker
func New(cfg Config, logger *slog.Logger) (*Worker, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("classifier: command is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:     cfg,
		logger:  logger.With("command", cfg.Command),
		pending: make(map[uint64]chan response),
	}, nil
}

// Start spawns the worker process
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return fmt.Errorf("classifier: worker already started")
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, w.cfg.Command, w.cfg.Args...)
	if len(w.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), w.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("classifier: failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("classifier: failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("classifier: failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("classifier: failed to start worker: %w", err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.cancel = cancel
	w.exited = make(chan struct{})
	w.lastSeenAt.Store(time.Now())
	w.stopping.Store(false)
	w.running.Store(true)

	w.wg.Add(3)
	go w.readResults(stdout)
	go w.logStderr(stderr)
	go w.waitProcess(procCtx, cmd, w.exited)

	w.logger.Info("classifier: worker started", "pid", cmd.Process.Pid)
	return nil
}

// Identify sends frame to the worker and waits for its answer
func (w *Worker) Identify(ctx context.Context, frame types.Frame) ([]types.Identification, error) {
	if !w.running.Load() {
		return nil, ErrNotRunning
	}

	id := w.nextID.Add(1)
	ch := make(chan response, 1)

	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return nil, ErrNotRunning
	}
	w.pending[id] = ch
	stdin, exited := w.stdin, w.exited
	w.mu.Unlock()
	defer w.forget(id)

	w.requests.Add(1)
	started := time.Now()

	req := request{
		ID:        id,
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Format:    "rgb24",
		Meta: requestMeta{
			SourceID:  frame.SourceID,
			Seq:       frame.Seq,
			Timestamp: frame.Timestamp.Format(time.RFC3339Nano),
			TraceID:   frame.TraceID,
		},
	}
	if err := w.send(ctx, stdin, req); err != nil {
		w.failures.Add(1)
		return nil, err
	}

	timer := time.NewTimer(w.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		w.totalLatencyUS.Add(uint64(time.Since(started).Microseconds()))
		if resp.Error != "" {
			w.failures.Add(1)
			return nil, fmt.Errorf("%w: %s", ErrWorker, resp.Error)
		}
		return toIdentifications(resp.Faces), nil
	case <-timer.C:
		w.timeouts.Add(1)
		return nil, fmt.Errorf("%w after %s (frame seq %d)", ErrTimeout, w.cfg.RequestTimeout, frame.Seq)
	case <-exited:
		w.failures.Add(1)
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func toIdentifications(faces []face) []types.Identification {
	out := make([]types.Identification, 0, len(faces))
	for _, f := range faces {
		out = append(out, types.Identification{
			PersonID:   f.PersonID,
			Confidence: f.Confidence,
			Box:        types.BoundingBox{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height},
		})
	}
	return out
}

func (w *Worker) forget(id uint64) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

// send writes one request, giving up after WriteTimeout so a hung worker
// cannot block a capture loop forever.
func (w *Worker) send(ctx context.Context, stdin io.Writer, req request) error {
	errc := make(chan error, 1)
	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		errc <- writeMessage(stdin, req)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("classifier: %w", err)
		}
		return nil
	case <-time.After(w.cfg.WriteTimeout):
		return fmt.Errorf("classifier: stdin write timeout (worker may be hung)")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readResults routes responses to waiting Identify calls
func (w *Worker) readResults(stdout io.Reader) {
	defer w.wg.Done()
	r := bufio.NewReaderSize(stdout, 64<<10)

	for {
		var resp response
		err := readMessage(r, &resp)
		switch {
		case errors.Is(err, errMalformed):
			w.logger.Error("classifier: malformed response", "error", err)
			continue
		case errors.Is(err, io.EOF):
			w.logger.Debug("classifier: worker stdout closed")
			return
		case err != nil:
			w.logger.Error("classifier: failed to read response", "error", err)
			return
		}

		w.responses.Add(1)
		w.lastSeenAt.Store(time.Now())

		w.mu.Lock()
		ch, ok := w.pending[resp.ID]
		w.mu.Unlock()
		if !ok {
			w.logger.Debug("classifier: response for abandoned request", "id", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

// logStderr maps the worker's log levels onto the logger
func (w *Worker) logStderr(stderr io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			w.logger.Error("classifier: worker error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			w.logger.Warn("classifier: worker warning", "log", line)
		default:
			w.logger.Debug("classifier: worker log", "log", line)
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// waitProcess reaps the process and fails requests still waiting on it
func (w *Worker) waitProcess(ctx context.Context, cmd *exec.Cmd, exited chan struct{}) {
	defer w.wg.Done()

	err := cmd.Wait()

	w.mu.Lock()
	w.running.Store(false)
	close(exited)
	w.mu.Unlock()

	switch {
	case ctx.Err() != nil, w.stopping.Load():
		w.logger.Debug("classifier: worker exited (shutdown)", "pid", cmd.Process.Pid)
	case err != nil:
		w.logger.Error("classifier: worker exited unexpectedly", "pid", cmd.Process.Pid, "error", err)
	default:
		w.logger.Warn("classifier: worker exited", "pid", cmd.Process.Pid)
	}
}

// Stop closes stdin, waits up to StopTimeout for the process to exit, then kills it
func (w *Worker) Stop() error {
	w.mu.Lock()
	cmd, stdin, cancel := w.cmd, w.stdin, w.cancel
	w.cmd = nil
	w.mu.Unlock()

	if cmd == nil {
		return nil
	}

	w.logger.Info("classifier: stopping worker")
	w.stopping.Store(true)
	_ = stdin.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.StopTimeout):
		w.logger.Warn("classifier: stop timeout, killing worker")
		cancel()
		<-done
	}
	cancel()

	w.logger.Info("classifier: worker stopped",
		"requests", w.requests.Load(),
		"responses", w.responses.Load(),
		"failures", w.failures.Load(),
		"timeouts", w.timeouts.Load(),
	)
	return nil
}

// Metrics returns current worker health
func (w *Worker) Metrics() Metrics {
	m := Metrics{
		Requests:  w.requests.Load(),
		Responses: w.responses.Load(),
		Failures:  w.failures.Load(),
		Timeouts:  w.timeouts.Load(),
		Running:   w.running.Load(),
	}
	if m.Responses > 0 {
		m.AvgLatencyMS = float64(w.totalLatencyUS.Load()) / float64(m.Responses) / 1000
	}
	if v, ok := w.lastSeenAt.Load().(time.Time); ok {
		m.LastSeenAt = v
	}
	return m
}
