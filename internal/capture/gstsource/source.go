// Package gstsource opens network streams (rtsp://, rtsps://) through a
// GStreamer pipeline that decodes to RGB and hands frames over via appsink.
package gstsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Rishiwins/attendance-tracker/internal/capture"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

var (
	// ErrEndOfStream is returned by Read after the pipeline posted EOS
	ErrEndOfStream = errors.New("gstsource: end of stream")
	// ErrClosed is returned by Read after Close
	ErrClosed = errors.New("gstsource: source closed")
)

// Config controls the decode pipeline
type Config struct {
	Width       int           // Output width in pixels
	Height      int           // Output height in pixels
	Latency     int           // rtspsrc jitter buffer in ms
	OpenTimeout time.Duration // How long Open waits for the pipeline to preroll
}

// DefaultConfig returns a 720p software-decoded pipeline configuration
func DefaultConfig() Config {
	return Config{
		Width:       1280,
		Height:      720,
		Latency:     200,
		OpenTimeout: 5 * time.Second,
	}
}

// Opener opens GStreamer-backed sources
type Opener struct {
	cfg    Config
	logger *slog.Logger
}

// NewOpener creates an opener. GStreamer is initialised once per process.
func NewOpener(cfg Config, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{cfg: cfg, logger: logger}
}

var initOnce sync.Once

// Supports reports whether the address is a network stream this backend handles
func Supports(address string) bool {
	a := strings.ToLower(address)
	return strings.HasPrefix(a, "rtsp://") || strings.HasPrefix(a, "rtsps://")
}

// launchString builds the gst-launch description for an address
func launchString(cfg Config, address string) string {
	return fmt.Sprintf(
		"rtspsrc location=%q protocols=tcp latency=%d ! decodebin ! videoconvert ! videoscale ! "+
			"video/x-raw,format=RGB,width=%d,height=%d ! appsink name=sink sync=false max-buffers=1 drop=true",
		address, cfg.Latency, cfg.Width, cfg.Height,
	)
}

// Open builds the pipeline, sets it PLAYING and waits up to OpenTimeout for it
// to preroll. A pipeline error during that window fails the open.
func (o *Opener) Open(ctx context.Context, address string) (capture.Source, error) {
	if !Supports(address) {
		return nil, fmt.Errorf("gstsource: unsupported address %q", address)
	}
	initOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipelineFromString(launchString(o.cfg, address))
	if err != nil {
		return nil, fmt.Errorf("gstsource: failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("gstsource: appsink not found: %w", err)
	}
	sink := app.SinkFromElement(elem)

	s := &Source{
		address:  address,
		width:    o.cfg.Width,
		height:   o.cfg.Height,
		pipeline: pipeline,
		frames:   make(chan types.Frame, 1),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		logger:   o.logger.With("address", address),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstsource: failed to start pipeline: %w", err)
	}

	if err := s.waitPreroll(ctx, o.cfg.OpenTimeout); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, err
	}

	s.wg.Add(1)
	go s.watchBus()

	s.logger.Info("gstsource: pipeline started", "resolution", fmt.Sprintf("%dx%d", s.width, s.height))
	return s, nil
}

// Source is a running GStreamer pipeline
type Source struct {
	address  string
	width    int
	height   int
	pipeline *gst.Pipeline
	logger   *slog.Logger

	frames chan types.Frame
	errs   chan error
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	seq       uint64
	bytesRead uint64
	dropped   uint64
}

// Read waits for the next decoded frame
func (s *Source) Read(ctx context.Context) (types.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errs:
		return types.Frame{}, err
	case <-s.done:
		return types.Frame{}, ErrClosed
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

// Close tears the pipeline down. Pending reads return ErrClosed.
func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstsource: failed to stop pipeline: %w", err)
	}
	s.logger.Info("gstsource: pipeline stopped",
		"frames", atomic.LoadUint64(&s.seq),
		"bytes_read", atomic.LoadUint64(&s.bytesRead),
		"dropped", atomic.LoadUint64(&s.dropped),
	)
	return nil
}

// onNewSample copies the mapped buffer and offers it to Read (latest wins)
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.logger.Warn("gstsource: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		s.logger.Warn("gstsource: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// GStreamer reuses the buffer after Unmap.
	pixels := make([]byte, len(data))
	copy(pixels, data)
	buffer.Unmap()

	atomic.AddUint64(&s.bytesRead, uint64(len(pixels)))
	frame := types.Frame{
		Seq:       atomic.AddUint64(&s.seq, 1),
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Data:      pixels,
		TraceID:   uuid.New().String(),
	}

	select {
	case s.frames <- frame:
	default:
		// Replace the stale frame nobody read yet.
		select {
		case <-s.frames:
			atomic.AddUint64(&s.dropped, 1)
		default:
		}
		select {
		case s.frames <- frame:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
	return gst.FlowOK
}

func (s *Source) waitPreroll(ctx context.Context, timeout time.Duration) error {
	bus := s.pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	name := s.pipeline.GetName()

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return s.pipelineError(msg.ParseError())
		case gst.MessageEOS:
			return ErrEndOfStream
		case gst.MessageAsyncDone:
			return nil
		case gst.MessageStateChanged:
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying && msg.Source() == name {
				return nil
			}
		}
	}

	// Live RTSP sources may take longer to preroll; frames arrive asynchronously.
	s.logger.Warn("gstsource: pipeline not yet playing, continuing", "timeout", timeout)
	return nil
}

// watchBus forwards pipeline errors and EOS to Read until Close
func (s *Source) watchBus() {
	defer s.wg.Done()
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		var err error
		switch msg.Type() {
		case gst.MessageError:
			err = s.pipelineError(msg.ParseError())
		case gst.MessageEOS:
			s.logger.Info("gstsource: end of stream received")
			err = ErrEndOfStream
		default:
			continue
		}

		select {
		case s.errs <- err:
		default:
		}
	}
}

func (s *Source) pipelineError(gerr *gst.GError) error {
	if gerr == nil {
		return errors.New("gstsource: pipeline error")
	}
	category := classify(gerr.Error(), gerr.DebugString())
	s.logger.Error("gstsource: pipeline error",
		"error", gerr.Error(),
		"debug", gerr.DebugString(),
		"category", category.String(),
	)
	return fmt.Errorf("gstsource: %s error: %s", category, gerr.Error())
}
