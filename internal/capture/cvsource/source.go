// Package cvsource opens local devices, video files and HTTP/MJPEG streams
// through OpenCV.
package cvsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Rishiwins/attendance-tracker/internal/capture"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

var (
	// ErrReadFailed is returned when the device yields no frame
	ErrReadFailed = errors.New("cvsource: failed to read frame")
	// ErrClosed is returned by Read after Close
	ErrClosed = errors.New("cvsource: source closed")
)

// Config controls the capture properties requested from the device
type Config struct {
	Width  int // 0 keeps the device default
	Height int // 0 keeps the device default
}

// Opener opens OpenCV-backed sources
type Opener struct {
	cfg    Config
	logger *slog.Logger
}

// NewOpener creates an OpenCV opener
func NewOpener(cfg Config, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{cfg: cfg, logger: logger}
}

// device maps an address to what OpenCV expects: an int for "0", "1", ... and the
// string itself for paths and URLs.
func device(address string) any {
	if n, err := strconv.Atoi(address); err == nil && n >= 0 {
		return n
	}
	return address
}

// Open opens the device and applies a minimal buffer so reads return fresh frames
func (o *Opener) Open(ctx context.Context, address string) (capture.Source, error) {
	vc, err := gocv.OpenVideoCapture(device(address))
	if err != nil {
		return nil, fmt.Errorf("cvsource: open %q: %w", address, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("cvsource: video capture not opened for %q", address)
	}

	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if o.cfg.Width > 0 && o.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(o.cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(o.cfg.Height))
	}

	o.logger.Info("cvsource: device opened",
		"address", address,
		"fps", vc.Get(gocv.VideoCaptureFPS),
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
	)

	return &Source{
		cfg: o.cfg,
		vc:  vc,
		img: gocv.NewMat(),
		rgb: gocv.NewMat(),
	}, nil
}

// Source wraps an open VideoCapture.
//
// OpenCV handles are not safe for concurrent use. A Close that arrives during
// a Read only marks the source closed; the reading goroutine releases the
// device once the call returns, so Close never blocks on a stalled stream.
type Source struct {
	cfg Config

	readMu sync.Mutex // serializes Read; guards img and rgb

	mu       sync.Mutex
	vc       *gocv.VideoCapture
	img      gocv.Mat
	rgb      gocv.Mat
	closed   bool
	reading  bool
	released bool
}

// Read grabs one frame and converts it from BGR to RGB24
func (s *Source) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Frame{}, ErrClosed
	}
	s.reading = true
	s.mu.Unlock()

	frame, err := s.grab()

	s.mu.Lock()
	s.reading = false
	closed := s.closed
	s.mu.Unlock()
	if closed {
		_ = s.release()
		return types.Frame{}, ErrClosed
	}
	return frame, err
}

func (s *Source) grab() (types.Frame, error) {
	if ok := s.vc.Read(&s.img); !ok || s.img.Empty() {
		return types.Frame{}, ErrReadFailed
	}

	if s.cfg.Width > 0 && s.cfg.Height > 0 && (s.img.Cols() != s.cfg.Width || s.img.Rows() != s.cfg.Height) {
		gocv.Resize(s.img, &s.img, image.Pt(s.cfg.Width, s.cfg.Height), 0, 0, gocv.InterpolationLinear)
	}
	gocv.CvtColor(s.img, &s.rgb, gocv.ColorBGRToRGB)

	return types.Frame{
		Width:  s.rgb.Cols(),
		Height: s.rgb.Rows(),
		Data:   s.rgb.ToBytes(),
	}, nil
}

// Close marks the source closed and releases the device unless a Read is in
// flight, in which case that Read releases it on return.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	busy := s.reading
	s.mu.Unlock()

	if busy {
		return nil
	}
	return s.release()
}

// release frees the OpenCV handles exactly once
func (s *Source) release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	err := s.vc.Close()
	_ = s.img.Close()
	_ = s.rgb.Close()
	return err
}
