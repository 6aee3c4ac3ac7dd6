// Package mocksource generates synthetic frames for development and tests.
//
// Addresses have the form mock://WxH[?fps=N&fail=N], e.g. "mock://320x240?fps=15".
// fail makes every Nth read return an error.
package mocksource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rishiwins/attendance-tracker/internal/capture"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

const scheme = "mock://"

var (
	// ErrClosed is returned by Read after Close
	ErrClosed = errors.New("mocksource: source closed")
	// ErrInjected is returned by reads selected by the fail parameter
	ErrInjected = errors.New("mocksource: injected read failure")
)

// Supports reports whether the address belongs to this backend
func Supports(address string) bool {
	return strings.HasPrefix(strings.ToLower(address), scheme)
}

// Params is a parsed mock address
type Params struct {
	Width     int
	Height    int
	FPS       int
	FailEvery int
}

// ParseAddress parses mock://WxH[?fps=N&fail=N]
func ParseAddress(address string) (Params, error) {
	if !Supports(address) {
		return Params{}, fmt.Errorf("mocksource: unsupported address %q", address)
	}
	u, err := url.Parse(address)
	if err != nil {
		return Params{}, fmt.Errorf("mocksource: parse %q: %w", address, err)
	}

	p := Params{Width: 640, Height: 480, FPS: 30}
	if u.Host != "" {
		w, h, ok := strings.Cut(strings.ToLower(u.Host), "x")
		if !ok {
			return Params{}, fmt.Errorf("mocksource: resolution %q must be WxH", u.Host)
		}
		if p.Width, err = strconv.Atoi(w); err != nil || p.Width <= 0 {
			return Params{}, fmt.Errorf("mocksource: invalid width %q", w)
		}
		if p.Height, err = strconv.Atoi(h); err != nil || p.Height <= 0 {
			return Params{}, fmt.Errorf("mocksource: invalid height %q", h)
		}
	}

	q := u.Query()
	if v := q.Get("fps"); v != "" {
		if p.FPS, err = strconv.Atoi(v); err != nil || p.FPS <= 0 {
			return Params{}, fmt.Errorf("mocksource: invalid fps %q", v)
		}
	}
	if v := q.Get("fail"); v != "" {
		if p.FailEvery, err = strconv.Atoi(v); err != nil || p.FailEvery < 0 {
			return Params{}, fmt.Errorf("mocksource: invalid fail %q", v)
		}
	}
	return p, nil
}

// Opener opens synthetic sources
type Opener struct{}

// Open implements capture.Opener
func (Opener) Open(ctx context.Context, address string) (capture.Source, error) {
	p, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return New(p), nil
}

// Source produces frames paced at FPS with a moving gradient pattern
type Source struct {
	p        Params
	interval time.Duration

	done   chan struct{}
	once   sync.Once
	reads  uint64
	seq    uint64
	closed atomic.Bool
}

// New creates a synthetic source
func New(p Params) *Source {
	return &Source{
		p:        p,
		interval: time.Second / time.Duration(p.FPS),
		done:     make(chan struct{}),
	}
}

// Read waits one frame interval and returns the next frame
func (s *Source) Read(ctx context.Context) (types.Frame, error) {
	t := time.NewTimer(s.interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case <-s.done:
		return types.Frame{}, ErrClosed
	case <-t.C:
	}

	n := atomic.AddUint64(&s.reads, 1)
	if s.p.FailEvery > 0 && n%uint64(s.p.FailEvery) == 0 {
		return types.Frame{}, ErrInjected
	}
	return s.createFrame(), nil
}

// Close unblocks pending reads
func (s *Source) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

// Closed reports whether Close was called
func (s *Source) Closed() bool { return s.closed.Load() }

// createFrame renders an RGB24 gradient shifted by the sequence number
func (s *Source) createFrame() types.Frame {
	seq := atomic.AddUint64(&s.seq, 1)
	w, h := s.p.Width, s.p.Height
	data := make([]byte, w*h*3)

	shift := byte(seq)
	for y := 0; y < h; y++ {
		row := y * w * 3
		for x := 0; x < w; x++ {
			i := row + x*3
			data[i] = byte(x) + shift
			data[i+1] = byte(y)
			data[i+2] = shift
		}
	}

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      data,
	}
}
