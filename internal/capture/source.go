package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// Source is an open video source handle.
//
// Read blocks until a frame is decoded, the source fails, or ctx is cancelled.
// Close must be safe to call while a Read is in flight and should make that Read
// return promptly; it is called exactly once per opened Source.
type Source interface {
	Read(ctx context.Context) (types.Frame, error)
	Close() error
}

// Opener opens a Source for an address. The address may denote a local device
// index ("0"), a network stream URL (rtsp://, http://) or a file path.
type Opener interface {
	Open(ctx context.Context, address string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, address string) (Source, error)

// Open implements Opener
func (f OpenerFunc) Open(ctx context.Context, address string) (Source, error) {
	return f(ctx, address)
}

// Sink receives the detection batches produced by a loop
type Sink interface {
	Dispatch(ctx context.Context, batch types.DetectionBatch)
}

var (
	// ErrOpenFailed is matched by every error returned when a source cannot be opened
	ErrOpenFailed = errors.New("capture: failed to open source")
	// ErrAlreadyStarted is returned by Start on a running loop
	ErrAlreadyStarted = errors.New("capture: loop already started")
	// ErrLoopClosed is returned by Start on a loop that has been stopped
	ErrLoopClosed = errors.New("capture: loop is closed")
	// ErrStopTimeout is returned by Stop when the loop did not exit in time
	ErrStopTimeout = errors.New("capture: stop timeout exceeded")
	// ErrInvalidConfig is returned by NewLoop for unusable configuration
	ErrInvalidConfig = errors.New("capture: invalid config")
)

// OpenError describes a source that could not be opened
type OpenError struct {
	SourceID string
	Address  string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("capture: open %s at %q: %v", e.SourceID, e.Address, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOpenFailed) hold for every OpenError
func (e *OpenError) Is(target error) bool { return target == ErrOpenFailed }
