package capture

import (
	"fmt"
	"time"
)

// Config contains configuration for one capture loop
type Config struct {
	// SourceID identifies the camera (required)
	SourceID string
	// Address is the device index, stream URL or file path (required)
	Address string
	// SampleInterval is the wall-clock period between classifier submissions
	SampleInterval time.Duration
	// ReadBackoff is the pause after a failed read before retrying
	ReadBackoff time.Duration
	// FrameInterval paces reads for sources that are not rate-limited (0 = no pacing)
	FrameInterval time.Duration
	// QueueSize is the capacity of the lossy recent-frames queue
	QueueSize int
	// StopTimeout bounds how long Stop waits for the loop goroutine
	StopTimeout time.Duration
	// ReopenAfter is the number of consecutive read failures that trigger a reopen (0 disables)
	ReopenAfter int
	// Reopen controls the backoff between reopen attempts
	Reopen ReconnectConfig
}

// DefaultConfig returns the default loop configuration for a source
func DefaultConfig(sourceID, address string) Config {
	return Config{
		SourceID:       sourceID,
		Address:        address,
		SampleInterval: 2 * time.Second,
		ReadBackoff:    100 * time.Millisecond,
		FrameInterval:  33 * time.Millisecond,
		QueueSize:      5,
		StopTimeout:    5 * time.Second,
		ReopenAfter:    50,
		Reopen:         DefaultReconnectConfig(),
	}
}

func (c Config) validate() error {
	if c.SourceID == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidConfig)
	}
	if c.Address == "" {
		return fmt.Errorf("%w: address is required for %s", ErrInvalidConfig, c.SourceID)
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("%w: sample interval %s must be positive", ErrInvalidConfig, c.SampleInterval)
	}
	if c.ReadBackoff <= 0 {
		return fmt.Errorf("%w: read backoff %s must be positive", ErrInvalidConfig, c.ReadBackoff)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size %d must be at least 1", ErrInvalidConfig, c.QueueSize)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop timeout %s must be positive", ErrInvalidConfig, c.StopTimeout)
	}
	if c.ReopenAfter < 0 {
		return fmt.Errorf("%w: reopen threshold %d must not be negative", ErrInvalidConfig, c.ReopenAfter)
	}
	if c.ReopenAfter > 0 && (c.Reopen.InitialDelay <= 0 || c.Reopen.MaxDelay < c.Reopen.InitialDelay) {
		return fmt.Errorf("%w: reopen backoff %s..%s", ErrInvalidConfig, c.Reopen.InitialDelay, c.Reopen.MaxDelay)
	}
	return nil
}

// Stats contains current loop statistics
type Stats struct {
	// FramesRead is the total number of frames read from the source
	FramesRead uint64 `json:"frames_read"`
	// ReadErrors is the total number of failed reads
	ReadErrors uint64 `json:"read_errors"`
	// QueueDrops counts frames dropped because the recent-frames queue was full
	QueueDrops uint64 `json:"queue_drops"`
	// Samples is the number of frames handed to the classifier
	Samples uint64 `json:"samples"`
	// ClassifyErrors counts classifier failures (batch dropped)
	ClassifyErrors uint64 `json:"classify_errors"`
	// EventsEmitted is the number of identification events delivered to the sink
	EventsEmitted uint64 `json:"events_emitted"`
	// Reopens is the number of times the source was reopened
	Reopens uint64 `json:"reopens"`
	// FPSReal is the measured frames per second since start
	FPSReal float64 `json:"fps_real"`
	// LastFrameAt is when the latest frame was stored
	LastFrameAt time.Time `json:"last_frame_at"`
	// Uptime is the time since Start
	Uptime time.Duration `json:"uptime_ns"`
}
