package types

import "time"

// Frame represents a single decoded video frame
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame data (RGB24, row-major)
	Data []byte
	// SourceID identifies the camera that produced the frame
	SourceID string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// Clone returns a deep copy of the frame. The copy owns its pixel buffer.
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}

// Empty reports whether the frame carries no pixel data
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// PixelRect represents a rectangle in pixel coordinates
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the pixel area of the rectangle
func (r PixelRect) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}
