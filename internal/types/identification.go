package types

import (
	"context"
	"strings"
	"time"
)

// UnknownPerson is the person id a classifier reports for a face it cannot match
const UnknownPerson = "unknown"

// BoundingBox is the face location inside the sampled frame
type BoundingBox = PixelRect

// Identification is one classifier result for one face in a frame
type Identification struct {
	PersonID   string      `json:"person_id"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
}

// IsUnknown reports whether the classifier could not match the face
func (i Identification) IsUnknown() bool {
	return i.PersonID == "" || strings.EqualFold(i.PersonID, UnknownPerson)
}

// IdentificationEvent is an Identification bound to the camera and sampling time
// that produced it. Events are ephemeral: they are handed downstream, never stored.
type IdentificationEvent struct {
	SourceID   string      `json:"source_id"`
	Timestamp  time.Time   `json:"timestamp"`
	PersonID   string      `json:"person_id"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
	TraceID    string      `json:"trace_id,omitempty"`
}

// IsUnknown reports whether the event carries no usable identity
func (e IdentificationEvent) IsUnknown() bool {
	return e.PersonID == "" || strings.EqualFold(e.PersonID, UnknownPerson)
}

// DetectionBatch groups the events produced from a single sampled frame.
// Events keep the classifier's order.
type DetectionBatch struct {
	SourceID  string                `json:"source_id"`
	Timestamp time.Time             `json:"timestamp"`
	FrameSeq  uint64                `json:"frame_seq"`
	Events    []IdentificationEvent `json:"events"`
}

// Classifier identifies faces in a frame.
//
// Implementations must be safe for concurrent use: every capture loop calls
// Identify from its own goroutine.
type Classifier interface {
	Identify(ctx context.Context, frame Frame) ([]Identification, error)
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(ctx context.Context, frame Frame) ([]Identification, error)

// Identify implements Classifier
func (f ClassifierFunc) Identify(ctx context.Context, frame Frame) ([]Identification, error) {
	return f(ctx, frame)
}
