package attendance

import "time"

// Status is the derived attendance status of a record
type Status string

const (
	StatusAbsent  Status = "absent"
	StatusPresent Status = "present"
	StatusPartial Status = "partial"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusAbsent, StatusPresent, StatusPartial:
		return true
	}
	return false
}

// Kind is the resolved meaning of an accepted detection
type Kind string

const (
	KindCheckIn  Kind = "check_in"
	KindCheckOut Kind = "check_out"
	KindPresence Kind = "presence"
)

// Record is the attendance of one person on one day.
// There is at most one Record per (PersonID, Date).
type Record struct {
	ID         string     `json:"id"`
	PersonID   string     `json:"person_id"`
	Date       Date       `json:"date"`
	CheckIn    *time.Time `json:"check_in,omitempty"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	TotalHours float64    `json:"total_hours"`
	BreakHours float64    `json:"break_hours"`
	Status     Status     `json:"status"`
	Notes      string     `json:"notes,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SessionState is derived from the record timestamps
type SessionState int

const (
	// SessionNone means no check-in has been recorded
	SessionNone SessionState = iota
	// SessionOpen means checked in without a check-out
	SessionOpen
	// SessionClosed means both check-in and check-out are set
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionClosed:
		return "closed"
	default:
		return "none"
	}
}

// Session derives the session state from CheckIn and CheckOut
func (r *Record) Session() SessionState {
	switch {
	case r.CheckIn == nil:
		return SessionNone
	case r.CheckOut == nil:
		return SessionOpen
	default:
		return SessionClosed
	}
}

// Clone returns a deep copy (timestamps are not shared)
func (r Record) Clone() Record {
	c := r
	if r.CheckIn != nil {
		t := *r.CheckIn
		c.CheckIn = &t
	}
	if r.CheckOut != nil {
		t := *r.CheckOut
		c.CheckOut = &t
	}
	return c
}

// LogEntry is one accepted detection. Entries are append-only and ordered by
// (DetectionTime, Seq); Seq is assigned by the store.
type LogEntry struct {
	ID            string    `json:"id"`
	RecordID      string    `json:"record_id"`
	PersonID      string    `json:"person_id"`
	DetectionTime time.Time `json:"detection_time"`
	Confidence    float64   `json:"confidence"`
	SourceID      string    `json:"source_id"`
	Kind          Kind      `json:"kind"`
	Seq           int64     `json:"seq"`
}

// Person is a known, identifiable person
type Person struct {
	ID         string `json:"id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	Code       string `json:"code,omitempty" validate:"max=64"`
	Department string `json:"department,omitempty" validate:"max=100"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Active     bool   `json:"active"`
}
