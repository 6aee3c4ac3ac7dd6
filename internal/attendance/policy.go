package attendance

import (
	"fmt"
	"strings"
	"time"
)

// SessionPolicy decides what a return-from-break check-in does to CheckIn
type SessionPolicy string

const (
	// SessionOverwrite moves CheckIn to the return time; hours reflect the latest session
	SessionOverwrite SessionPolicy = "overwrite"
	// SessionCumulative keeps the first CheckIn; hours span the whole day minus breaks
	SessionCumulative SessionPolicy = "cumulative"
)

// ParseSessionPolicy accepts "overwrite" or "cumulative" (empty means overwrite)
func ParseSessionPolicy(s string) (SessionPolicy, error) {
	switch p := SessionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", SessionOverwrite:
		return SessionOverwrite, nil
	case SessionCumulative:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown session policy %q", ErrInvalidInput, s)
	}
}

// Policy holds the attendance rules
type Policy struct {
	// AcceptanceThreshold is the minimum classifier confidence for an event to count
	AcceptanceThreshold float64
	// BreakThreshold is the longest gap between detections still treated as presence
	BreakThreshold time.Duration
	// MinimumHours is the worked time that makes a closed day present instead of partial
	MinimumHours float64
	// OfficeStart is the start of the working day as an offset from midnight
	OfficeStart time.Duration
	// LateThreshold is the allowance after OfficeStart before a check-in counts as late
	LateThreshold time.Duration
	// Session selects how re-opened sessions are accounted
	Session SessionPolicy
	// RequireRegistered discards events for persons that are unknown or inactive
	RequireRegistered bool
}

// DefaultPolicy returns the standard rules: 0.7 confidence, 30 minute breaks,
// 8 hour days, office start 09:00 with 15 minutes allowance.
func DefaultPolicy() Policy {
	return Policy{
		AcceptanceThreshold: 0.7,
		BreakThreshold:      30 * time.Minute,
		MinimumHours:        8.0,
		OfficeStart:         9 * time.Hour,
		LateThreshold:       15 * time.Minute,
		Session:             SessionOverwrite,
		RequireRegistered:   true,
	}
}

// Validate checks policy ranges
func (p Policy) Validate() error {
	if p.AcceptanceThreshold < 0 || p.AcceptanceThreshold > 1 {
		return fmt.Errorf("%w: acceptance threshold %.2f must be within [0,1]", ErrInvalidInput, p.AcceptanceThreshold)
	}
	if p.BreakThreshold <= 0 {
		return fmt.Errorf("%w: break threshold %s must be positive", ErrInvalidInput, p.BreakThreshold)
	}
	if p.MinimumHours <= 0 || p.MinimumHours > 24 {
		return fmt.Errorf("%w: minimum hours %.2f must be within (0,24]", ErrInvalidInput, p.MinimumHours)
	}
	if p.OfficeStart < 0 || p.OfficeStart >= 24*time.Hour {
		return fmt.Errorf("%w: office start %s must be within a day", ErrInvalidInput, p.OfficeStart)
	}
	if p.LateThreshold < 0 {
		return fmt.Errorf("%w: late threshold %s must not be negative", ErrInvalidInput, p.LateThreshold)
	}
	if _, err := ParseSessionPolicy(string(p.Session)); err != nil {
		return err
	}
	return nil
}

// ParseClock parses "HH:MM" into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidInput, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
