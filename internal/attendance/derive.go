package attendance

import (
	"sort"
	"time"
)

// The functions in this file are pure: they derive record state from the
// record, its log and the policy. Persistence and locking live in Engine.

// classify resolves the kind of a detection at time at.
//
// With no check-in, or when the detection precedes both the recorded arrival
// and every logged detection (a camera reporting late), the detection is a
// check-in. Otherwise the gap is measured from the latest session boundary: a
// gap beyond the break threshold closes an open session (check_out) or
// re-opens a closed one (check_in); anything else is presence.
func classify(rec *Record, entries []LogEntry, at time.Time, p Policy) Kind {
	if rec.CheckIn == nil || earlierArrival(rec, entries, at) {
		return KindCheckIn
	}

	last := *rec.CheckIn
	if rec.CheckOut != nil && rec.CheckOut.After(last) {
		last = *rec.CheckOut
	}
	if p.Session == SessionCumulative {
		// CheckIn stays at the first arrival; the session boundary is the latest check-in.
		if t, ok := latestCheckIn(entries); ok && t.After(last) {
			last = t
		}
	}

	if at.Sub(last) > p.BreakThreshold {
		if rec.CheckOut == nil {
			return KindCheckOut
		}
		return KindCheckIn
	}
	return KindPresence
}

// earlierArrival reports whether at comes before the recorded check-in with no
// logged detection before it
func earlierArrival(rec *Record, entries []LogEntry, at time.Time) bool {
	if rec.CheckIn == nil || !at.Before(*rec.CheckIn) {
		return false
	}
	for _, e := range entries {
		if !e.DetectionTime.After(at) {
			return false
		}
	}
	return true
}

// supersededArrival returns the check-in entry that stops being the session
// start once an earlier arrival at lands within the break threshold of it.
// That entry becomes presence.
func supersededArrival(rec *Record, entries []LogEntry, at time.Time, p Policy) (LogEntry, bool) {
	if !earlierArrival(rec, entries, at) || rec.CheckIn.Sub(at) > p.BreakThreshold {
		return LogEntry{}, false
	}
	for _, e := range entries {
		if e.Kind == KindCheckIn && e.DetectionTime.Equal(*rec.CheckIn) {
			return e, true
		}
	}
	return LogEntry{}, false
}

// apply performs the timestamp transition for kind
func apply(rec *Record, kind Kind, at time.Time, p Policy) {
	switch kind {
	case KindCheckIn:
		switch {
		case rec.CheckIn == nil:
			rec.CheckIn = &at
		case at.Before(*rec.CheckIn):
			// Late report of an earlier arrival. Under overwrite a gap beyond
			// the threshold means the recorded check-in starts a later session,
			// which stays the one that counts.
			if p.Session == SessionCumulative || rec.CheckIn.Sub(at) <= p.BreakThreshold {
				rec.CheckIn = &at
			}
		case p.Session != SessionCumulative:
			rec.CheckIn = &at
		}
		// A check-in at or after the check-out re-opens the session.
		if rec.CheckOut != nil && !rec.CheckOut.After(at) {
			rec.CheckOut = nil
		}
		if rec.Status == StatusAbsent || rec.Status == "" {
			rec.Status = StatusPresent
		}
	case KindCheckOut:
		rec.CheckOut = &at
	case KindPresence:
	}
}

// recompute derives TotalHours, BreakHours and Status. It is idempotent:
// calling it twice on an unchanged record and log gives the same result.
//
// An open session stores zero hours; elapsed time is a read-time view (see
// liveHours) and never persisted.
func recompute(rec *Record, entries []LogEntry, p Policy) {
	if rec.CheckIn == nil {
		return
	}
	if rec.Status == "" {
		rec.Status = StatusAbsent
	}

	rec.BreakHours = breakHours(entries, p.BreakThreshold)

	if rec.CheckOut != nil {
		raw := rec.CheckOut.Sub(*rec.CheckIn).Hours()
		rec.TotalHours = max(0, raw-rec.BreakHours)
		if rec.TotalHours >= p.MinimumHours {
			rec.Status = StatusPresent
		} else {
			rec.Status = StatusPartial
		}
		return
	}

	rec.TotalHours = 0
	if rec.Status == StatusAbsent {
		rec.Status = StatusPresent
	}
}

// liveHours is the hours figure to report for rec at now: elapsed time for an
// open session on the current day, the stored total otherwise.
func liveHours(rec Record, now time.Time, loc *time.Location) float64 {
	if rec.Session() == SessionOpen && DateOf(now, loc) == rec.Date {
		return max(0, now.Sub(*rec.CheckIn).Hours())
	}
	return rec.TotalHours
}

// breakHours sums, over consecutive entries in causal order, the part of each
// gap that exceeds the threshold.
func breakHours(entries []LogEntry, threshold time.Duration) float64 {
	if len(entries) < 2 {
		return 0
	}
	ordered := sortedEntries(entries)

	var total time.Duration
	for i := 1; i < len(ordered); i++ {
		gap := ordered[i].DetectionTime.Sub(ordered[i-1].DetectionTime)
		if gap > threshold {
			total += gap - threshold
		}
	}
	return total.Hours()
}

// sortedEntries returns a copy ordered by (DetectionTime, Seq)
func sortedEntries(entries []LogEntry) []LogEntry {
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.DetectionTime.Equal(b.DetectionTime) {
			return a.DetectionTime.Before(b.DetectionTime)
		}
		return a.Seq < b.Seq
	})
	return out
}

func latestCheckIn(entries []LogEntry) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, e := range entries {
		if e.Kind == KindCheckIn && (!found || e.DetectionTime.After(latest)) {
			latest = e.DetectionTime
			found = true
		}
	}
	return latest, found
}

// lateAfter reports whether checkIn (in loc) is strictly later than
// office start plus the allowance.
func lateAfter(checkIn time.Time, p Policy, loc *time.Location) bool {
	if loc != nil {
		checkIn = checkIn.In(loc)
	}
	h, m, s := checkIn.Clock()
	offset := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(checkIn.Nanosecond())
	return offset > p.OfficeStart+p.LateThreshold
}
