package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// SummaryEntry is one person's line in a daily summary
type SummaryEntry struct {
	PersonID   string     `json:"person_id"`
	Name       string     `json:"name"`
	Code       string     `json:"code,omitempty"`
	Department string     `json:"department,omitempty"`
	CheckIn    *time.Time `json:"check_in,omitempty"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	TotalHours float64    `json:"total_hours"`
	BreakHours float64    `json:"break_hours"`
	Status     Status     `json:"status"`
	IsLate     bool       `json:"is_late"`
}

// Summary is the attendance of all known persons on one day
type Summary struct {
	Date    Date           `json:"date"`
	Total   int            `json:"total"`
	Present int            `json:"present"`
	Absent  int            `json:"absent"`
	Partial int            `json:"partial"`
	Late    int            `json:"late"`
	Entries []SummaryEntry `json:"entries"`
}

// IsLate reports whether a check-in is strictly later than office start plus
// the late allowance, in the engine location.
func (e *Engine) IsLate(checkIn time.Time) bool {
	return lateAfter(checkIn, e.policy, e.loc)
}

// Summarize reports every known person for date. Persons without a record are
// reported absent with zero hours. When persons is nil the store's active
// persons are used. Open sessions on the current day show live elapsed hours;
// open sessions on past days show zero.
func (e *Engine) Summarize(ctx context.Context, date Date, persons []Person) (Summary, error) {
	if date.IsZero() {
		return Summary{}, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}

	if persons == nil {
		var err error
		if persons, err = e.store.ActivePersons(ctx); err != nil {
			return Summary{}, storageFault(err)
		}
	}

	records, err := e.store.RecordsForDate(ctx, date)
	if err != nil {
		return Summary{}, storageFault(err)
	}
	byPerson := make(map[string]Record, len(records))
	for _, r := range records {
		byPerson[r.PersonID] = r
	}

	now := e.clock()
	s := Summary{Date: date, Total: len(persons), Entries: make([]SummaryEntry, 0, len(persons))}

	for _, p := range persons {
		entry := SummaryEntry{
			PersonID:   p.ID,
			Name:       p.Name,
			Code:       p.Code,
			Department: p.Department,
			Status:     StatusAbsent,
		}

		if rec, ok := byPerson[p.ID]; ok {
			entry.CheckIn = rec.CheckIn
			entry.CheckOut = rec.CheckOut
			entry.TotalHours = liveHours(rec, now, e.loc)
			entry.BreakHours = rec.BreakHours
			entry.Status = rec.Status
		}

		switch entry.Status {
		case StatusPresent:
			s.Present++
		case StatusPartial:
			s.Partial++
		default:
			s.Absent++
		}
		if entry.Status != StatusAbsent && entry.CheckIn != nil && e.IsLate(*entry.CheckIn) {
			entry.IsLate = true
			s.Late++
		}

		s.Entries = append(s.Entries, entry)
	}

	sort.SliceStable(s.Entries, func(i, j int) bool { return s.Entries[i].PersonID < s.Entries[j].PersonID })
	return s, nil
}
