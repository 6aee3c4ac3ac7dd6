package attendance

import (
	"context"
	"fmt"
	"strings"
)

// MaxRangeDays bounds history and report queries
const MaxRangeDays = 366

// PersonReport aggregates one person's attendance over a date range
type PersonReport struct {
	PersonID   string `json:"person_id"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	Days       int    `json:"days"`
	// PresentDays counts present and partial days
	PresentDays int `json:"present_days"`
	// AbsentDays includes days without a record
	AbsentDays   int      `json:"absent_days"`
	LateDays     int      `json:"late_days"`
	TotalHours   float64  `json:"total_hours"`
	AverageHours float64  `json:"average_hours_per_day"`
	Records      []Record `json:"records,omitempty"`
}

// Report is the per-person aggregation over [From, To]
type Report struct {
	From    Date           `json:"from"`
	To      Date           `json:"to"`
	Persons []PersonReport `json:"persons"`
}

func validateRange(from, to Date) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: from and to are required", ErrInvalidInput)
	}
	if to.Before(from) {
		return fmt.Errorf("%w: range %s..%s is reversed", ErrInvalidInput, from, to)
	}
	if days := from.DaysUntil(to) + 1; days > MaxRangeDays {
		return fmt.Errorf("%w: range of %d days exceeds %d", ErrInvalidInput, days, MaxRangeDays)
	}
	return nil
}

// History returns a person's records between from and to inclusive, ordered by date
func (e *Engine) History(ctx context.Context, personID string, from, to Date) ([]Record, error) {
	if strings.TrimSpace(personID) == "" {
		return nil, fmt.Errorf("%w: person id is required", ErrInvalidInput)
	}
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	records, err := e.store.RecordsForPerson(ctx, personID, from, to)
	if err != nil {
		return nil, storageFault(err)
	}
	for i := range records {
		records[i] = e.live(records[i])
	}
	return records, nil
}

// Report aggregates attendance of every active person between from and to inclusive
func (e *Engine) Report(ctx context.Context, from, to Date) (Report, error) {
	if err := validateRange(from, to); err != nil {
		return Report{}, err
	}

	persons, err := e.store.ActivePersons(ctx)
	if err != nil {
		return Report{}, storageFault(err)
	}

	days := from.DaysUntil(to) + 1
	rep := Report{From: from, To: to, Persons: make([]PersonReport, 0, len(persons))}

	for _, p := range persons {
		records, err := e.store.RecordsForPerson(ctx, p.ID, from, to)
		if err != nil {
			return Report{}, storageFault(err)
		}
		for i := range records {
			records[i] = e.live(records[i])
		}

		pr := PersonReport{
			PersonID:   p.ID,
			Name:       p.Name,
			Department: p.Department,
			Days:       days,
			Records:    records,
		}
		for _, r := range records {
			if r.Status == StatusPresent || r.Status == StatusPartial {
				pr.PresentDays++
				pr.TotalHours += r.TotalHours
				if r.CheckIn != nil && e.IsLate(*r.CheckIn) {
					pr.LateDays++
				}
			}
		}
		pr.AbsentDays = days - pr.PresentDays
		pr.AverageHours = pr.TotalHours / float64(max(pr.PresentDays, 1))

		rep.Persons = append(rep.Persons, pr)
	}
	return rep, nil
}
