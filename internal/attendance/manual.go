package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ManualEntry is an operator correction for one person and day.
// Nil fields are left unchanged.
type ManualEntry struct {
	PersonID string
	Date     Date
	CheckIn  *time.Time
	CheckOut *time.Time
	Notes    *string
}

// Validate checks the entry before any mutation
func (m ManualEntry) Validate() error {
	if strings.TrimSpace(m.PersonID) == "" {
		return fmt.Errorf("%w: person id is required", ErrInvalidInput)
	}
	if m.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if m.CheckIn == nil && m.CheckOut == nil {
		return fmt.Errorf("%w: check-in or check-out is required", ErrInvalidInput)
	}
	if m.CheckIn != nil && m.CheckOut != nil && !m.CheckOut.After(*m.CheckIn) {
		return fmt.Errorf("%w: check-out %s must be after check-in %s",
			ErrInvalidInput, m.CheckOut.Format(time.RFC3339), m.CheckIn.Format(time.RFC3339))
	}
	return nil
}

// MarkManual assigns the provided timestamps and notes, bypassing
// classification, then recomputes the record exactly like the event path.
//
// If the merged record would have a check-out not after its check-in the call
// fails with ErrInvalidState and nothing is persisted.
func (e *Engine) MarkManual(ctx context.Context, m ManualEntry) (Record, error) {
	if err := m.Validate(); err != nil {
		return Record{}, err
	}
	personID := strings.TrimSpace(m.PersonID)

	if e.policy.RequireRegistered {
		if _, err := e.store.Person(ctx, personID); err != nil {
			return Record{}, storageFault(err)
		}
	}

	unlock := e.locks.Lock(recordKey(personID, m.Date))
	rec, err := e.store.WithRecord(ctx, personID, m.Date, func(tx RecordTx) error {
		r := tx.Record()
		if m.CheckIn != nil {
			t := *m.CheckIn
			r.CheckIn = &t
		}
		if m.CheckOut != nil {
			t := *m.CheckOut
			r.CheckOut = &t
		}
		if m.Notes != nil {
			r.Notes = strings.TrimSpace(*m.Notes)
		}

		if r.CheckIn != nil && r.CheckOut != nil && !r.CheckOut.After(*r.CheckIn) {
			return fmt.Errorf("%w: check-out %s would not be after check-in %s",
				ErrInvalidState, r.CheckOut.Format(time.RFC3339), r.CheckIn.Format(time.RFC3339))
		}

		entries, err := tx.LogEntries()
		if err != nil {
			return err
		}
		recompute(r, entries, e.policy)
		r.UpdatedAt = e.clock()
		return nil
	})
	unlock()

	if err != nil {
		return Record{}, storageFault(err)
	}
	rec = e.live(rec)

	e.logger.Info("attendance: manual attendance marked",
		"person_id", personID,
		"date", m.Date.String(),
		"status", rec.Status,
		"total_hours", rec.TotalHours,
	)
	e.notify(Update{Record: rec, Manual: true})
	return rec, nil
}
