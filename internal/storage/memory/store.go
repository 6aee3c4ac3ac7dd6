// Package memory is an in-process attendance store. It backs tests and
// deployments that do not need persistence across restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

type recordKey struct {
	personID string
	date     attendance.Date
}

// Store keeps everything in maps guarded by a single mutex. WithRecord works
// on copies and publishes them only when the callback succeeds.
type Store struct {
	mu      sync.Mutex
	records map[recordKey]attendance.Record
	byID    map[string]recordKey
	logs    map[string][]attendance.LogEntry
	persons map[string]attendance.Person
	seq     int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		records: make(map[recordKey]attendance.Record),
		byID:    make(map[string]recordKey),
		logs:    make(map[string][]attendance.LogEntry),
		persons: make(map[string]attendance.Person),
	}
}

var _ attendance.Store = (*Store)(nil)

type tx struct {
	s       *Store
	record  attendance.Record
	entries []attendance.LogEntry
	added   []attendance.LogEntry
	dirty   bool // committed entries were relabelled
}

func (t *tx) Record() *attendance.Record { return &t.record }

func (t *tx) LogEntries() ([]attendance.LogEntry, error) {
	out := make([]attendance.LogEntry, 0, len(t.entries)+len(t.added))
	out = append(out, t.entries...)
	out = append(out, t.added...)
	sortEntries(out)
	return out, nil
}

func (t *tx) AppendLogEntry(e attendance.LogEntry) (attendance.LogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.RecordID = t.record.ID
	e.Seq = t.s.seq + int64(len(t.added)) + 1
	t.added = append(t.added, e)
	return e, nil
}

func (t *tx) RelabelLogEntry(seq int64, kind attendance.Kind) error {
	for _, list := range [][]attendance.LogEntry{t.entries, t.added} {
		for i := range list {
			if list[i].Seq == seq {
				list[i].Kind = kind
				t.dirty = true
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no log entry %d on record %s", attendance.ErrNotFound, seq, t.record.ID)
}

// WithRecord implements attendance.Store
func (s *Store) WithRecord(ctx context.Context, personID string, date attendance.Date, fn func(attendance.RecordTx) error) (attendance.Record, error) {
	if err := ctx.Err(); err != nil {
		return attendance.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{personID: personID, date: date}
	rec, exists := s.records[key]
	if !exists {
		rec = attendance.Record{
			ID:       uuid.New().String(),
			PersonID: personID,
			Date:     date,
			Status:   attendance.StatusAbsent,
		}
	}

	t := &tx{
		s:       s,
		record:  rec.Clone(),
		entries: append([]attendance.LogEntry(nil), s.logs[rec.ID]...),
	}
	if err := fn(t); err != nil {
		return attendance.Record{}, err
	}

	// Identity fields are owned by the store.
	t.record.ID, t.record.PersonID, t.record.Date = rec.ID, personID, date

	s.records[key] = t.record.Clone()
	s.byID[rec.ID] = key
	if t.dirty {
		s.logs[rec.ID] = t.entries
	}
	if len(t.added) > 0 {
		s.logs[rec.ID] = append(s.logs[rec.ID], t.added...)
		s.seq += int64(len(t.added))
	}
	return t.record.Clone(), nil
}

// Record implements attendance.Store
func (s *Store) Record(ctx context.Context, personID string, date attendance.Date) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{personID: personID, date: date}]
	if !ok {
		return attendance.Record{}, fmt.Errorf("%w: no record for %s on %s", attendance.ErrNotFound, personID, date)
	}
	return rec.Clone(), nil
}

// RecordsForDate implements attendance.Store
func (s *Store) RecordsForDate(ctx context.Context, date attendance.Date) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []attendance.Record
	for k, r := range s.records {
		if k.date == date {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}

// RecordsForPerson implements attendance.Store
func (s *Store) RecordsForPerson(ctx context.Context, personID string, from, to attendance.Date) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []attendance.Record
	for k, r := range s.records {
		if k.personID == personID && !k.date.Before(from) && !k.date.After(to) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// LogEntries implements attendance.Store
func (s *Store) LogEntries(ctx context.Context, recordID string) ([]attendance.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[recordID]; !ok {
		return nil, fmt.Errorf("%w: record %s", attendance.ErrNotFound, recordID)
	}
	out := append([]attendance.LogEntry(nil), s.logs[recordID]...)
	sortEntries(out)
	return out, nil
}

// Person implements attendance.Store
func (s *Store) Person(ctx context.Context, id string) (attendance.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[id]
	if !ok {
		return attendance.Person{}, fmt.Errorf("%w: person %s", attendance.ErrNotFound, id)
	}
	return p, nil
}

// ActivePersons implements attendance.Store
func (s *Store) ActivePersons(ctx context.Context) ([]attendance.Person, error) {
	return s.listPersons(true), nil
}

// Persons implements attendance.Store
func (s *Store) Persons(ctx context.Context) ([]attendance.Person, error) {
	return s.listPersons(false), nil
}

func (s *Store) listPersons(activeOnly bool) []attendance.Person {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]attendance.Person, 0, len(s.persons))
	for _, p := range s.persons {
		if !activeOnly || p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertPerson implements attendance.Store
func (s *Store) UpsertPerson(ctx context.Context, p attendance.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons[p.ID] = p
	return nil
}

func sortEntries(entries []attendance.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.DetectionTime.Equal(b.DetectionTime) {
			return a.DetectionTime.Before(b.DetectionTime)
		}
		return a.Seq < b.Seq
	})
}
