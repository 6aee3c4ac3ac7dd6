// Package attendance turns identification events into daily attendance records.
//
// The Engine screens each event, resolves the (person, day) record, classifies
// the event as check-in, check-out or presence, appends it to the record's
// detection log and recomputes worked hours, all in one store transaction.
// Writers for the same (person, day) are serialized; different keys proceed in
// parallel.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// ConsumerID is the dispatcher id of the engine
const ConsumerID = "attendance"

// Options configures an Engine
type Options struct {
	Policy   Policy
	Location *time.Location   // Day boundaries and lateness; defaults to time.Local
	Clock    func() time.Time // Defaults to time.Now
	Logger   *slog.Logger
}

// Update describes a committed change to a record
type Update struct {
	Record Record    `json:"record"`
	Kind   Kind      `json:"kind,omitempty"`
	Entry  *LogEntry `json:"entry,omitempty"` // nil for manual updates
	Manual bool      `json:"manual"`
}

// Result is the outcome of processing one event
type Result struct {
	Accepted bool
	Reason   string // Why the event was discarded
	Update   Update
}

// Discard reasons
const (
	ReasonUnknown       = "unknown_person"
	ReasonLowConfidence = "low_confidence"
	ReasonUnregistered  = "unregistered_person"
	ReasonInactive      = "inactive_person"
)

// Engine derives attendance from identification events
type Engine struct {
	store  Store
	policy Policy
	loc    *time.Location
	clock  func() time.Time
	logger *slog.Logger
	locks  *keyedMutex

	obsMu     sync.RWMutex
	observers []func(Update)
}

// New creates an engine over store
func New(store Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Policy.Session == "" {
		opts.Policy.Session = SessionOverwrite
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		store:  store,
		policy: opts.Policy,
		loc:    opts.Location,
		clock:  opts.Clock,
		logger: opts.Logger,
		locks:  newKeyedMutex(),
	}, nil
}

// Policy returns the rules in effect
func (e *Engine) Policy() Policy { return e.policy }

// Location returns the time zone used for day boundaries
func (e *Engine) Location() *time.Location { return e.loc }

// Today returns the current date in the engine location
func (e *Engine) Today() Date { return DateOf(e.clock(), e.loc) }

// Observe registers fn to be called after every committed update.
// Observers run on the caller's goroutine after the record lock is released.
func (e *Engine) Observe(fn func(Update)) {
	if fn == nil {
		return
	}
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

func (e *Engine) notify(u Update) {
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("attendance: observer panic", "person_id", u.Record.PersonID, "panic", r)
				}
			}()
			fn(u)
		}()
	}
}

// ID implements dispatch.Consumer
func (e *Engine) ID() string { return ConsumerID }

// HandleDetections processes every event of the batch. A failed event is
// logged and dropped; the remaining events are still processed.
func (e *Engine) HandleDetections(ctx context.Context, batch types.DetectionBatch) error {
	var errs []error
	for _, ev := range batch.Events {
		if _, err := e.Process(ctx, ev); err != nil {
			e.logger.Warn("attendance: event dropped",
				"person_id", ev.PersonID,
				"source_id", ev.SourceID,
				"timestamp", ev.Timestamp,
				"trace_id", ev.TraceID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Process applies one identification event. Discarded events return a Result
// with Accepted false and no error; they cause no mutation.
func (e *Engine) Process(ctx context.Context, ev types.IdentificationEvent) (Result, error) {
	personID := strings.TrimSpace(ev.PersonID)

	if ev.IsUnknown() || personID == "" {
		return e.discard(ev, ReasonUnknown), nil
	}
	if ev.Confidence < e.policy.AcceptanceThreshold {
		return e.discard(ev, ReasonLowConfidence), nil
	}
	if ev.Timestamp.IsZero() {
		return Result{}, fmt.Errorf("%w: event for %s has no timestamp", ErrInvalidInput, personID)
	}

	if e.policy.RequireRegistered {
		p, err := e.store.Person(ctx, personID)
		switch {
		case errors.Is(err, ErrNotFound):
			return e.discard(ev, ReasonUnregistered), nil
		case err != nil:
			return Result{}, storageFault(err)
		case !p.Active:
			return e.discard(ev, ReasonInactive), nil
		}
	}

	date := DateOf(ev.Timestamp, e.loc)
	at := ev.Timestamp

	var (
		kind  Kind
		entry LogEntry
	)

	unlock := e.locks.Lock(recordKey(personID, date))
	rec, err := e.store.WithRecord(ctx, personID, date, func(tx RecordTx) error {
		entries, err := tx.LogEntries()
		if err != nil {
			return err
		}
		r := tx.Record()

		kind = classify(r, entries, at, e.policy)
		if prev, ok := supersededArrival(r, entries, at, e.policy); ok {
			if err := tx.RelabelLogEntry(prev.Seq, KindPresence); err != nil {
				return err
			}
			for i := range entries {
				if entries[i].Seq == prev.Seq {
					entries[i].Kind = KindPresence
				}
			}
		}

		entry, err = tx.AppendLogEntry(LogEntry{
			ID:            uuid.New().String(),
			RecordID:      r.ID,
			PersonID:      personID,
			DetectionTime: at,
			Confidence:    ev.Confidence,
			SourceID:      ev.SourceID,
			Kind:          kind,
		})
		if err != nil {
			return err
		}

		apply(r, kind, at, e.policy)
		recompute(r, append(entries, entry), e.policy)
		r.UpdatedAt = e.clock()
		return nil
	})
	unlock()

	if err != nil {
		return Result{}, storageFault(err)
	}
	rec = e.live(rec)

	u := Update{Record: rec, Kind: kind, Entry: &entry}
	e.logger.Debug("attendance: event applied",
		"person_id", personID,
		"date", date.String(),
		"kind", kind,
		"status", rec.Status,
		"total_hours", rec.TotalHours,
		"source_id", ev.SourceID,
	)
	if kind != KindPresence {
		e.logger.Info("attendance: session boundary",
			"person_id", personID,
			"kind", kind,
			"at", at,
			"source_id", ev.SourceID,
		)
	}

	e.notify(u)
	return Result{Accepted: true, Update: u}, nil
}

func (e *Engine) discard(ev types.IdentificationEvent, reason string) Result {
	e.logger.Debug("attendance: event discarded",
		"person_id", ev.PersonID,
		"confidence", ev.Confidence,
		"source_id", ev.SourceID,
		"reason", reason,
	)
	return Result{Reason: reason}
}

// Record returns the record of a person for a day
func (e *Engine) Record(ctx context.Context, personID string, date Date) (Record, error) {
	if strings.TrimSpace(personID) == "" || date.IsZero() {
		return Record{}, fmt.Errorf("%w: person and date are required", ErrInvalidInput)
	}
	rec, err := e.store.Record(ctx, personID, date)
	if err != nil {
		return Record{}, storageFault(err)
	}
	return e.live(rec), nil
}

// live returns rec with TotalHours as reported now; see liveHours
func (e *Engine) live(rec Record) Record {
	rec.TotalHours = liveHours(rec, e.clock(), e.loc)
	return rec
}

// Log returns the detection log of a person for a day, in causal order
func (e *Engine) Log(ctx context.Context, personID string, date Date) ([]LogEntry, error) {
	rec, err := e.Record(ctx, personID, date)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.LogEntries(ctx, rec.ID)
	if err != nil {
		return nil, storageFault(err)
	}
	return sortedEntries(entries), nil
}

// RegisterPerson validates and upserts a person
func (e *Engine) RegisterPerson(ctx context.Context, p Person) error {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("%w: person id and name are required", ErrInvalidInput)
	}
	if strings.EqualFold(p.ID, types.UnknownPerson) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidInput, p.ID)
	}
	if err := e.store.UpsertPerson(ctx, p); err != nil {
		return storageFault(err)
	}
	e.logger.Info("attendance: person registered", "person_id", p.ID, "active", p.Active)
	return nil
}

// Persons lists known persons; activeOnly restricts to active ones
func (e *Engine) Persons(ctx context.Context, activeOnly bool) ([]Person, error) {
	var (
		persons []Person
		err     error
	)
	if activeOnly {
		persons, err = e.store.ActivePersons(ctx)
	} else {
		persons, err = e.store.Persons(ctx)
	}
	if err != nil {
		return nil, storageFault(err)
	}
	return persons, nil
}
