package attendance

import "context"

// Store persists records, log entries and persons.
//
// WithRecord is the unit of atomicity: fn runs inside one transaction on the
// (person, date) record, which is created as absent when missing. Changes made
// to tx.Record() and entries appended through tx are committed together when fn
// returns nil and discarded otherwise.
//
// Lookups return an error matching ErrNotFound for missing rows.
type Store interface {
	WithRecord(ctx context.Context, personID string, date Date, fn func(tx RecordTx) error) (Record, error)

	Record(ctx context.Context, personID string, date Date) (Record, error)
	RecordsForDate(ctx context.Context, date Date) ([]Record, error)
	RecordsForPerson(ctx context.Context, personID string, from, to Date) ([]Record, error)
	LogEntries(ctx context.Context, recordID string) ([]LogEntry, error)

	Person(ctx context.Context, id string) (Person, error)
	ActivePersons(ctx context.Context) ([]Person, error)
	Persons(ctx context.Context) ([]Person, error)
	UpsertPerson(ctx context.Context, p Person) error
}

// RecordTx is the transactional view handed to WithRecord callbacks
type RecordTx interface {
	// Record returns the mutable record; mutations are persisted on commit
	Record() *Record
	// LogEntries returns the record's entries ordered by (DetectionTime, Seq)
	LogEntries() ([]LogEntry, error)
	// AppendLogEntry stores the entry and returns it with Seq assigned
	AppendLogEntry(entry LogEntry) (LogEntry, error)
	// RelabelLogEntry changes the kind of an entry of this record. It fails
	// with ErrNotFound when seq is not one of the record's entries.
	RelabelLogEntry(seq int64, kind Kind) error
}
