package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements attendance.Store on SQLite
type Store struct {
	db *DB
}

// NewStore creates a store over a migrated database
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var _ attendance.Store = (*Store)(nil)

const recordColumns = `id, person_id, date, check_in, check_out, total_hours, break_hours, status, notes, updated_at`

// Times are stored as UTC unix nanoseconds.
func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (attendance.Record, error) {
	var (
		rec       attendance.Record
		date      string
		in, out   sql.NullInt64
		status    string
		updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.PersonID, &date, &in, &out,
		&rec.TotalHours, &rec.BreakHours, &status, &rec.Notes, &updatedAt)
	if err != nil {
		return attendance.Record{}, err
	}
	if rec.Date, err = attendance.ParseDate(date); err != nil {
		return attendance.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.CheckIn, rec.CheckOut = timePtr(in), timePtr(out)
	rec.Status = attendance.Status(status)
	if updatedAt != 0 {
		rec.UpdatedAt = fromNanos(updatedAt)
	}
	return rec, nil
}

func getRecord(ctx context.Context, q querier, personID string, date attendance.Date) (attendance.Record, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE person_id = ? AND date = ?`,
		personID, date.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Record{}, fmt.Errorf("%w: no record for %s on %s", attendance.ErrNotFound, personID, date)
	}
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]attendance.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func queryLogEntries(ctx context.Context, q querier, recordID string) ([]attendance.LogEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, id, record_id, person_id, detection_time, confidence, source_id, kind
		FROM log_entries
		WHERE record_id = ?
		ORDER BY detection_time, seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var out []attendance.LogEntry
	for rows.Next() {
		var (
			e    attendance.LogEntry
			at   int64
			kind string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.RecordID, &e.PersonID, &at, &e.Confidence, &e.SourceID, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.DetectionTime = fromNanos(at)
		e.Kind = attendance.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// recordTx exposes one record inside a database transaction
type recordTx struct {
	ctx    context.Context
	tx     *sql.Tx
	record attendance.Record
}

func (t *recordTx) Record() *attendance.Record { return &t.record }

func (t *recordTx) LogEntries() ([]attendance.LogEntry, error) {
	return queryLogEntries(t.ctx, t.tx, t.record.ID)
}

func (t *recordTx) AppendLogEntry(e attendance.LogEntry) (attendance.LogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.RecordID = t.record.ID

	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO log_entries (id, record_id, person_id, detection_time, confidence, source_id, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RecordID, e.PersonID, toNanos(e.DetectionTime), e.Confidence, e.SourceID, string(e.Kind))
	if err != nil {
		return attendance.LogEntry{}, fmt.Errorf("failed to append log entry: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return attendance.LogEntry{}, fmt.Errorf("failed to read log entry seq: %w", err)
	}
	return e, nil
}

func (t *recordTx) RelabelLogEntry(seq int64, kind attendance.Kind) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE log_entries SET kind = ? WHERE seq = ? AND record_id = ?`,
		string(kind), seq, t.record.ID)
	if err != nil {
		return fmt.Errorf("failed to relabel log entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to relabel log entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no log entry %d on record %s", attendance.ErrNotFound, seq, t.record.ID)
	}
	return nil
}

// WithRecord implements attendance.Store. The record row is created inside
// the transaction when missing, so a failing fn leaves nothing behind.
func (s *Store) WithRecord(ctx context.Context, personID string, date attendance.Date, fn func(attendance.RecordTx) error) (attendance.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rec, err := getRecord(ctx, tx, personID, date)
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		rec = attendance.Record{
			ID:       uuid.New().String(),
			PersonID: personID,
			Date:     date,
			Status:   attendance.StatusAbsent,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (id, person_id, date, status) VALUES (?, ?, ?, ?)`,
			rec.ID, personID, date.String(), string(rec.Status)); err != nil {
			return attendance.Record{}, fmt.Errorf("failed to create record: %w", err)
		}
	case err != nil:
		return attendance.Record{}, err
	}

	rtx := &recordTx{ctx: ctx, tx: tx, record: rec.Clone()}
	if err := fn(rtx); err != nil {
		return attendance.Record{}, err
	}

	out := rtx.record
	out.ID, out.PersonID, out.Date = rec.ID, personID, date
	if !out.Status.Valid() {
		return attendance.Record{}, fmt.Errorf("%w: status %q", attendance.ErrInvalidState, out.Status)
	}

	var updatedAt int64
	if !out.UpdatedAt.IsZero() {
		updatedAt = toNanos(out.UpdatedAt)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE records
		SET check_in = ?, check_out = ?, total_hours = ?, break_hours = ?, status = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		nullTime(out.CheckIn), nullTime(out.CheckOut), out.TotalHours, out.BreakHours,
		string(out.Status), out.Notes, updatedAt, out.ID)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to update record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return attendance.Record{}, fmt.Errorf("failed to commit: %w", err)
	}
	committed = true

	// Reload so callers see exactly what was persisted.
	return getRecord(ctx, s.db, personID, date)
}

// Record implements attendance.Store
func (s *Store) Record(ctx context.Context, personID string, date attendance.Date) (attendance.Record, error) {
	return getRecord(ctx, s.db, personID, date)
}

// RecordsForDate implements attendance.Store
func (s *Store) RecordsForDate(ctx context.Context, date attendance.Date) ([]attendance.Record, error) {
	return queryRecords(ctx, s.db,
		`SELECT `+recordColumns+` FROM records WHERE date = ? ORDER BY person_id`, date.String())
}

// RecordsForPerson implements attendance.Store
func (s *Store) RecordsForPerson(ctx context.Context, personID string, from, to attendance.Date) ([]attendance.Record, error) {
	return queryRecords(ctx, s.db,
		`SELECT `+recordColumns+` FROM records WHERE person_id = ? AND date >= ? AND date <= ? ORDER BY date`,
		personID, from.String(), to.String())
}

// LogEntries implements attendance.Store
func (s *Store) LogEntries(ctx context.Context, recordID string) ([]attendance.LogEntry, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, recordID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", attendance.ErrNotFound, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return queryLogEntries(ctx, s.db, recordID)
}
