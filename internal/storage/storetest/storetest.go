// Package storetest is a conformance suite for attendance.Store implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

var day = attendance.Date{Year: 2024, Month: time.March, Day: 4}

func at(hour, min int) time.Time {
	return time.Date(2024, time.March, 4, hour, min, 0, 0, time.UTC)
}

var errBoom = errors.New("boom")

// Run exercises a fresh store returned by newStore for each subtest
func Run(t *testing.T, newStore func(t *testing.T) attendance.Store) {
	t.Run("CreatesRecordOnce", func(t *testing.T) { testCreatesRecordOnce(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("IdentityIsStoreOwned", func(t *testing.T) { testIdentity(t, newStore(t)) })
	t.Run("LogOrderAndSeq", func(t *testing.T) { testLogOrder(t, newStore(t)) })
	t.Run("RelabelLogEntry", func(t *testing.T) { testRelabel(t, newStore(t)) })
	t.Run("RecordQueries", func(t *testing.T) { testRecordQueries(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("Persons", func(t *testing.T) { testPersons(t, newStore(t)) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, newStore(t)) })
}

func testCreatesRecordOnce(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	in := at(9, 0)

	first, err := s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		r := tx.Record()
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, attendance.StatusAbsent, r.Status, "new records start absent")
		r.CheckIn = &in
		r.Status = attendance.StatusPresent
		r.Notes = "first"
		return nil
	})
	require.NoError(t, err)

	second, err := s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		r := tx.Record()
		require.NotNil(t, r.CheckIn)
		assert.True(t, in.Equal(*r.CheckIn))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := s.Record(ctx, "alice", day)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Notes)
	assert.Equal(t, attendance.StatusPresent, got.Status)
	assert.Nil(t, got.CheckOut)
}

func testRollback(t *testing.T, s attendance.Store) {
	ctx := context.Background()

	_, err := s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		_, err := tx.AppendLogEntry(attendance.LogEntry{PersonID: "alice", DetectionTime: at(9, 0), Confidence: 0.9, Kind: attendance.KindCheckIn})
		require.NoError(t, err)
		tx.Record().Status = attendance.StatusPresent
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.Record(ctx, "alice", day)
	assert.ErrorIs(t, err, attendance.ErrNotFound, "failed transaction must not create the record")

	in := at(9, 0)
	rec, err := s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		tx.Record().CheckIn = &in
		return nil
	})
	require.NoError(t, err)

	_, err = s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		out := at(17, 0)
		tx.Record().CheckOut = &out
		_, err := tx.AppendLogEntry(attendance.LogEntry{PersonID: "alice", DetectionTime: out, Confidence: 0.9, Kind: attendance.KindCheckOut})
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := s.Record(ctx, "alice", day)
	require.NoError(t, err)
	assert.Nil(t, got.CheckOut)
	entries, err := s.LogEntries(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testRelabel(t *testing.T, s attendance.Store) {
	ctx := context.Background()

	var first attendance.LogEntry
	rec, err := s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		var err error
		first, err = tx.AppendLogEntry(attendance.LogEntry{PersonID: "alice", DetectionTime: at(9, 1), Confidence: 0.9, Kind: attendance.KindCheckIn})
		return err
	})
	require.NoError(t, err)

	// A failed transaction leaves the committed kind alone.
	_, err = s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		require.NoError(t, tx.RelabelLogEntry(first.Seq, attendance.KindPresence))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	entries, err := s.LogEntries(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, attendance.KindCheckIn, entries[0].Kind)

	_, err = s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		if err := tx.RelabelLogEntry(first.Seq, attendance.KindPresence); err != nil {
			return err
		}
		_, err := tx.AppendLogEntry(attendance.LogEntry{PersonID: "alice", DetectionTime: at(9, 0), Confidence: 0.9, Kind: attendance.KindCheckIn})
		if err != nil {
			return err
		}
		inTx, err := tx.LogEntries()
		require.NoError(t, err)
		require.Len(t, inTx, 2)
		assert.Equal(t, attendance.KindPresence, inTx[1].Kind, "relabel is visible inside the transaction")
		return nil
	})
	require.NoError(t, err)

	entries, err = s.LogEntries(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, attendance.KindCheckIn, entries[0].Kind)
	assert.True(t, at(9, 0).Equal(entries[0].DetectionTime))
	assert.Equal(t, attendance.KindPresence, entries[1].Kind)

	_, err = s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		return tx.RelabelLogEntry(first.Seq+1000, attendance.KindPresence)
	})
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

func testIdentity(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	rec, err := s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
		r := tx.Record()
		r.ID = "forged"
		r.PersonID = "mallory"
		r.Date = day.AddDays(3)
		return nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, "forged", rec.ID)
	assert.Equal(t, "alice", rec.PersonID)
	assert.Equal(t, day, rec.Date)
}

func testLogOrder(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	times := []time.Time{at(9, 30), at(9, 0), at(9, 30), at(10, 0)}

	var appended []attendance.LogEntry
	rec, err := s.WithRecord(ctx, "bob", day, func(tx attendance.RecordTx) error {
		for i, ts := range times {
			e, err := tx.AppendLogEntry(attendance.LogEntry{
				PersonID:      "bob",
				DetectionTime: ts,
				Confidence:    0.8 + float64(i)/100,
				SourceID:      "cam-1",
				Kind:          attendance.KindPresence,
			})
			if err != nil {
				return err
			}
			appended = append(appended, e)
		}
		inTx, err := tx.LogEntries()
		if err != nil {
			return err
		}
		assert.Len(t, inTx, len(times), "appended entries are visible inside the transaction")
		return nil
	})
	require.NoError(t, err)

	for i := 1; i < len(appended); i++ {
		assert.Greater(t, appended[i].Seq, appended[i-1].Seq, "seq increases with append order")
		assert.Equal(t, rec.ID, appended[i].RecordID)
		assert.NotEmpty(t, appended[i].ID)
	}

	entries, err := s.LogEntries(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.True(t, entries[0].DetectionTime.Equal(at(9, 0)))
	assert.True(t, entries[1].DetectionTime.Equal(at(9, 30)))
	assert.True(t, entries[2].DetectionTime.Equal(at(9, 30)))
	assert.Less(t, entries[1].Seq, entries[2].Seq, "ties are ordered by seq")
	assert.InDelta(t, 0.8, entries[1].Confidence, 1e-9)
	assert.Equal(t, "cam-1", entries[3].SourceID)
	assert.Equal(t, attendance.KindPresence, entries[3].Kind)
}

func testRecordQueries(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	for _, person := range []string{"carol", "alice", "bob"} {
		for d := 0; d < 3; d++ {
			_, err := s.WithRecord(ctx, person, day.AddDays(d), func(tx attendance.RecordTx) error {
				tx.Record().TotalHours = float64(d)
				return nil
			})
			require.NoError(t, err)
		}
	}

	onDay, err := s.RecordsForDate(ctx, day.AddDays(1))
	require.NoError(t, err)
	require.Len(t, onDay, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{onDay[0].PersonID, onDay[1].PersonID, onDay[2].PersonID})
	assert.InDelta(t, 1.0, onDay[0].TotalHours, 1e-9)

	hist, err := s.RecordsForPerson(ctx, "bob", day.AddDays(1), day.AddDays(5))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, day.AddDays(1), hist[0].Date)
	assert.Equal(t, day.AddDays(2), hist[1].Date)

	none, err := s.RecordsForDate(ctx, day.AddDays(-1))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testNotFound(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	_, err := s.Record(ctx, "nobody", day)
	assert.ErrorIs(t, err, attendance.ErrNotFound)
	_, err = s.LogEntries(ctx, "missing")
	assert.ErrorIs(t, err, attendance.ErrNotFound)
	_, err = s.Person(ctx, "nobody")
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

func testPersons(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertPerson(ctx, attendance.Person{ID: "bob", Name: "Bob", Active: true}))
	require.NoError(t, s.UpsertPerson(ctx, attendance.Person{ID: "alice", Name: "Alice", Code: "E1", Department: "Ops", Email: "a@example.com", Active: true}))
	require.NoError(t, s.UpsertPerson(ctx, attendance.Person{ID: "carol", Name: "Carol"}))

	p, err := s.Person(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, attendance.Person{ID: "alice", Name: "Alice", Code: "E1", Department: "Ops", Email: "a@example.com", Active: true}, p)

	active, err := s.ActivePersons(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "alice", active[0].ID)
	assert.Equal(t, "bob", active[1].ID)

	// Upsert deactivates.
	require.NoError(t, s.UpsertPerson(ctx, attendance.Person{ID: "bob", Name: "Robert"}))
	active, err = s.ActivePersons(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := s.Persons(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Robert", all[1].Name)
}

func testConcurrentWriters(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.WithRecord(ctx, "alice", day, func(tx attendance.RecordTx) error {
				_, err := tx.AppendLogEntry(attendance.LogEntry{
					PersonID:      "alice",
					DetectionTime: at(9, 0).Add(time.Duration(i) * time.Second),
					Confidence:    0.9,
					Kind:          attendance.KindPresence,
				})
				return err
			})
			if assert.NoError(t, err) {
				ids <- rec.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id, "one record per (person, day)")
	}

	entries, err := s.LogEntries(ctx, first)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}
