package attendance

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = Date{Year: 2024, Month: time.March, Day: 4}

func at(hour, min int) time.Time {
	return time.Date(2024, time.March, 4, hour, min, 0, 0, time.UTC)
}

func ptrTime(t time.Time) *time.Time { return &t }

func entriesAt(times ...time.Time) []LogEntry {
	out := make([]LogEntry, len(times))
	for i, t := range times {
		out[i] = LogEntry{DetectionTime: t, Seq: int64(i + 1), Kind: KindPresence}
	}
	return out
}

func TestClassify(t *testing.T) {
	p := DefaultPolicy()

	testCases := []struct {
		name     string
		checkIn  *time.Time
		checkOut *time.Time
		event    time.Time
		want     Kind
	}{
		{"first_detection", nil, nil, at(9, 0), KindCheckIn},
		{"within_threshold", ptrTime(at(9, 0)), nil, at(9, 10), KindPresence},
		{"exactly_threshold", ptrTime(at(9, 0)), nil, at(9, 30), KindPresence},
		{"beyond_threshold_open", ptrTime(at(9, 0)), nil, at(9, 40), KindCheckOut},
		{"beyond_threshold_closed", ptrTime(at(9, 0)), ptrTime(at(12, 0)), at(12, 31), KindCheckIn},
		{"near_checkout", ptrTime(at(9, 0)), ptrTime(at(12, 0)), at(12, 20), KindPresence},
		{"older_than_boundary", ptrTime(at(9, 0)), nil, at(8, 0), KindPresence},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &Record{CheckIn: tc.checkIn, CheckOut: tc.checkOut}
			assert.Equal(t, tc.want, classify(rec, nil, tc.event, p))
		})
	}
}

// TestClassify_CausalSequence walks T0, T0+10m, T0+40m through classify/apply.
func TestClassify_CausalSequence(t *testing.T) {
	p := DefaultPolicy()
	rec := &Record{Date: day, Status: StatusAbsent}
	var log []LogEntry

	kinds := make([]Kind, 0, 3)
	for i, ts := range []time.Time{at(9, 0), at(9, 10), at(9, 40)} {
		k := classify(rec, log, ts, p)
		kinds = append(kinds, k)
		log = append(log, LogEntry{DetectionTime: ts, Seq: int64(i + 1), Kind: k})
		apply(rec, k, ts, p)
	}

	assert.Equal(t, []Kind{KindCheckIn, KindPresence, KindCheckOut}, kinds)
	assert.Equal(t, at(9, 40), *rec.CheckOut)
}

func TestApply_ReturnFromBreak(t *testing.T) {
	t.Run("overwrite", func(t *testing.T) {
		p := DefaultPolicy()
		rec := &Record{CheckIn: ptrTime(at(9, 0)), CheckOut: ptrTime(at(12, 0)), Status: StatusPartial}

		apply(rec, KindCheckIn, at(13, 0), p)

		assert.Equal(t, at(13, 0), *rec.CheckIn)
		assert.Nil(t, rec.CheckOut, "return from break re-opens the session")
		assert.Equal(t, StatusPartial, rec.Status, "only absent is promoted")
	})

	t.Run("cumulative", func(t *testing.T) {
		p := DefaultPolicy()
		p.Session = SessionCumulative
		rec := &Record{CheckIn: ptrTime(at(9, 0)), CheckOut: ptrTime(at(12, 0)), Status: StatusPartial}

		apply(rec, KindCheckIn, at(13, 0), p)

		assert.Equal(t, at(9, 0), *rec.CheckIn)
		assert.Nil(t, rec.CheckOut)

		// The boundary for the next gap is the 13:00 return, not 09:00.
		log := []LogEntry{
			{DetectionTime: at(9, 0), Kind: KindCheckIn, Seq: 1},
			{DetectionTime: at(12, 0), Kind: KindCheckOut, Seq: 2},
			{DetectionTime: at(13, 0), Kind: KindCheckIn, Seq: 3},
		}
		assert.Equal(t, KindPresence, classify(rec, log, at(13, 20), p))
		assert.Equal(t, KindCheckOut, classify(rec, log, at(13, 31), p))
	})

	t.Run("first_checkin_promotes_absent", func(t *testing.T) {
		rec := &Record{Status: StatusAbsent}
		apply(rec, KindCheckIn, at(9, 0), DefaultPolicy())
		assert.Equal(t, StatusPresent, rec.Status)
	})
}

func TestBreakHours(t *testing.T) {
	threshold := 30 * time.Minute

	t.Run("only_gaps_beyond_threshold_count", func(t *testing.T) {
		// gaps: 10, 45, 5 minutes
		log := entriesAt(at(9, 0), at(9, 10), at(9, 55), at(10, 0))
		assert.InDelta(t, 0.25, breakHours(log, threshold), 1e-9)
	})

	t.Run("causal_order_not_insertion_order", func(t *testing.T) {
		log := entriesAt(at(9, 0), at(9, 10), at(9, 55), at(10, 0))
		shuffled := []LogEntry{log[2], log[0], log[3], log[1]}
		assert.InDelta(t, 0.25, breakHours(shuffled, threshold), 1e-9)
	})

	t.Run("fewer_than_two_entries", func(t *testing.T) {
		assert.Zero(t, breakHours(nil, threshold))
		assert.Zero(t, breakHours(entriesAt(at(9, 0)), threshold))
	})

	t.Run("same_time_ties_use_seq", func(t *testing.T) {
		log := []LogEntry{
			{DetectionTime: at(9, 0), Seq: 2},
			{DetectionTime: at(9, 0), Seq: 1},
		}
		sorted := sortedEntries(log)
		assert.Equal(t, int64(1), sorted[0].Seq)
		assert.Zero(t, breakHours(log, threshold))
	})
}

func TestRecompute(t *testing.T) {
	p := DefaultPolicy()

	t.Run("no_checkin_is_noop", func(t *testing.T) {
		rec := &Record{Date: day, Status: StatusAbsent}
		recompute(rec, nil, p)
		assert.Equal(t, Record{Date: day, Status: StatusAbsent}, *rec)
	})

	t.Run("closed_full_day_is_present", func(t *testing.T) {
		rec := &Record{Date: day, CheckIn: ptrTime(at(9, 0)), CheckOut: ptrTime(at(17, 30)), Status: StatusPartial}
		recompute(rec, entriesAt(at(9, 0), at(9, 25), at(17, 30)), p)
		// 09:25 -> 17:30 is 8h05m, 7h35m of it beyond the threshold.
		assert.InDelta(t, 7.0+35.0/60, rec.BreakHours, 1e-9)
		assert.Equal(t, StatusPartial, rec.Status)

		rec = &Record{Date: day, CheckIn: ptrTime(at(9, 0)), CheckOut: ptrTime(at(17, 30)), Status: StatusPartial}
		recompute(rec, nil, p)
		assert.InDelta(t, 8.5, rec.TotalHours, 1e-9)
		assert.Equal(t, StatusPresent, rec.Status)
	})

	t.Run("closed_short_day_is_partial", func(t *testing.T) {
		rec := &Record{Date: day, CheckIn: ptrTime(at(9, 0)), CheckOut: ptrTime(at(12, 0)), Status: StatusPresent}
		recompute(rec, nil, p)
		assert.InDelta(t, 3.0, rec.TotalHours, 1e-9)
		assert.Equal(t, StatusPartial, rec.Status)
	})

	t.Run("break_larger_than_span_floors_at_zero", func(t *testing.T) {
		rec := &Record{Date: day, CheckIn: ptrTime(at(12, 0)), CheckOut: ptrTime(at(13, 0)), Status: StatusPresent}
		recompute(rec, entriesAt(at(8, 0), at(12, 0), at(13, 0)), p)
		assert.Zero(t, rec.TotalHours)
		assert.Greater(t, rec.BreakHours, 1.0)
	})

	t.Run("open_session_stores_zero", func(t *testing.T) {
		rec := &Record{Date: day, CheckIn: ptrTime(at(9, 0)), Status: StatusAbsent}
		recompute(rec, nil, p)
		assert.Zero(t, rec.TotalHours)
		assert.Equal(t, StatusPresent, rec.Status)

		rec = &Record{Date: day, CheckIn: ptrTime(at(9, 0)), TotalHours: 7, Status: StatusPartial}
		recompute(rec, nil, p)
		assert.Zero(t, rec.TotalHours, "a stale provisional total is cleared")
		assert.Equal(t, StatusPartial, rec.Status)
	})

	t.Run("idempotent", func(t *testing.T) {
		log := entriesAt(at(9, 0), at(9, 10), at(10, 30), at(16, 0), at(17, 45))
		rec := &Record{Date: day, CheckIn: ptrTime(at(9, 0)), CheckOut: ptrTime(at(17, 45)), Status: StatusPresent}

		recompute(rec, log, p)
		first := rec.Clone()
		recompute(rec, log, p)

		assert.Equal(t, first.TotalHours, rec.TotalHours)
		assert.Equal(t, first.BreakHours, rec.BreakHours)
		assert.Equal(t, first.Status, rec.Status)
	})
}

func TestLateAfter(t *testing.T) {
	p := DefaultPolicy()
	loc := time.FixedZone("UTC+2", 2*3600)

	testCases := []struct {
		name    string
		checkIn time.Time
		want    bool
	}{
		{"on_time", time.Date(2024, 3, 4, 8, 55, 0, 0, loc), false},
		{"boundary_is_allowed", time.Date(2024, 3, 4, 9, 15, 0, 0, loc), false},
		{"one_second_after", time.Date(2024, 3, 4, 9, 15, 1, 0, loc), true},
		{"one_minute_after", time.Date(2024, 3, 4, 9, 16, 0, 0, loc), true},
		// 07:16 UTC is 09:16 in the engine location.
		{"converted_to_location", time.Date(2024, 3, 4, 7, 16, 0, 0, time.UTC), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, lateAfter(tc.checkIn, p, loc))
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := []func(*Policy){
		func(p *Policy) { p.AcceptanceThreshold = 1.5 },
		func(p *Policy) { p.BreakThreshold = 0 },
		func(p *Policy) { p.MinimumHours = 0 },
		func(p *Policy) { p.OfficeStart = 25 * time.Hour },
		func(p *Policy) { p.LateThreshold = -time.Minute },
		func(p *Policy) { p.Session = "sometimes" },
	}
	for i, mutate := range bad {
		p := DefaultPolicy()
		mutate(&p)
		assert.ErrorIs(t, p.Validate(), ErrInvalidInput, "case %d", i)
	}

	d, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+30*time.Minute, d)
	_, err = ParseClock("8.30")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-28", d.String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String(), "leap year")
	assert.Equal(t, 2, d.DaysUntil(d.AddDays(2)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))

	_, err = ParseDate("28/02/2024")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// 23:30 UTC on the 4th is already the 5th in UTC+2.
	ts := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, Date{2024, time.March, 5}, DateOf(ts, time.FixedZone("UTC+2", 2*3600)))

	b, err := d.MarshalText()
	require.NoError(t, err)
	var back Date
	require.NoError(t, back.UnmarshalText(b))
	assert.Equal(t, d, back)
}

func TestDateAt(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*3600)

	got, err := day.At("09:20", zone)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 4, 7, 20, 0, 0, time.UTC)))

	got, err = day.At(" 2024-03-05T18:00:00Z ", zone)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC)), "timestamps ignore the date")

	_, err = day.At("nine", zone)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("alice|2024-03-04")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size(), "idle keys are released")

	// Different keys do not block each other.
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

func TestLiveHours(t *testing.T) {
	open := Record{Date: day, CheckIn: ptrTime(at(9, 0)), Status: StatusPresent}
	closed := Record{Date: day, CheckIn: ptrTime(at(9, 0)), CheckOut: ptrTime(at(12, 0)), TotalHours: 3, Status: StatusPartial}

	tests := []struct {
		name string
		rec  Record
		now  time.Time
		want float64
	}{
		{"open today is elapsed", open, at(11, 30), 2.5},
		{"open before check-in floors at zero", open, at(8, 0), 0},
		{"open on a past day is zero", open, at(11, 30).Add(24 * time.Hour), 0},
		{"closed keeps stored total", closed, at(11, 30), 3},
		{"no check-in", Record{Date: day, Status: StatusAbsent}, at(11, 30), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, liveHours(tt.rec, tt.now, time.UTC), 1e-9)
		})
	}
}

func TestClassify_EarlierArrival(t *testing.T) {
	p := DefaultPolicy()
	first := at(9, 0).Add(2 * time.Second)
	rec := &Record{Date: day, CheckIn: ptrTime(first), Status: StatusPresent}
	log := []LogEntry{{DetectionTime: first, Kind: KindCheckIn, Seq: 1}}

	assert.Equal(t, KindCheckIn, classify(rec, log, at(9, 0), p))
	superseded, ok := supersededArrival(rec, log, at(9, 0), p)
	require.True(t, ok)
	assert.Equal(t, int64(1), superseded.Seq)

	apply(rec, KindCheckIn, at(9, 0), p)
	assert.Equal(t, at(9, 0), *rec.CheckIn)

	// Behind a logged detection it is only presence.
	log = append(log, LogEntry{DetectionTime: at(8, 59), Kind: KindPresence, Seq: 2})
	rec.CheckIn = ptrTime(first)
	assert.Equal(t, KindPresence, classify(rec, log, at(9, 0), p))

	// Under overwrite, an arrival long before a later session does not replace it.
	rec = &Record{Date: day, CheckIn: ptrTime(at(10, 5)), Status: StatusPresent}
	log = []LogEntry{{DetectionTime: at(10, 5), Kind: KindCheckIn, Seq: 1}}
	assert.Equal(t, KindCheckIn, classify(rec, log, at(9, 0), p))
	_, ok = supersededArrival(rec, log, at(9, 0), p)
	assert.False(t, ok)
	apply(rec, KindCheckIn, at(9, 0), p)
	assert.Equal(t, at(10, 5), *rec.CheckIn)

	p.Session = SessionCumulative
	apply(rec, KindCheckIn, at(9, 0), p)
	assert.Equal(t, at(9, 0), *rec.CheckIn, "cumulative keeps the first arrival")
}
