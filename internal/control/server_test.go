package control

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/registry"
	"github.com/Rishiwins/attendance-tracker/internal/storage/memory"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

type fakeSources struct {
	mu      sync.Mutex
	sources map[string]registry.SourceStatus
	frames  map[string]types.Frame
	failAdd error
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		sources: map[string]registry.SourceStatus{},
		frames:  map[string]types.Frame{},
	}
}

func (f *fakeSources) Add(ctx context.Context, id, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil {
		return f.failAdd
	}
	if _, ok := f.sources[id]; ok {
		return registry.ErrSourceExists
	}
	f.sources[id] = registry.SourceStatus{Alive: true, Address: address}
	return nil
}

func (f *fakeSources) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; !ok {
		return registry.ErrSourceNotFound
	}
	delete(f.sources, id)
	return nil
}

func (f *fakeSources) Restart(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; !ok {
		return registry.ErrSourceNotFound
	}
	return nil
}

func (f *fakeSources) Status() map[string]registry.SourceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]registry.SourceStatus, len(f.sources))
	for k, v := range f.sources {
		out[k] = v
	}
	return out
}

func (f *fakeSources) Frame(id string) (types.Frame, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; !ok {
		return types.Frame{}, false, registry.ErrSourceNotFound
	}
	frame, ok := f.frames[id]
	return frame, ok, nil
}

type testServer struct {
	srv     *httptest.Server
	sources *fakeSources
	engine  *attendance.Engine
}

var now = time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, probes ...Probe) *testServer {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.UpsertPerson(context.Background(),
		attendance.Person{ID: "alice", Name: "Alice", Active: true}))

	engine, err := attendance.New(store, attendance.Options{
		Policy:   attendance.DefaultPolicy(),
		Location: time.UTC,
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)

	sources := newFakeSources()
	router := NewRouter(Options{
		Sources: sources,
		Engine:  engine,
		Probes:  probes,
		Stats:   func() map[string]any { return map[string]any{"dispatched": 3} },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, sources: sources, engine: engine}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, resp)["status"])
}

func TestReadiness(t *testing.T) {
	failing := func(context.Context) error { return errors.New("broker down") }
	ok := func(context.Context) error { return nil }

	tests := []struct {
		name   string
		probes []Probe
		dead   bool
		want   string
		code   int
	}{
		{"healthy", []Probe{{Name: "store", Critical: true, Check: ok}}, false, StateHealthy, http.StatusOK},
		{"optional probe fails", []Probe{{Name: "mqtt", Check: failing}}, false, StateDegraded, http.StatusOK},
		{"dead source", nil, true, StateDegraded, http.StatusOK},
		{"critical probe fails", []Probe{{Name: "store", Critical: true, Check: failing}, {Name: "mqtt", Check: failing}}, false, StateUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.probes...)
			ts.sources.sources["cam_a"] = registry.SourceStatus{Alive: !tt.dead}

			resp := ts.do(t, http.MethodGet, "/readiness", "")
			assert.Equal(t, tt.code, resp.StatusCode)
			body := decodeBody[readinessResponse](t, resp)
			assert.Equal(t, tt.want, body.Status)
			assert.Equal(t, 1, body.Sources)
			assert.NotNil(t, body.Stats)
		})
	}
}

func TestSources_Lifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/sources", `{"id":"cam_lobby","address":"mock://64x48"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/sources", `{"id":"cam_lobby","address":"mock://64x48"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_exists", decodeBody[errorResponse](t, resp).Code)

	resp = ts.do(t, http.MethodGet, "/sources", "")
	list := decodeBody[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "cam_lobby", list[0]["id"])
	assert.Equal(t, "mock://64x48", list[0]["address"])

	resp = ts.do(t, http.MethodPost, "/sources/cam_lobby/restart", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/sources/cam_lobby", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/sources/cam_lobby", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSources_AddValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/sources", `{"id":""}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[errorResponse](t, resp)
	assert.Equal(t, "required", body.Fields["id"])
	assert.Equal(t, "required", body.Fields["address"])

	resp = ts.do(t, http.MethodPost, "/sources", `{"id":"a","address":"x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.sources.failAdd = registry.ErrStartFailed
	resp = ts.do(t, http.MethodPost, "/sources", `{"id":"cam_x","address":"rtsp://nowhere"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestFrame(t *testing.T) {
	ts := newTestServer(t)
	ts.sources.sources["cam_a"] = registry.SourceStatus{Alive: true}

	resp := ts.do(t, http.MethodGet, "/sources/cam_a/frame", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	ts.sources.frames["cam_a"] = types.Frame{Seq: 7, Width: 64, Height: 48, Data: make([]byte, 64*48*3)}

	resp = ts.do(t, http.MethodGet, "/sources/cam_a/frame?width=32&quality=70", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "7", resp.Header.Get("X-Frame-Seq"))
	cfg, _, err := image.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 24, cfg.Height)

	resp = ts.do(t, http.MethodGet, "/sources/cam_a/frame?format=gif", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/sources/cam_a/frame?quality=101", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/sources/missing/frame", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPersons(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/persons", `{"id":"bob","name":"Bob","email":"bob@example.com","active":false}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/persons", `{"id":"eve","name":"Eve","email":"not-an-email"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "email", decodeBody[errorResponse](t, resp).Fields["email"])

	resp = ts.do(t, http.MethodPost, "/persons", `{"id":"unknown","name":"Nobody"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/persons", "")
	assert.Len(t, decodeBody[[]attendance.Person](t, resp), 2)

	resp = ts.do(t, http.MethodGet, "/persons?active=true", "")
	active := decodeBody[[]attendance.Person](t, resp)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].ID)
}

func TestManualAndQueries(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/attendance/manual/alice",
		`{"date":"2024-03-04","check_in":"09:20","check_out":"2024-03-04T18:00:00Z","notes":"badge broken"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeBody[attendance.Record](t, resp)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.InDelta(t, 8+40.0/60, rec.TotalHours, 1e-9)
	assert.Equal(t, "badge broken", rec.Notes)

	resp = ts.do(t, http.MethodGet, "/attendance/summary/2024-03-04", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decodeBody[attendance.Summary](t, resp)
	assert.Equal(t, 1, sum.Present)
	assert.Equal(t, 1, sum.Late)

	resp = ts.do(t, http.MethodGet, "/attendance/summary/today", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[attendance.Summary](t, resp).Absent)

	resp = ts.do(t, http.MethodGet, "/attendance/history/alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist := decodeBody[struct {
		Records []attendance.Record `json:"records"`
	}](t, resp)
	assert.Len(t, hist.Records, 1)

	resp = ts.do(t, http.MethodGet, "/attendance/report?from=2024-03-04&to=2024-03-05", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[attendance.Report](t, resp)
	require.Len(t, report.Persons, 1)
	assert.Equal(t, 2, report.Persons[0].Days)

	resp = ts.do(t, http.MethodGet, "/attendance/records/alice/2024-03-04", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/attendance/records/alice/2024-03-01", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManual_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"missing date", "/attendance/manual/alice", `{"check_in":"09:00"}`, http.StatusBadRequest},
		{"bad date", "/attendance/manual/alice", `{"date":"04/03/2024","check_in":"09:00"}`, http.StatusBadRequest},
		{"bad time", "/attendance/manual/alice", `{"date":"2024-03-04","check_in":"nine"}`, http.StatusBadRequest},
		{"no times", "/attendance/manual/alice", `{"date":"2024-03-04"}`, http.StatusBadRequest},
		{"reversed", "/attendance/manual/alice", `{"date":"2024-03-04","check_in":"17:00","check_out":"09:00"}`, http.StatusBadRequest},
		{"unknown person", "/attendance/manual/mallory", `{"date":"2024-03-04","check_in":"09:00"}`, http.StatusNotFound},
		{"bad range", "/attendance/report?from=2024-03-05&to=2024-03-01", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.body == "" {
				method = http.MethodGet
			}
			resp := ts.do(t, method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	// A check-out before the stored check-in is a state conflict.
	resp := ts.do(t, http.MethodPost, "/attendance/manual/alice", `{"date":"2024-03-04","check_in":"10:00"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/attendance/manual/alice", `{"date":"2024-03-04","check_out":"08:00"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// brokenStore fails every read of the day's records
type brokenStore struct {
	*memory.Store
}

func (brokenStore) RecordsForDate(ctx context.Context, date attendance.Date) ([]attendance.Record, error) {
	return nil, errors.New("disk I/O error")
}

func TestStorageFailure(t *testing.T) {
	store := brokenStore{Store: memory.New()}
	engine, err := attendance.New(store, attendance.Options{
		Policy:   attendance.DefaultPolicy(),
		Location: time.UTC,
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(Options{
		Sources: newFakeSources(),
		Engine:  engine,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/attendance/summary/2024-03-04")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
	body := decodeBody[errorResponse](t, resp)
	assert.Equal(t, "storage_failure", body.Code)
	assert.NotContains(t, body.Error, "disk I/O", "store internals are not exposed")

	code, kind := statusFor(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal", kind)
}
