package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attendd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, attendance.DefaultPolicy(), p)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
site_id: hq
storage:
  driver: memory
capture:
  sample_interval: 500ms
  queue_size: 8
attendance:
  office_start: "08:30"
  break_threshold: 45m
  session_policy: cumulative
  timezone: Europe/Berlin
mqtt:
  enabled: true
  broker: broker.local:1883
  topic_prefix: attendance/hq
  qos:
    records: 2
sources:
  - id: lobby
    address: rtsp://10.0.0.5/stream
    active: true
  - id: dock
    address: "0"
    active: false
`)

	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "hq", cfg.SiteID)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.SampleInterval)
	assert.Equal(t, 8, cfg.Capture.QueueSize)
	assert.Equal(t, 33*time.Millisecond, cfg.Capture.FrameInterval, "unset fields keep defaults")
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "broker.local:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(2), cfg.MQTT.QoS["records"])
	require.Len(t, cfg.Sources, 2)
	assert.False(t, cfg.Sources[1].Active)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+30*time.Minute, p.OfficeStart)
	assert.Equal(t, 45*time.Minute, p.BreakThreshold)
	assert.Equal(t, attendance.SessionCumulative, p.Session)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	lc := cfg.LoopConfig("lobby", "rtsp://10.0.0.5/stream")
	assert.Equal(t, 500*time.Millisecond, lc.SampleInterval)
	assert.Equal(t, 8, lc.QueueSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "site_id: hq\n")

	cfg, err := load("", env(map[string]string{
		"ATTENDD_CONFIG":             path,
		"ATTENDD_HTTP_ADDR":          ":9090",
		"ATTENDD_DB_PATH":            "/var/lib/attendd/attendance.db",
		"ATTENDD_MQTT_ENABLED":       "true",
		"ATTENDD_MQTT_BROKER":        "mqtt:1883",
		"ATTENDD_SAMPLE_INTERVAL":    "3s",
		"ATTENDD_CLASSIFIER_COMMAND": "models/run_face_worker.sh",
		"ATTENDD_CLASSIFIER_ARGS":    "--model faces.onnx --threads 2",
		"ATTENDD_LOG_LEVEL":          "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "hq", cfg.SiteID, "file applied first")
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "/var/lib/attendd/attendance.db", cfg.Storage.Path)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, 3*time.Second, cfg.Capture.SampleInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	wc, ok := cfg.ClassifierWorker()
	require.True(t, ok)
	assert.Equal(t, "models/run_face_worker.sh", wc.Command)
	assert.Equal(t, []string{"--model", "faces.onnx", "--threads", "2"}, wc.Args)
}

func TestLoad_ClassifierDisabledByDefault(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	_, ok := cfg.ClassifierWorker()
	assert.False(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name string
		body string
		env  map[string]string
		msg  string
	}{
		{name: "bad_yaml", body: "site_id: [", msg: "failed to parse config"},
		{name: "bad_driver", body: "storage:\n  driver: postgres\n", msg: "Driver"},
		{name: "sqlite_needs_path", body: "storage:\n  driver: sqlite\n  path: \"\"\n", msg: "Path"},
		{name: "bad_log_level", body: "log:\n  level: loud\n", msg: "Level"},
		{name: "bad_threshold", body: "attendance:\n  acceptance_threshold: 1.5\n", msg: "AcceptanceThreshold"},
		{name: "bad_office_start", body: "attendance:\n  office_start: \"9am\"\n", msg: "HH:MM"},
		{name: "bad_timezone", body: "attendance:\n  timezone: Mars/Olympus\n", msg: "invalid timezone"},
		{name: "bad_qos", body: "mqtt:\n  qos:\n    records: 3\n", msg: "mqtt.qos.records"},
		{name: "duplicate_source", body: "sources:\n  - {id: a, address: \"0\"}\n  - {id: a, address: \"1\"}\n", msg: "duplicate id"},
		{name: "source_without_address", body: "sources:\n  - {id: a}\n", msg: "id and address are required"},
		{name: "bad_env_bool", body: "", env: map[string]string{"ATTENDD_MQTT_ENABLED": "maybe"}, msg: "ATTENDD_MQTT_ENABLED"},
		{name: "bad_env_duration", body: "", env: map[string]string{"ATTENDD_SAMPLE_INTERVAL": "soon"}, msg: "ATTENDD_SAMPLE_INTERVAL"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(writeConfig(t, tc.body), env(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
