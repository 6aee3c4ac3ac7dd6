// Package config loads the attendd configuration: defaults, then an optional
// YAML file, then a .env file and ATTENDD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/capture"
	"github.com/Rishiwins/attendance-tracker/internal/classifier"
	"github.com/Rishiwins/attendance-tracker/internal/emitter"
	"github.com/Rishiwins/attendance-tracker/internal/registry"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ATTENDD_"

// Config represents the complete attendd configuration
type Config struct {
	SiteID     string            `yaml:"site_id" validate:"required,hostname_rfc1123"`
	Log        LogConfig         `yaml:"log"`
	HTTP       HTTPConfig        `yaml:"http"`
	Storage    StorageConfig     `yaml:"storage"`
	Capture    CaptureConfig     `yaml:"capture"`
	Classifier ClassifierConfig  `yaml:"classifier"`
	Attendance AttendanceConfig  `yaml:"attendance"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	Sources    []registry.Source `yaml:"sources" validate:"dive"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// HTTPConfig configures the control API
type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig selects the attendance store
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite memory"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
}

// CaptureConfig applies to every capture loop
type CaptureConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval" validate:"gt=0"`
	FrameInterval  time.Duration `yaml:"frame_interval" validate:"gte=0"`
	ReadBackoff    time.Duration `yaml:"read_backoff" validate:"gt=0"`
	QueueSize      int           `yaml:"queue_size" validate:"gte=1"`
	StopTimeout    time.Duration `yaml:"stop_timeout" validate:"gt=0"`
	ReopenAfter    int           `yaml:"reopen_after" validate:"gte=0"`
	Width          int           `yaml:"width" validate:"gte=0"`
	Height         int           `yaml:"height" validate:"gte=0"`
	LatencyMS      int           `yaml:"latency_ms" validate:"gte=0"`
	OpenTimeout    time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

// ClassifierConfig configures the identification worker. An empty command
// disables identification: frames are captured but no events are produced.
type ClassifierConfig struct {
	Command        string        `yaml:"command"`
	Args           []string      `yaml:"args"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// AttendanceConfig holds the attendance rules in file form
type AttendanceConfig struct {
	AcceptanceThreshold float64       `yaml:"acceptance_threshold" validate:"gte=0,lte=1"`
	BreakThreshold      time.Duration `yaml:"break_threshold" validate:"gt=0"`
	MinimumHours        float64       `yaml:"minimum_hours" validate:"gt=0,lte=24"`
	OfficeStart         string        `yaml:"office_start" validate:"required"`
	LateThreshold       time.Duration `yaml:"late_threshold" validate:"gte=0"`
	SessionPolicy       string        `yaml:"session_policy" validate:"omitempty,oneof=overwrite cumulative"`
	RequireRegistered   bool          `yaml:"require_registered"`
	Timezone            string        `yaml:"timezone"`
}

// MQTTConfig enables the emitter
type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`
	// SummaryInterval is how often today's summary is republished (0 disables)
	SummaryInterval time.Duration `yaml:"summary_interval" validate:"gte=0"`
	// Commands subscribes to the control topic
	Commands       bool `yaml:"commands"`
	emitter.Config `yaml:",inline"`
}

// Default returns a configuration that runs locally with a SQLite file and no broker
func Default() Config {
	policy := attendance.DefaultPolicy()
	loop := capture.DefaultConfig("", "")

	return Config{
		SiteID: "site-1",
		Log:    LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Driver: "sqlite", Path: "attendance.db"},
		Capture: CaptureConfig{
			SampleInterval: loop.SampleInterval,
			FrameInterval:  loop.FrameInterval,
			ReadBackoff:    loop.ReadBackoff,
			QueueSize:      loop.QueueSize,
			StopTimeout:    loop.StopTimeout,
			ReopenAfter:    loop.ReopenAfter,
			Width:          1280,
			Height:         720,
			LatencyMS:      200,
			OpenTimeout:    5 * time.Second,
		},
		Classifier: ClassifierConfig{RequestTimeout: 5 * time.Second},
		Attendance: AttendanceConfig{
			AcceptanceThreshold: policy.AcceptanceThreshold,
			BreakThreshold:      policy.BreakThreshold,
			MinimumHours:        policy.MinimumHours,
			OfficeStart:         "09:00",
			LateThreshold:       policy.LateThreshold,
			SessionPolicy:       string(policy.Session),
			RequireRegistered:   policy.RequireRegistered,
		},
		MQTT: MQTTConfig{
			SummaryInterval: 5 * time.Minute,
			Commands:        true,
			Config: emitter.Config{
				Broker:      "localhost:1883",
				TopicPrefix: "attendance/site-1",
				QoS: map[string]byte{
					emitter.KindDetections: 0,
					emitter.KindRecords:    1,
					emitter.KindSummary:    1,
					emitter.KindStatus:     1,
					emitter.KindControl:    1,
				},
				ConnectTimeout: 5 * time.Second,
				PublishTimeout: 2 * time.Second,
			},
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// ATTENDD_CONFIG is consulted; a missing .env file is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// applyEnv overrides the settings that usually differ per deployment
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("SITE_ID", &cfg.SiteID)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("DB_PATH", &cfg.Storage.Path)
	str("CLASSIFIER_COMMAND", &cfg.Classifier.Command)
	str("TIMEZONE", &cfg.Attendance.Timezone)
	str("OFFICE_START", &cfg.Attendance.OfficeStart)
	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("MQTT_USERNAME", &cfg.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)

	if v, ok := lookup(EnvPrefix + "MQTT_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sMQTT_ENABLED: %w", EnvPrefix, err)
		}
		cfg.MQTT.Enabled = b
	}
	if v, ok := lookup(EnvPrefix + "SAMPLE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sSAMPLE_INTERVAL: %w", EnvPrefix, err)
		}
		cfg.Capture.SampleInterval = d
	}
	if v, ok := lookup(EnvPrefix + "CLASSIFIER_ARGS"); ok && v != "" {
		cfg.Classifier.Args = strings.Fields(v)
	}
	return nil
}

// Policy converts the attendance section into engine rules
func (c Config) Policy() (attendance.Policy, error) {
	start, err := attendance.ParseClock(c.Attendance.OfficeStart)
	if err != nil {
		return attendance.Policy{}, err
	}
	session, err := attendance.ParseSessionPolicy(c.Attendance.SessionPolicy)
	if err != nil {
		return attendance.Policy{}, err
	}
	p := attendance.Policy{
		AcceptanceThreshold: c.Attendance.AcceptanceThreshold,
		BreakThreshold:      c.Attendance.BreakThreshold,
		MinimumHours:        c.Attendance.MinimumHours,
		OfficeStart:         start,
		LateThreshold:       c.Attendance.LateThreshold,
		Session:             session,
		RequireRegistered:   c.Attendance.RequireRegistered,
	}
	return p, p.Validate()
}

// Location resolves the attendance time zone; empty means the host zone
func (c Config) Location() (*time.Location, error) {
	if c.Attendance.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Attendance.Timezone, err)
	}
	return loc, nil
}

// LoopConfig builds the capture loop configuration for one source
func (c Config) LoopConfig(sourceID, address string) capture.Config {
	lc := capture.DefaultConfig(sourceID, address)
	lc.SampleInterval = c.Capture.SampleInterval
	lc.FrameInterval = c.Capture.FrameInterval
	lc.ReadBackoff = c.Capture.ReadBackoff
	lc.QueueSize = c.Capture.QueueSize
	lc.StopTimeout = c.Capture.StopTimeout
	lc.ReopenAfter = c.Capture.ReopenAfter
	return lc
}

// ClassifierWorker builds the worker configuration; ok is false when disabled
func (c Config) ClassifierWorker() (classifier.Config, bool) {
	if strings.TrimSpace(c.Classifier.Command) == "" {
		return classifier.Config{}, false
	}
	wc := classifier.DefaultConfig(c.Classifier.Command, c.Classifier.Args...)
	wc.RequestTimeout = c.Classifier.RequestTimeout
	return wc, true
}
