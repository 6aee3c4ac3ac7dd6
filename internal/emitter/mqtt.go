// Package emitter publishes detections, attendance updates and daily
// summaries to an MQTT broker.
//
// Topics, relative to Config.TopicPrefix:
//
//	detections/{source_id}   one message per non-empty detection batch
//	records/{person_id}      every committed attendance update
//	summary/{date}           daily summaries (retained)
//	status                   "online"/"offline" (retained, last will)
//	control                  operator commands (see CommandHandler)
//	control/response         command acknowledgements
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// ConsumerID is the dispatcher id of the emitter
const ConsumerID = "mqtt"

// Message kinds, used as QoS keys
const (
	KindDetections = "detections"
	KindRecords    = "records"
	KindSummary    = "summary"
	KindStatus     = "status"
	KindControl    = "control"
)

// Config contains broker settings
type Config struct {
	Broker         string          `yaml:"broker"` // host:port or a full URL
	ClientID       string          `yaml:"client_id"`
	Username       string          `yaml:"username"`
	Password       string          `yaml:"password"`
	TopicPrefix    string          `yaml:"topic_prefix"`
	QoS            map[string]byte `yaml:"qos"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout"`
	PublishTimeout time.Duration   `yaml:"publish_timeout"`
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Emitter publishes attendance traffic to MQTT
type Emitter struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// New creates an emitter with a paho client configured for auto-reconnect
func New(cfg Config, logger *slog.Logger) (*Emitter, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("emitter: broker is required")
	}
	e := newEmitter(cfg, nil, logger)

	opts := mqtt.NewClientOptions()
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(e.topic(KindStatus), "offline", e.qos(KindStatus), true)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("emitter: mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
		// Runs on paho's goroutine; publish asynchronously to avoid blocking it.
		go func() {
			if err := e.publish(KindStatus, e.topic(KindStatus), true, []byte("online")); err != nil {
				e.logger.Warn("emitter: failed to publish status", "error", err)
			}
		}()
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)
	return e, nil
}

// newEmitter fills defaults; client may be injected by tests
func newEmitter(cfg Config, client mqtt.Client, logger *slog.Logger) *Emitter {
	if cfg.ClientID == "" {
		cfg.ClientID = "attendd"
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "attendance"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection
func (e *Emitter) Connect(ctx context.Context) error {
	e.logger.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(e.cfg.ConnectTimeout):
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Disconnect publishes the offline status and closes the connection
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		_ = e.publish(KindStatus, e.topic(KindStatus), true, []byte("offline"))
		e.client.Disconnect(250)
		e.logger.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
}

// ID implements dispatch.Consumer
func (e *Emitter) ID() string { return ConsumerID }

// HandleDetections implements dispatch.Consumer. Empty batches are not published.
func (e *Emitter) HandleDetections(ctx context.Context, batch types.DetectionBatch) error {
	if len(batch.Events) == 0 {
		return nil
	}
	return e.publishJSON(KindDetections, e.topic(KindDetections, batch.SourceID), false, batch)
}

// OnUpdate publishes a committed attendance update. Its signature matches
// attendance.Engine.Observe.
func (e *Emitter) OnUpdate(u attendance.Update) {
	if err := e.publishJSON(KindRecords, e.topic(KindRecords, u.Record.PersonID), false, u); err != nil {
		e.logger.Warn("emitter: failed to publish attendance update",
			"person_id", u.Record.PersonID,
			"error", err,
		)
	}
}

// PublishSummary publishes a daily summary as a retained message
func (e *Emitter) PublishSummary(s attendance.Summary) error {
	return e.publishJSON(KindSummary, e.topic(KindSummary, s.Date.String()), true, s)
}

func (e *Emitter) publishJSON(kind, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: failed to marshal %s: %w", kind, err)
	}
	return e.publish(kind, topic, retained, payload)
}

func (e *Emitter) publish(kind, topic string, retained bool, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	qos := e.qos(kind)
	token := e.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish failed on %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("emitter: published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

// topic joins the prefix, the kind and optional segments. Segments have MQTT
// wildcards and separators replaced.
func (e *Emitter) topic(kind string, segments ...string) string {
	parts := append([]string{e.cfg.TopicPrefix, kind}, segments...)
	for i := 2; i < len(parts); i++ {
		parts[i] = topicSafe.Replace(parts[i])
	}
	return strings.Join(parts, "/")
}

var topicSafe = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func (e *Emitter) qos(kind string) byte {
	if q, ok := e.cfg.QoS[kind]; ok && q <= 2 {
		return q
	}
	return 0
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
