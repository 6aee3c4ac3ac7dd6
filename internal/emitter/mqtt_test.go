package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// fakeToken completes immediately with err, or never when hang is set
type fakeToken struct {
	err  error
	hang bool
}

func (t *fakeToken) Wait() bool { return !t.hang }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.hang }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.hang {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes; unused mqtt.Client methods panic via the nil embed
type fakeClient struct {
	mqtt.Client

	mu          sync.Mutex
	msgs        []published
	connected   bool
	connectErr  error
	publishErr  error
	hang        bool
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return &fakeToken{err: c.connectErr, hang: c.hang}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr == nil && !c.hang {
		c.msgs = append(c.msgs, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	}
	return &fakeToken{err: c.publishErr, hang: c.hang}
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func connected(t *testing.T, cfg Config) (*Emitter, *fakeClient) {
	t.Helper()
	client := &fakeClient{}
	e := newEmitter(cfg, client, nil)
	require.NoError(t, e.Connect(context.Background()))
	return e, client
}

func TestNew_RequiresBroker(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)

	e, err := New(Config{Broker: "localhost:1883"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "attendance", e.cfg.TopicPrefix)
	assert.Equal(t, "attendd", e.cfg.ClientID)
}

func TestConnect_Errors(t *testing.T) {
	e := newEmitter(Config{}, &fakeClient{connectErr: errors.New("not authorized")}, nil)
	assert.ErrorContains(t, e.Connect(context.Background()), "not authorized")

	e = newEmitter(Config{ConnectTimeout: 20 * time.Millisecond}, &fakeClient{hang: true}, nil)
	assert.ErrorContains(t, e.Connect(context.Background()), "timeout")
}

func TestHandleDetections(t *testing.T) {
	e, client := connected(t, Config{TopicPrefix: "/site-1/", QoS: map[string]byte{KindDetections: 1}})

	batch := types.DetectionBatch{
		SourceID: "cam/lobby",
		FrameSeq: 42,
		Events:   []types.IdentificationEvent{{SourceID: "cam/lobby", PersonID: "alice", Confidence: 0.93}},
	}
	require.NoError(t, e.HandleDetections(context.Background(), batch))
	require.NoError(t, e.HandleDetections(context.Background(), types.DetectionBatch{SourceID: "cam-2"}))

	msgs := client.messages()
	require.Len(t, msgs, 1, "empty batches are skipped")
	assert.Equal(t, "site-1/detections/cam_lobby", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.False(t, msgs[0].retained)

	var got types.DetectionBatch
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, uint64(42), got.FrameSeq)
	assert.Equal(t, "alice", got.Events[0].PersonID)

	assert.Equal(t, uint64(1), e.Stats().Published["site-1/detections/cam_lobby"])
	assert.Equal(t, ConsumerID, e.ID())
}

func TestOnUpdateAndSummary(t *testing.T) {
	e, client := connected(t, Config{})
	day := attendance.Date{Year: 2024, Month: time.March, Day: 4}

	e.OnUpdate(attendance.Update{
		Record: attendance.Record{PersonID: "alice", Date: day, Status: attendance.StatusPresent},
		Kind:   attendance.KindCheckIn,
	})
	require.NoError(t, e.PublishSummary(attendance.Summary{Date: day, Total: 3, Present: 2}))

	msgs := client.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "attendance/records/alice", msgs[0].topic)
	assert.Contains(t, string(msgs[0].payload), `"kind":"check_in"`)
	assert.Equal(t, "attendance/summary/2024-03-04", msgs[1].topic)
	assert.True(t, msgs[1].retained)
	assert.Contains(t, string(msgs[1].payload), `"date":"2024-03-04"`)
}

func TestPublish_Failures(t *testing.T) {
	client := &fakeClient{}
	e := newEmitter(Config{PublishTimeout: 10 * time.Millisecond}, client, nil)

	batch := types.DetectionBatch{SourceID: "cam-1", Events: []types.IdentificationEvent{{PersonID: "bob"}}}
	assert.ErrorContains(t, e.HandleDetections(context.Background(), batch), "not connected")

	require.NoError(t, e.Connect(context.Background()))
	client.mu.Lock()
	client.publishErr = errors.New("broker gone")
	client.mu.Unlock()
	assert.ErrorContains(t, e.HandleDetections(context.Background(), batch), "broker gone")

	client.mu.Lock()
	client.publishErr, client.hang = nil, true
	client.mu.Unlock()
	assert.ErrorContains(t, e.HandleDetections(context.Background(), batch), "timeout")

	assert.Equal(t, uint64(3), e.Stats().Errors)
}

func TestDisconnect(t *testing.T) {
	e, client := connected(t, Config{})
	e.Disconnect()

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "attendance/status", msgs[0].topic)
	assert.Equal(t, "offline", string(msgs[0].payload))
	assert.True(t, msgs[0].retained)
	assert.Equal(t, 1, client.disconnects)
	assert.False(t, e.Stats().Connected)
}
