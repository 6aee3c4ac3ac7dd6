package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

// Command is an operator command received on the control topic
type Command struct {
	Command string          `json:"command"`
	ID      string          `json:"id,omitempty"` // Echoed back to correlate responses
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response acknowledges a command on control/response
type Response struct {
	CommandAck string    `json:"command_ack"`
	ID         string    `json:"id,omitempty"`
	Status     string    `json:"status"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Callbacks connect commands to the running service. A nil callback makes
// its command answer "not supported".
type Callbacks struct {
	OnGetStatus     func() map[string]any
	OnAddSource     func(ctx context.Context, id, address string) error
	OnRemoveSource  func(id string) error
	OnRestartSource func(ctx context.Context, id string) error
	// OnSummarize builds the summary for a YYYY-MM-DD date; empty means today
	OnSummarize func(ctx context.Context, date string) (attendance.Summary, error)
	OnShutdown  func()
}

type sourceParams struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type summaryParams struct {
	Date string `json:"date"`
}

const commandQueueSize = 16

var errUnsupported = errors.New("command not supported")

// CommandHandler subscribes to the control topic and runs commands one at a time
type CommandHandler struct {
	e         *Emitter
	callbacks Callbacks
	commands  chan Command

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewCommandHandler creates a handler publishing responses through e
func (e *Emitter) NewCommandHandler(callbacks Callbacks) *CommandHandler {
	return &CommandHandler{
		e:         e,
		callbacks: callbacks,
		commands:  make(chan Command, commandQueueSize),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the control topic and starts the command worker
func (h *CommandHandler) Start(ctx context.Context) error {
	topic := h.e.topic(KindControl)
	qos := h.e.qos(KindControl)

	h.e.logger.Info("emitter: subscribing to control topic", "topic", topic, "qos", qos)

	// TODO: resubscribe from OnConnect; auto-reconnect with a clean session drops this subscription.
	token := h.e.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(h.e.cfg.ConnectTimeout) {
		return fmt.Errorf("emitter: control subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: control subscription failed: %w", err)
	}

	h.wg.Add(1)
	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and waits for the command worker to exit
func (h *CommandHandler) Stop() {
	h.stopOnce.Do(func() {
		if h.e.client != nil && h.e.client.IsConnected() {
			h.e.client.Unsubscribe(h.e.topic(KindControl)).WaitTimeout(h.e.cfg.PublishTimeout)
		}
		close(h.done)
		h.wg.Wait()
		h.e.logger.Info("emitter: control handler stopped")
	})
}

// messageHandler runs on paho's goroutine; commands are queued, never executed here
func (h *CommandHandler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil || cmd.Command == "" {
		h.e.logger.Warn("emitter: invalid control command", "topic", msg.Topic(), "error", err)
		h.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid command payload"})
		return
	}

	h.e.logger.Info("emitter: control command received", "command", cmd.Command, "id", cmd.ID)

	select {
	case h.commands <- cmd:
	default:
		h.e.logger.Warn("emitter: command queue full, dropping command", "command", cmd.Command)
		h.respond(Response{CommandAck: cmd.Command, ID: cmd.ID, Status: "error", Error: "command queue full"})
	}
}

func (h *CommandHandler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.respond(h.handleCommand(ctx, cmd))
		}
	}
}

func (h *CommandHandler) handleCommand(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, ID: cmd.ID, Status: "success"}
	cb := h.callbacks

	var err error
	switch cmd.Command {
	case "get_status":
		if cb.OnGetStatus == nil {
			err = errUnsupported
			break
		}
		resp.Data = cb.OnGetStatus()

	case "add_source", "remove_source", "restart_source":
		var p sourceParams
		if err = decodeParams(cmd.Params, &p); err != nil {
			break
		}
		err = h.runSourceCommand(ctx, cmd.Command, p)
		resp.Data = map[string]string{"source_id": p.ID}

	case "publish_summary":
		if cb.OnSummarize == nil {
			err = errUnsupported
			break
		}
		var p summaryParams
		if err = decodeParams(cmd.Params, &p); err != nil {
			break
		}
		var s attendance.Summary
		if s, err = cb.OnSummarize(ctx, p.Date); err != nil {
			break
		}
		if err = h.e.PublishSummary(s); err != nil {
			break
		}
		resp.Data = map[string]any{"date": s.Date, "present": s.Present, "partial": s.Partial, "absent": s.Absent}

	case "shutdown":
		if cb.OnShutdown == nil {
			err = errUnsupported
			break
		}
		h.e.logger.Warn("emitter: shutdown requested via control topic")
		// Acknowledge first; the callback tears down the connection.
		resp.Data = map[string]bool{"shutdown_initiated": true}
		h.respond(resp)
		go cb.OnShutdown()
		return Response{}

	default:
		err = fmt.Errorf("unknown command: %s", cmd.Command)
	}

	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		resp.Data = nil
	}
	return resp
}

func (h *CommandHandler) runSourceCommand(ctx context.Context, command string, p sourceParams) error {
	if p.ID == "" {
		return errors.New("params.id is required")
	}
	cb := h.callbacks
	switch command {
	case "add_source":
		if cb.OnAddSource == nil {
			return errUnsupported
		}
		return cb.OnAddSource(ctx, p.ID, p.Address)
	case "remove_source":
		if cb.OnRemoveSource == nil {
			return errUnsupported
		}
		return cb.OnRemoveSource(p.ID)
	default:
		if cb.OnRestartSource == nil {
			return errUnsupported
		}
		return cb.OnRestartSource(ctx, p.ID)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// respond publishes resp on control/response; the zero Response is skipped
func (h *CommandHandler) respond(resp Response) {
	if resp.CommandAck == "" {
		return
	}
	resp.Timestamp = time.Now().UTC()
	if err := h.e.publishJSON(KindControl, h.e.topic(KindControl, "response"), false, resp); err != nil {
		h.e.logger.Error("emitter: failed to publish command response", "command_ack", resp.CommandAck, "error", err)
		return
	}
	h.e.logger.Debug("emitter: command response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
