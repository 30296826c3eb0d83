package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command names accepted on the MQTT command topic.
const (
	CommandBlockCore   = "block_core"
	CommandUnblockCore = "unblock_core"
)

// Command is one control message on the command topic.
type Command struct {
	Command string `json:"command"`
	Cores   []int  `json:"cores"`
}

// Response acknowledges a command on <topic>/ack.
type Response struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Cores      []int  `json:"cores,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string // host:port
	ClientID string
	Topic    string
	QoS      byte
}

// AckTopic returns the topic acks are published on.
func (c MQTTConfig) AckTopic() string {
	return c.Topic + "/ack"
}

// ConnectMQTT opens a broker connection with auto-reconnect enabled.
func ConnectMQTT(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker)
	}

	client := mqtt.NewClient(opts)

	logger.Info("connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return client, nil
}

// MQTTSource subscribes to a command topic and turns block/unblock
// commands into events.
type MQTTSource struct {
	client   mqtt.Client
	cfg      MQTTConfig
	logger   *slog.Logger
	commands chan Command
}

// NewMQTTSource creates a source on an already connected client.
func NewMQTTSource(client mqtt.Client, cfg MQTTConfig, logger *slog.Logger) *MQTTSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSource{
		client:   client,
		cfg:      cfg,
		logger:   logger.With("source", "mqtt", "topic", cfg.Topic),
		commands: make(chan Command, 16),
	}
}

// Name implements Source.
func (s *MQTTSource) Name() string {
	return "mqtt"
}

// Run subscribes to the command topic and forwards commands to sink until
// ctx is cancelled.
func (s *MQTTSource) Run(ctx context.Context, sink Sink) error {
	s.logger.Info("subscribing to core command topic", "qos", s.cfg.QoS)

	token := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("core command subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("core command subscription failed: %w", err)
	}

	defer func() {
		if s.client.IsConnected() {
			s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		}
		s.logger.Info("core command source stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			s.sendResponse(s.handleCommand(cmd, sink))
		}
	}
}

// messageHandler runs on the paho goroutine; it only parses and enqueues.
func (s *MQTTSource) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		s.logger.Error("failed to parse core command", "error", err)
		s.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	s.logger.Debug("core command received", "command", cmd.Command, "cores", cmd.Cores)

	select {
	case s.commands <- cmd:
	default:
		s.logger.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// handleCommand delivers one event per core and builds the ack.
func (s *MQTTSource) handleCommand(cmd Command, sink Sink) Response {
	resp := Response{CommandAck: cmd.Command, Cores: cmd.Cores}

	evs, err := cmd.Events()
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	var errs []error
	for _, ev := range evs {
		if err := sink.Notify(ev); err != nil {
			errs = append(errs, fmt.Errorf("core %d: %w", ev.Core, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	resp.Status = "success"
	return resp
}

func (s *MQTTSource) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	if s.client == nil {
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", "error", err)
		return
	}

	token := s.client.Publish(s.cfg.AckTopic(), s.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		s.logger.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("failed to publish response", "error", err)
		return
	}

	s.logger.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// Events expands a command into one event per listed core.
func (c Command) Events() ([]Event, error) {
	var available bool
	switch c.Command {
	case CommandBlockCore:
		available = false
	case CommandUnblockCore:
		available = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Command)
	}

	evs := make([]Event, len(c.Cores))
	for i, core := range c.Cores {
		evs[i] = Event{Core: core, Available: available}
	}
	return evs, nil
}

// MQTTSender publishes events as commands to a scheduler's command topic.
type MQTTSender struct {
	client mqtt.Client
	cfg    MQTTConfig
}

// NewMQTTSender wraps a connected client.
func NewMQTTSender(client mqtt.Client, cfg MQTTConfig) *MQTTSender {
	return &MQTTSender{client: client, cfg: cfg}
}

// Send publishes one command per event.
func (s *MQTTSender) Send(evs ...Event) error {
	for _, ev := range evs {
		payload, err := json.Marshal(Command{Command: ev.Op().String(), Cores: []int{ev.Core}})
		if err != nil {
			return fmt.Errorf("failed to marshal command: %w", err)
		}

		token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, false, payload)
		if !token.WaitTimeout(2 * time.Second) {
			return fmt.Errorf("publish timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSender) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
