package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// QoS levels used by the bridge.
const (
	qosEvent    byte = 0
	qosRetained byte = 1
	qosInput    byte = 1
)

// DefaultBufferSize is the number of publishes held while disconnected.
const DefaultBufferSize = 100

const publishTimeout = 5 * time.Second

// Options configures a RealClient.
type Options struct {
	Broker     string
	ClientID   string // generated when empty
	Username   string
	Password   string
	Topics     Topics
	BufferSize int
	Logger     *slog.Logger

	// OnConnect runs after every (re)connection once subscriptions are restored.
	OnConnect func()
}

// RealClient talks to an actual MQTT broker.
type RealClient struct {
	client    paho.Client
	topics    Topics
	logger    *slog.Logger
	onConnect func()

	mu        sync.Mutex
	subs      map[string]Handler
	pending   *outbox
	connected bool
}

// NewRealClient connects to the broker. The last will marks the bridge
// OFFLINE on the system topic if the connection drops uncleanly.
func NewRealClient(o Options) (*RealClient, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ClientID == "" {
		o.ClientID = "tapdial-bridge-" + uuid.NewString()[:8]
	}

	c := &RealClient{
		topics:    o.Topics,
		logger:    o.Logger.With("component", "mqtt"),
		onConnect: o.OnConnect,
		subs:      make(map[string]Handler),
		pending:   newOutbox(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(true).
		SetBinaryWill(o.Topics.System(), will, qosRetained, true).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.setConnected(false)
			c.logger.Warn("connection lost", "error", err)
		})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timeout", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *RealClient) handleConnect(pc paho.Client) {
	subs, replayed := c.restore(c.subscribe, func(m pendingMsg) {
		pc.Publish(m.topic, m.qos, m.retained, m.payload)
	})
	c.logger.Info("connected", "resubscribed", subs, "replayed", replayed)

	if c.onConnect != nil {
		c.onConnect()
	}
}

// restore resubscribes and replays the outbox, then marks the client
// connected. Until then publishes keep queueing and new subscriptions are
// only recorded, so each pass picks up what arrived during the previous one.
// The connected flag is set under the same lock as the final empty check.
func (c *RealClient) restore(subscribe func(string, Handler) error, publish func(pendingMsg)) (subs, replayed int) {
	done := make(map[string]bool)
	for {
		c.mu.Lock()
		todo := make(map[string]Handler)
		for topic, h := range c.subs {
			if !done[topic] {
				todo[topic] = h
			}
		}
		queued := c.pending.flush()
		if len(todo) == 0 && len(queued) == 0 {
			c.connected = true
			c.mu.Unlock()
			return len(done), replayed
		}
		c.mu.Unlock()

		for topic, h := range todo {
			done[topic] = true
			if err := subscribe(topic, h); err != nil {
				c.logger.Error("resubscribe failed", "topic", topic, "error", err)
			}
		}
		for _, m := range queued {
			publish(m)
			replayed++
		}
	}
}

func (c *RealClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.client.IsConnectionOpen()
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		c.mu.Lock()
		first := c.pending.add(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		if first {
			c.logger.Warn("outbox full, dropping oldest messages", "topic", topic)
		}
		return nil
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishEvent sends a normalized event, QoS 0, not retained.
func (c *RealClient) PublishEvent(deviceID string, event logic.Event, at time.Time) error {
	payload, err := FormatEvent(deviceID, event, at)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	return c.publish(c.topics.Event(deviceID), qosEvent, false, payload)
}

// PublishMetadata sends a retained attribute value.
func (c *RealClient) PublishMetadata(deviceID string, field logic.MetadataField, value any) error {
	payload, err := FormatMetadata(value)
	if err != nil {
		return fmt.Errorf("format metadata: %w", err)
	}
	return c.publish(c.topics.Metadata(deviceID, field), qosRetained, true, payload)
}

// PublishSystem sends a system lifecycle event.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(c.topics.System(), qosRetained, event.Retained, payload)
}

// PublishDiscovery publishes retained trigger configs for every action.
func (c *RealClient) PublishDiscovery(dev DeviceInfo) error {
	for _, tr := range Triggers() {
		payload, err := FormatDiscovery(c.topics, dev, tr)
		if err != nil {
			return fmt.Errorf("format discovery: %w", err)
		}
		if err := c.publish(c.topics.Discovery(dev.ID, tr.Action), qosRetained, true, payload); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDiscovery clears retained trigger configs with empty payloads.
func (c *RealClient) RemoveDiscovery(deviceID string) error {
	for _, tr := range Triggers() {
		if err := c.publish(c.topics.Discovery(deviceID, tr.Action), qosRetained, true, nil); err != nil {
			return err
		}
	}
	return nil
}

// RequestDevices asks zigbee2mqtt to republish bridge/devices.
func (c *RealClient) RequestDevices() error {
	return c.publish(c.topics.BridgeDevicesGet(), qosRetained, false, []byte("{}"))
}

// Subscribe registers h for topic. The subscription survives reconnects.
func (c *RealClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()
	if !c.IsConnected() {
		return nil
	}
	return c.subscribe(topic, h)
}

func (c *RealClient) subscribe(topic string, h Handler) error {
	token := c.client.Subscribe(topic, qosInput, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops the subscription for topic.
func (c *RealClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	if !c.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("unsubscribe %s: timeout", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	c.setConnected(false)
	return nil
}
