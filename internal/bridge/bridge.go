// Package bridge connects the MQTT transport to per-device sessions. It owns
// the device lifecycle: provisioning from config, the registry and discovery,
// and deprovisioning from the HTTP API.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sweeney/tapdial-bridge/internal/discovery"
	"github.com/sweeney/tapdial-bridge/internal/mqtt"
	"github.com/sweeney/tapdial-bridge/internal/session"
	"github.com/sweeney/tapdial-bridge/internal/status"
	"github.com/sweeney/tapdial-bridge/internal/store"
)

// Registry persists device identity. *store.DeviceRepository implements it.
type Registry interface {
	FindAll(ctx context.Context) ([]store.Device, error)
	Upsert(ctx context.Context, d store.Device) (*store.Device, error)
	Delete(ctx context.Context, deviceID string) (bool, error)
}

// Gauges receives device and connection counts. *metrics.Collector
// implements it.
type Gauges interface {
	SetDevices(n int)
	SetMQTTConnected(connected bool)
	Forget(deviceID string)
}

// Config wires a Bridge.
type Config struct {
	Client   mqtt.Client
	Sessions *session.Manager
	Tracker  *status.Tracker
	// Registry and Gauges are optional.
	Registry Registry
	Gauges   Gauges
	// Discovery provisions Tap Dials found in the bridge device list.
	Discovery bool
	// HomeAssistant publishes device trigger configs on provisioning.
	HomeAssistant bool
	Logger        *slog.Logger
}

// Device statically provisions one controller.
type Device struct {
	ID   string
	Name string
}

// Bridge routes device payloads into sessions.
type Bridge struct {
	cfg      Config
	topics   mqtt.Topics
	detector *discovery.Detector
	logger   *slog.Logger

	// bridge/devices payloads, handled on the Run goroutine so that
	// provisioning never subscribes from inside an MQTT callback.
	deviceLists chan []byte

	mu   sync.Mutex        // serializes provisioning
	ieee map[string]string // device id to IEEE address, for Forget
}

// New creates a Bridge.
func New(cfg Config, topics mqtt.Topics) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Bridge{
		cfg:         cfg,
		topics:      topics,
		logger:      cfg.Logger.With("component", "bridge"),
		deviceLists: make(chan []byte, 4),
		ieee:        make(map[string]string),
	}
	b.detector = discovery.NewDetector(b, cfg.Logger)
	return b
}

// Start provisions registered and configured devices, then subscribes to the
// device list when discovery is enabled.
func (b *Bridge) Start(ctx context.Context, static []Device) error {
	if b.cfg.Registry != nil {
		known, err := b.cfg.Registry.FindAll(ctx)
		if err != nil {
			return fmt.Errorf("load registry: %w", err)
		}
		for _, d := range known {
			if err := b.provision(ctx, d, false); err != nil {
				return err
			}
		}
		b.logger.Info("restored devices from registry", "count", len(known))
	}

	for _, d := range static {
		if _, err := b.Provision(ctx, d.ID, d.Name); err != nil {
			return err
		}
	}

	if !b.cfg.Discovery {
		return nil
	}
	if err := b.cfg.Client.Subscribe(b.topics.BridgeDevices(), b.queueDeviceList); err != nil {
		return fmt.Errorf("subscribe device list: %w", err)
	}
	if err := b.cfg.Client.RequestDevices(); err != nil {
		b.logger.Warn("device list request failed", "error", err)
	}
	return nil
}

// Run handles queued device lists until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-b.deviceLists:
			b.HandleDeviceList(payload)
		}
	}
}

// OnConnect requests a fresh device list after a reconnect.
func (b *Bridge) OnConnect() {
	b.SyncStatus()
	if !b.cfg.Discovery {
		return
	}
	if err := b.cfg.Client.RequestDevices(); err != nil {
		b.logger.Warn("device list request failed", "error", err)
	}
}

// SyncStatus copies the connection state into the tracker and gauges.
func (b *Bridge) SyncStatus() {
	connected := b.cfg.Client.IsConnected()
	b.cfg.Tracker.SetMQTTConnected(connected)
	if b.cfg.Gauges != nil {
		b.cfg.Gauges.SetMQTTConnected(connected)
		b.cfg.Gauges.SetDevices(len(b.cfg.Sessions.Devices()))
	}
}

func (b *Bridge) queueDeviceList(_ string, payload []byte) {
	select {
	case b.deviceLists <- payload:
	default:
		b.logger.Warn("device list queue full, dropping payload")
	}
}

// HandleDeviceList runs discovery over one bridge/devices payload.
func (b *Bridge) HandleDeviceList(payload []byte) {
	found, err := b.detector.HandleDevices(payload)
	if err != nil {
		b.logger.Warn("ignoring device list", "error", err)
		return
	}
	if len(found) > 0 {
		b.logger.Info("discovery provisioned devices", "count", len(found))
	}
}

// ProvisionDiscovered implements discovery.Provisioner.
func (b *Bridge) ProvisionDiscovered(f discovery.Found) error {
	ctx := context.Background()
	return b.provision(ctx, store.Device{
		DeviceID:    f.ID,
		Name:        f.Name,
		IEEEAddress: f.IEEEAddress,
		Model:       f.Model,
		Discovered:  true,
	}, true)
}

// Provision adds a device by ID. It reports false if the device was
// already provisioned.
func (b *Bridge) Provision(ctx context.Context, id, name string) (bool, error) {
	if _, ok := b.cfg.Sessions.Get(id); ok {
		return false, nil
	}
	if err := b.provision(ctx, store.Device{DeviceID: id, Name: name}, true); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Bridge) provision(ctx context.Context, d store.Device, persist bool) error {
	if d.DeviceID == "" {
		return errors.New("provision: empty device id")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if persist && b.cfg.Registry != nil {
		if _, err := b.cfg.Registry.Upsert(ctx, d); err != nil {
			return fmt.Errorf("persist device %s: %w", d.DeviceID, err)
		}
	}

	b.detector.MarkConfigured(d.DeviceID, d.IEEEAddress)

	sess, created := b.cfg.Sessions.Provision(d.DeviceID, d.Name)
	if !created {
		return nil
	}
	b.cfg.Tracker.AddDevice(sess.ID(), sess.Name())

	id := sess.ID()
	if err := b.cfg.Client.Subscribe(b.topics.Device(id), b.recordHandler(id)); err != nil {
		b.cfg.Sessions.Deprovision(id)
		b.cfg.Tracker.RemoveDevice(id)
		return fmt.Errorf("subscribe %s: %w", id, err)
	}
	if d.IEEEAddress != "" {
		b.ieee[id] = d.IEEEAddress
	}

	if b.cfg.HomeAssistant {
		info := mqtt.DeviceInfo{ID: id, Name: sess.Name()}
		if err := b.cfg.Client.PublishDiscovery(info); err != nil {
			b.logger.Warn("home assistant discovery failed", "device", id, "error", err)
		}
	}
	if b.cfg.Gauges != nil {
		b.cfg.Gauges.SetDevices(len(b.cfg.Sessions.Devices()))
	}
	return nil
}

// Deprovision removes a device and everything derived from it. It reports
// false if the device was not provisioned.
func (b *Bridge) Deprovision(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Sessions.Deprovision(id) {
		return false, nil
	}
	if err := b.cfg.Client.Unsubscribe(b.topics.Device(id)); err != nil {
		b.logger.Warn("unsubscribe failed", "device", id, "error", err)
	}
	if b.cfg.HomeAssistant {
		if err := b.cfg.Client.RemoveDiscovery(id); err != nil {
			b.logger.Warn("home assistant discovery removal failed", "device", id, "error", err)
		}
	}
	b.cfg.Tracker.RemoveDevice(id)
	// A deprovisioned device is offered again by the next device list.
	b.detector.Forget(id, b.ieee[id])
	delete(b.ieee, id)
	if b.cfg.Gauges != nil {
		b.cfg.Gauges.Forget(id)
		b.cfg.Gauges.SetDevices(len(b.cfg.Sessions.Devices()))
	}
	if b.cfg.Registry != nil {
		if _, err := b.cfg.Registry.Delete(ctx, id); err != nil {
			return true, fmt.Errorf("delete device %s: %w", id, err)
		}
	}
	return true, nil
}

// recordHandler returns the MQTT handler for one device topic. The id is
// bound here because zigbee2mqtt friendly names may contain "/".
func (b *Bridge) recordHandler(id string) mqtt.Handler {
	return func(_ string, payload []byte) {
		if _, err := b.cfg.Sessions.Handle(id, payload); errors.Is(err, session.ErrUnknownDevice) {
			b.logger.Debug("ignoring record for deprovisioned device", "device", id)
		}
	}
}

// Close drops every session.
func (b *Bridge) Close() {
	b.cfg.Sessions.Close()
}
