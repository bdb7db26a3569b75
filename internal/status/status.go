// Package status provides a thread-safe status tracker for the bridge.
// It is read by the HTTP handlers and the heartbeat publisher.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// Config contains bridge configuration for display.
type Config struct {
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	BaseTopic   string
	EventPrefix string
	HTTPAddr    string
	Discovery   bool
}

// DeviceStatus is the last known state of one controller.
type DeviceStatus struct {
	ID               string
	Name             string
	Battery          *float64
	LinkQuality      *float64
	InstalledVersion *string
	LatestVersion    *string
	UpdateAvailable  *bool
	Counts           logic.EventCounts
	LastAction       string
	LastEventAt      time.Time
}

func (d DeviceStatus) clone() DeviceStatus {
	d.Battery = clonePtr(d.Battery)
	d.LinkQuality = clonePtr(d.LinkQuality)
	d.InstalledVersion = clonePtr(d.InstalledVersion)
	d.LatestVersion = clonePtr(d.LatestVersion)
	d.UpdateAvailable = clonePtr(d.UpdateAvailable)
	return d
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Snapshot is a point-in-time view of bridge state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Devices       []DeviceStatus // sorted by ID
	Totals        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the bridge started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Device returns the status of one device.
func (s Snapshot) Device(id string) (DeviceStatus, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceStatus{}, false
}

// Tracker holds mutable bridge state behind an RWMutex. It is a logic.Sink.
type Tracker struct {
	now func() time.Time

	mu        sync.RWMutex
	start     time.Time
	cfg       Config
	connected bool
	network   *NetworkInfo
	devices   map[string]*DeviceStatus
	totals    logic.EventCounts
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		now:     time.Now,
		start:   startTime,
		cfg:     cfg,
		devices: make(map[string]*DeviceStatus),
	}
}

// AddDevice registers a device. Existing state is kept; a non-empty name
// replaces the stored one.
func (t *Tracker) AddDevice(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.device(id)
	if name != "" {
		d.Name = name
	}
}

// RemoveDevice forgets a device.
func (t *Tracker) RemoveDevice(id string) {
	t.mu.Lock()
	delete(t.devices, id)
	t.mu.Unlock()
}

// device returns the entry for id, creating it. Caller holds the write lock.
func (t *Tracker) device(id string) *DeviceStatus {
	d, ok := t.devices[id]
	if !ok {
		d = &DeviceStatus{ID: id}
		t.devices[id] = d
	}
	return d
}

// SetMetadata records one attribute value. Values of the wrong type are ignored.
func (t *Tracker) SetMetadata(id string, field logic.MetadataField, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.device(id)
	switch field {
	case logic.FieldBattery:
		if v, ok := value.(float64); ok {
			d.Battery = &v
		}
	case logic.FieldLinkQuality:
		if v, ok := value.(float64); ok {
			d.LinkQuality = &v
		}
	case logic.FieldInstalledVersion:
		if v, ok := value.(string); ok {
			d.InstalledVersion = &v
		}
	case logic.FieldLatestVersion:
		if v, ok := value.(string); ok {
			d.LatestVersion = &v
		}
	case logic.FieldUpdateAvailable:
		if v, ok := value.(bool); ok {
			d.UpdateAvailable = &v
		}
	}
}

func (t *Tracker) recordEvent(id string, e logic.Event) {
	at := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.device(id)
	d.Counts.Add(e)
	d.LastAction = e.Action()
	d.LastEventAt = at
	t.totals.Add(e)
}

func (t *Tracker) OnButtonEvent(id string, e logic.ButtonEvent) {
	t.recordEvent(id, logic.EventOf(e))
}

func (t *Tracker) OnDialEvent(id string, e logic.DialEvent) {
	t.recordEvent(id, logic.EventOf(e))
}

func (t *Tracker) OnCombinedEvent(id string, e logic.CombinedEvent) {
	t.recordEvent(id, logic.EventOf(e))
}

func (t *Tracker) OnMetadataUpdate(id string, field logic.MetadataField, value any) {
	t.SetMetadata(id, field, value)
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the bridge state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		Devices:       make([]DeviceStatus, 0, len(t.devices)),
		Totals:        t.totals,
		StartTime:     t.start,
		MQTTConnected: t.connected,
		Network:       clonePtr(t.network),
		Config:        t.cfg,
	}
	for _, d := range t.devices {
		s.Devices = append(s.Devices, d.clone())
	}
	t.mu.RUnlock()

	sort.Slice(s.Devices, func(i, j int) bool { return s.Devices[i].ID < s.Devices[j].ID })
	s.Now = t.now()
	return s
}
