package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Devices       []DeviceJSON `json:"devices"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Short    int `json:"short"`
	Long     int `json:"long"`
	Dial     int `json:"dial"`
	Combined int `json:"combined"`
}

// DeviceJSON is the JSON representation of one device.
type DeviceJSON struct {
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	Battery          *float64   `json:"battery,omitempty"`
	LinkQuality      *float64   `json:"linkquality,omitempty"`
	InstalledVersion *string    `json:"installed_version,omitempty"`
	LatestVersion    *string    `json:"latest_version,omitempty"`
	UpdateAvailable  *bool      `json:"update_available,omitempty"`
	Counts           CountsJSON `json:"event_counts"`
	LastAction       string     `json:"last_action,omitempty"`
	LastEventAt      string     `json:"last_event_at,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of bridge config.
type ConfigJSON struct {
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	BaseTopic   string `json:"base_topic"`
	EventPrefix string `json:"event_prefix"`
	HTTPAddr    string `json:"http_addr"`
	Discovery   bool   `json:"discovery"`
}

func countsJSON(c logic.EventCounts) CountsJSON {
	return CountsJSON{Short: c.Short, Long: c.Long, Dial: c.Dial, Combined: c.Combined}
}

func buildDevice(d DeviceStatus) DeviceJSON {
	out := DeviceJSON{
		ID:               d.ID,
		Name:             d.Name,
		Battery:          d.Battery,
		LinkQuality:      d.LinkQuality,
		InstalledVersion: d.InstalledVersion,
		LatestVersion:    d.LatestVersion,
		UpdateAvailable:  d.UpdateAvailable,
		Counts:           countsJSON(d.Counts),
		LastAction:       d.LastAction,
	}
	if !d.LastEventAt.IsZero() {
		out.LastEventAt = d.LastEventAt.UTC().Format(time.RFC3339)
	}
	return out
}

// BuildInner converts a snapshot into its JSON shape.
func BuildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        countsJSON(snap.Totals),
		Devices:       make([]DeviceJSON, 0, len(snap.Devices)),
		Config: ConfigJSON{
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			BaseTopic:   snap.Config.BaseTopic,
			EventPrefix: snap.Config.EventPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			Discovery:   snap.Config.Discovery,
		},
	}
	for _, d := range snap.Devices {
		inner.Devices = append(inner.Devices, buildDevice(d))
	}
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: BuildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := BuildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
