// Package discovery finds tap dial controllers in the zigbee2mqtt device list
// and hands new ones to a Provisioner.
package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// productCode is the Philips EAN printed on the tap dial box and reported as
// model_id by some firmware.
const productCode = "8719514491069"

// Definition is the converter definition zigbee2mqtt attaches to a device.
type Definition struct {
	Model       string `json:"model"`
	Vendor      string `json:"vendor"`
	Description string `json:"description"`
}

// Device is one entry of <base>/bridge/devices.
type Device struct {
	IEEEAddress  string          `json:"ieee_address"`
	LegacyIEEE   string          `json:"ieeeAddr"`
	FriendlyName string          `json:"friendly_name"`
	Type         string          `json:"type"`
	Model        string          `json:"model"`
	ModelID      json.RawMessage `json:"model_id"`
	Manufacturer string          `json:"manufacturer"`
	Definition   *Definition     `json:"definition"`
}

// Address returns the IEEE address in either of the formats zigbee2mqtt has used.
func (d Device) Address() string {
	if d.IEEEAddress != "" {
		return d.IEEEAddress
	}
	return d.LegacyIEEE
}

// ModelName returns the top-level model, falling back to the definition
// and then to model_id.
func (d Device) ModelName() string {
	if d.Model != "" {
		return d.Model
	}
	if d.Definition != nil && d.Definition.Model != "" {
		return d.Definition.Model
	}
	return d.ModelIDString()
}

// ModelIDString returns model_id, which zigbee2mqtt sends as a string or,
// for some firmware, a bare number.
func (d Device) ModelIDString() string {
	return strings.TrimSpace(strings.Trim(string(d.ModelID), `"`))
}

// IsTapDial reports whether d looks like a Hue tap dial switch.
func IsTapDial(d Device) bool {
	model := d.ModelName()
	lower := strings.ToLower(model)
	modelID := d.ModelIDString()
	switch {
	case strings.Contains(model, "RDM002"), strings.Contains(modelID, "RDM002"):
		return true
	case strings.Contains(modelID, productCode):
		return true
	case strings.Contains(lower, "tap dial"):
		return true
	case strings.Contains(strings.ToLower(d.FriendlyName), "tap_dial"):
		return true
	case strings.Contains(strings.ToLower(d.Type), "dial"):
		return true
	case strings.EqualFold(d.Manufacturer, "philips") && strings.Contains(lower, "dial"):
		return true
	case d.Definition != nil && strings.Contains(strings.ToLower(d.Definition.Description), "dial"):
		return true
	}
	return false
}

// Found is a newly discovered controller.
type Found struct {
	ID          string // friendly name, which is also the MQTT topic suffix
	Name        string
	IEEEAddress string
	Model       string
}

// Provisioner creates processing state for a discovered device.
type Provisioner interface {
	ProvisionDiscovered(f Found) error
}

// Detector tracks which devices have already been discovered or configured
// for the lifetime of one bridge process.
type Detector struct {
	provisioner Provisioner
	logger      *slog.Logger

	mu         sync.Mutex
	discovered map[string]struct{}
	configured map[string]struct{}
}

// NewDetector creates a Detector.
func NewDetector(p Provisioner, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		provisioner: p,
		logger:      logger.With("component", "discovery"),
		discovered:  make(map[string]struct{}),
		configured:  make(map[string]struct{}),
	}
}

// MarkConfigured records identifiers (device IDs or IEEE addresses) that are
// already provisioned and must not be rediscovered.
func (d *Detector) MarkConfigured(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			d.configured[id] = struct{}{}
		}
	}
}

// Forget clears identifiers so the device can be discovered again.
func (d *Detector) Forget(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.configured, id)
		delete(d.discovered, id)
	}
}

// HandleDevices processes a bridge/devices payload, which is either a list of
// devices or a single device object. It returns the devices provisioned by
// this call.
func (d *Detector) HandleDevices(payload []byte) ([]Found, error) {
	var devices []Device
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one Device
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decode device: %w", err)
		}
		devices = []Device{one}
	} else if err := json.Unmarshal(trimmed, &devices); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}

	var found []Found
	for _, dev := range devices {
		f, ok := d.consider(dev)
		if !ok {
			continue
		}
		if err := d.provisioner.ProvisionDiscovered(f); err != nil {
			d.logger.Error("provision failed", "device", f.ID, "error", err)
			d.mu.Lock()
			delete(d.discovered, uniqueID(f))
			d.mu.Unlock()
			continue
		}
		d.logger.Info("discovered tap dial", "device", f.ID, "model", f.Model, "ieee", f.IEEEAddress)
		found = append(found, f)
	}
	return found, nil
}

func uniqueID(f Found) string {
	if f.IEEEAddress != "" {
		return f.IEEEAddress
	}
	return f.ID
}

func (d *Detector) consider(dev Device) (Found, bool) {
	if !IsTapDial(dev) {
		d.logger.Debug("not a tap dial", "device", dev.FriendlyName, "model", dev.ModelName(), "type", dev.Type)
		return Found{}, false
	}
	if dev.FriendlyName == "" {
		d.logger.Warn("tap dial without friendly name", "ieee", dev.Address())
		return Found{}, false
	}

	f := Found{
		ID:          dev.FriendlyName,
		Name:        dev.FriendlyName,
		IEEEAddress: dev.Address(),
		Model:       dev.ModelName(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.configured[f.ID]; ok {
		return Found{}, false
	}
	if _, ok := d.configured[f.IEEEAddress]; ok && f.IEEEAddress != "" {
		return Found{}, false
	}
	key := uniqueID(f)
	if _, ok := d.discovered[key]; ok {
		return Found{}, false
	}
	d.discovered[key] = struct{}{}
	return f, true
}
