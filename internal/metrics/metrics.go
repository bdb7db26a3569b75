// Package metrics exposes bridge counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

const namespace = "tapdial"

// Collector holds the bridge metrics on a private registry. It implements
// logic.Sink and session.Observer.
type Collector struct {
	registry *prometheus.Registry

	RecordsReceived *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
	EventsEmitted   *prometheus.CounterVec
	MetadataUpdates *prometheus.CounterVec
	MQTTConnected   prometheus.Gauge
	Devices         prometheus.Gauge
}

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		RecordsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_received_total",
				Help:      "Raw device records received",
			},
			[]string{"device"},
		),
		RecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Raw device records that produced no event, by reason",
			},
			[]string{"device", "reason"},
		),
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_emitted_total",
				Help:      "Normalized events emitted",
			},
			[]string{"device", "type"},
		),
		MetadataUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_updates_total",
				Help:      "Device attribute updates",
			},
			[]string{"device", "field"},
		),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 when the broker connection is up",
		}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Provisioned devices",
		}),
	}
	c.registry.MustRegister(
		c.RecordsReceived,
		c.RecordsDropped,
		c.EventsEmitted,
		c.MetadataUpdates,
		c.MQTTConnected,
		c.Devices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRecord counts a processed record by outcome.
func (c *Collector) ObserveRecord(deviceID string, outcome logic.Outcome) {
	c.RecordsReceived.WithLabelValues(deviceID).Inc()
	switch outcome {
	case logic.OutcomeEmitted, logic.OutcomeStateOnly, logic.OutcomeEmpty:
	default:
		c.RecordsDropped.WithLabelValues(deviceID, string(outcome)).Inc()
	}
}

// SetMQTTConnected updates the connection gauge.
func (c *Collector) SetMQTTConnected(connected bool) {
	if connected {
		c.MQTTConnected.Set(1)
	} else {
		c.MQTTConnected.Set(0)
	}
}

// SetDevices updates the provisioned device gauge.
func (c *Collector) SetDevices(n int) {
	c.Devices.Set(float64(n))
}

// Forget drops all series for a deprovisioned device.
func (c *Collector) Forget(deviceID string) {
	labels := prometheus.Labels{"device": deviceID}
	c.RecordsReceived.DeletePartialMatch(labels)
	c.RecordsDropped.DeletePartialMatch(labels)
	c.EventsEmitted.DeletePartialMatch(labels)
	c.MetadataUpdates.DeletePartialMatch(labels)
}

func (c *Collector) OnButtonEvent(deviceID string, _ logic.ButtonEvent) {
	c.EventsEmitted.WithLabelValues(deviceID, string(logic.KindButton)).Inc()
}

func (c *Collector) OnDialEvent(deviceID string, _ logic.DialEvent) {
	c.EventsEmitted.WithLabelValues(deviceID, string(logic.KindDial)).Inc()
}

func (c *Collector) OnCombinedEvent(deviceID string, _ logic.CombinedEvent) {
	c.EventsEmitted.WithLabelValues(deviceID, string(logic.KindCombined)).Inc()
}

func (c *Collector) OnMetadataUpdate(deviceID string, field logic.MetadataField, _ any) {
	c.MetadataUpdates.WithLabelValues(deviceID, string(field)).Inc()
}
