package main

import (
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/config"
	"github.com/sweeney/tapdial-bridge/internal/logging"
	"github.com/sweeney/tapdial-bridge/internal/logic"
	"github.com/sweeney/tapdial-bridge/internal/mqtt"
	"github.com/sweeney/tapdial-bridge/internal/status"
)

// --- config loading ---

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func noEnv(string) string { return "" }

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", filepath.Join(t.TempDir(), "missing.env"), config.FlagOverrides{}, noEnv)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := config.DefaultConfig()
	if cfg.MQTT.Broker != want.MQTT.Broker {
		t.Errorf("broker: got %q, want %q", cfg.MQTT.Broker, want.MQTT.Broker)
	}
	if cfg.Debounce() != 100*time.Millisecond {
		t.Errorf("debounce: got %v, want 100ms", cfg.Debounce())
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeFile(t, "config.yaml", `
mqtt:
  broker: tcp://file:1883
http:
  addr: ":9000"
store:
  path: /var/lib/tapdial/file.db
devices:
  - id: hall
    name: Hall
`)
	env := map[string]string{
		config.EnvBroker: "tcp://env:1883",
		config.EnvStore:  "off",
	}
	flagBroker := "tcp://flag:1883"
	overrides := config.FlagOverrides{Broker: &flagBroker}

	cfg, err := loadConfig(path, "", overrides, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.MQTT.Broker != flagBroker {
		t.Errorf("broker: got %q, want flag value", cfg.MQTT.Broker)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("http: got %q, want file value", cfg.HTTP.Addr)
	}
	if cfg.Store.Path != "" {
		t.Errorf("store: got %q, want disabled by env", cfg.Store.Path)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].ID != "hall" {
		t.Errorf("devices: got %+v", cfg.Devices)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := writeFile(t, "config.yaml", "heartbeat_ms: -1\n")
	if _, err := loadConfig(path, "", config.FlagOverrides{}, noEnv); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadConfigUnknownField(t *testing.T) {
	path := writeFile(t, "config.yaml", "poll_ms: 100\n")
	if _, err := loadConfig(path, "", config.FlagOverrides{}, noEnv); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestOverridesFromFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("broker", "", "")
	fs.String("http", "", "")
	fs.Int("led-pin", 0, "")
	fs.Int("debounce-ms", 0, "")
	fs.Bool("discovery", true, "")
	if err := fs.Parse([]string{"-broker", "tcp://x:1883", "-led-pin", "17", "-discovery=false"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	o := overridesFromFlags(fs)
	if o.Broker == nil || *o.Broker != "tcp://x:1883" {
		t.Errorf("broker: got %v", o.Broker)
	}
	if o.LEDPin == nil || *o.LEDPin != 17 {
		t.Errorf("led pin: got %v", o.LEDPin)
	}
	if o.Discovery == nil || *o.Discovery {
		t.Errorf("discovery: got %v, want explicit false", o.Discovery)
	}
	if o.HTTPAddr != nil {
		t.Error("http should be nil when the flag was not given")
	}
	if o.DebounceMS != nil {
		t.Error("debounce should be nil when the flag was not given")
	}
}

func TestTopicsFor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MQTT.BaseTopic = "z2m"
	cfg.MQTT.EventPrefix = "home/dials"
	topics := topicsFor(cfg)

	if got := topics.Device("hall"); got != "z2m/hall" {
		t.Errorf("device topic: got %q", got)
	}
	if got := topics.Event("hall"); got != "home/dials/hall/event" {
		t.Errorf("event topic: got %q", got)
	}
}

// --- runLoop ---

type countingSyncer struct {
	mu sync.Mutex
	n  int
}

func (c *countingSyncer) SyncStatus() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingSyncer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type loopHarness struct {
	client    *mqtt.FakeClient
	tracker   *status.Tracker
	syncer    *countingSyncer
	heartbeat chan time.Time
	refresh   chan time.Time
	sig       chan os.Signal
	done      chan struct{}
	errCh     chan error
}

func startLoop(t *testing.T, env map[string]string) *loopHarness {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &loopHarness{
		client:    mqtt.NewFakeClient(),
		tracker:   status.NewTracker(start, status.Config{Broker: "tcp://test:1883", HeartbeatMs: 900000}),
		syncer:    &countingSyncer{},
		heartbeat: make(chan time.Time),
		refresh:   make(chan time.Time),
		sig:       make(chan os.Signal, 1),
		done:      make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	h.tracker.AddDevice("hall", "Hall")
	clock := start
	l := loop{
		publisher: h.client,
		status:    h.syncer,
		tracker:   h.tracker,
		now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
		getenv: func(k string) string { return env[k] },
		logger: logging.Discard(),
	}
	go func() {
		h.errCh <- runLoop(l, h.heartbeat, h.refresh, h.sig, h.done)
	}()
	return h
}

func (h *loopHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
		return nil
	}
}

func decodeStatus(t *testing.T, payload []byte) status.StatusInner {
	t.Helper()
	var sj status.StatusJSON
	if err := json.Unmarshal(payload, &sj); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	return sj.Status
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	h := startLoop(t, nil)
	h.sig <- syscall.SIGTERM
	if err := h.wait(t); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	events := h.client.SystemEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGTERM" {
		t.Errorf("got %s/%s, want SHUTDOWN/SIGTERM", ev.Event, ev.Reason)
	}
	if !ev.Retained {
		t.Error("SHUTDOWN should be retained")
	}
	st := decodeStatus(t, ev.RawPayload)
	if st.Event != "SHUTDOWN" || st.Reason != "SIGTERM" {
		t.Errorf("payload event/reason: got %s/%s", st.Event, st.Reason)
	}
	if len(st.Devices) != 1 || st.Devices[0].ID != "hall" {
		t.Errorf("payload devices: got %+v", st.Devices)
	}
	if h.syncer.count() == 0 {
		t.Error("expected status sync before shutdown")
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	h := startLoop(t, nil)
	h.sig <- syscall.SIGINT
	if err := h.wait(t); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	events := h.client.SystemEvents()
	if len(events) != 1 || events[0].Reason != "SIGINT" {
		t.Fatalf("expected SHUTDOWN/SIGINT, got %+v", events)
	}
}

func TestRunLoopShutdownOnComponentFailure(t *testing.T) {
	h := startLoop(t, nil)
	close(h.done)
	if err := h.wait(t); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	events := h.client.SystemEvents()
	if len(events) != 1 || events[0].Reason != "ERROR" {
		t.Fatalf("expected SHUTDOWN/ERROR, got %+v", events)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := startLoop(t, map[string]string{
		"NETWORK_STATUS": "connected",
		"NETWORK_IP":     "192.168.1.50",
	})
	h.tracker.OnDialEvent("hall", logic.DialEvent{Direction: logic.DirectionUp, Delta: 4, AbsDelta: 4})

	h.heartbeat <- time.Time{}
	h.heartbeat <- time.Time{}
	h.sig <- syscall.SIGTERM
	if err := h.wait(t); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for _, ev := range h.client.SystemEvents() {
		switch ev.Event {
		case "HEARTBEAT":
			heartbeats++
			if ev.Retained {
				t.Error("HEARTBEAT should not be retained")
			}
			st := decodeStatus(t, ev.RawPayload)
			if st.Counts.Dial != 1 {
				t.Errorf("heartbeat dial count: got %d, want 1", st.Counts.Dial)
			}
			if st.Network == nil || st.Network.IP != "192.168.1.50" {
				t.Errorf("heartbeat network: got %+v", st.Network)
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 2 {
		t.Errorf("expected 2 HEARTBEAT events, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopRefreshSyncsStatus(t *testing.T) {
	h := startLoop(t, nil)
	h.refresh <- time.Time{}
	h.refresh <- time.Time{}
	h.sig <- syscall.SIGTERM
	if err := h.wait(t); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if got := h.syncer.count(); got != 3 {
		t.Errorf("sync count: got %d, want 3 (two refreshes + shutdown)", got)
	}
	if n := len(h.client.SystemEvents()); n != 1 {
		t.Errorf("refresh must not publish; got %d system events", n)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	h := startLoop(t, nil)
	h.client.PublishError = errors.New("broker unavailable")

	h.heartbeat <- time.Time{}
	h.sig <- syscall.SIGTERM
	if err := h.wait(t); err != nil {
		t.Fatalf("publish errors must not stop the loop: %v", err)
	}
	if n := len(h.client.SystemEvents()); n != 0 {
		t.Errorf("expected nothing recorded, got %d", n)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}
