package mqtt

import (
	"testing"

	"github.com/sweeney/tapdial-bridge/internal/logging"
)

func newOfflineClient() *RealClient {
	return &RealClient{
		logger:  logging.Discard(),
		subs:    make(map[string]Handler),
		pending: newOutbox(10),
	}
}

func TestRestoreReplaysQueueBeforeConnecting(t *testing.T) {
	c := newOfflineClient()
	c.subs["zigbee2mqtt/hall"] = func(string, []byte) {}
	for _, topic := range []string{"a", "b"} {
		if err := c.publish(topic, qosEvent, false, nil); err != nil {
			t.Fatalf("queue %s: %v", topic, err)
		}
	}

	var subscribed, sent []string
	subscribe := func(topic string, _ Handler) error {
		if c.connected {
			t.Error("connected before resubscribing")
		}
		subscribed = append(subscribed, topic)
		if topic == "zigbee2mqtt/hall" {
			// A device provisioned while the broker session is being restored.
			_ = c.Subscribe("zigbee2mqtt/den", func(string, []byte) {})
		}
		return nil
	}
	publish := func(m pendingMsg) {
		if c.connected {
			t.Errorf("connected before replaying %s", m.topic)
		}
		sent = append(sent, m.topic)
		if m.topic == "a" {
			// Published concurrently with the replay; must queue behind it.
			_ = c.publish("c", qosEvent, false, nil)
		}
	}

	subs, replayed := c.restore(subscribe, publish)

	if subs != 2 || replayed != 3 {
		t.Errorf("got subs=%d replayed=%d, want 2 and 3", subs, replayed)
	}
	want := []string{"a", "b", "c"}
	if len(sent) != len(want) {
		t.Fatalf("replayed %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("replay %d: got %s, want %s", i, sent[i], want[i])
		}
	}
	if len(subscribed) != 2 || subscribed[1] != "zigbee2mqtt/den" {
		t.Errorf("subscribed %v", subscribed)
	}
	if !c.connected {
		t.Error("expected connected after restore")
	}
	if c.pending.len() != 0 {
		t.Errorf("outbox not empty: %d", c.pending.len())
	}
}

func TestRestoreWithNothingPending(t *testing.T) {
	c := newOfflineClient()
	subs, replayed := c.restore(
		func(string, Handler) error { t.Error("unexpected subscribe"); return nil },
		func(pendingMsg) { t.Error("unexpected publish") },
	)
	if subs != 0 || replayed != 0 || !c.connected {
		t.Errorf("got subs=%d replayed=%d connected=%v", subs, replayed, c.connected)
	}
}
