//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/openpeerpower/core/internal/infrastructure/config"
)

// Integration tests against a live broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	cfg.StateStream.BaseTopic = "opp-int"
	return cfg
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationConfig("opp-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := client.Topics()
	handler := func(string, []byte) error { return nil }
	for _, topic := range []string{topics.AllSets(), topics.State("light.kitchen")} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", client.SubscriptionCount())
	}

	if err := client.Unsubscribe(topics.AllSets()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics.AllSets()) {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

func TestIntegration_RetainedRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("opp-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	topic := pub.Topics().State("sensor.roundtrip")
	if err := pub.PublishRetained(topic, []byte("42")); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	sub, err := Connect(integrationConfig("opp-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { received <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != "42" {
			t.Errorf("received = %q, want 42", msg)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for retained state")
	}

	// Clear the retained message for the next run.
	if err := pub.PublishRetained(topic, nil); err != nil {
		t.Errorf("clearing retained message: %v", err)
	}
}
