package notify

import (
	"context"
	"testing"

	"github.com/verbalis/verbalis/internal/config"
	"github.com/verbalis/verbalis/internal/events"
)

func TestDisabledWithoutBroker(t *testing.T) {
	n := New(config.MQTTConfig{}, events.New(), nil)
	if n.Enabled() {
		t.Fatal("expected notifier disabled with empty broker")
	}
	// Start must be a no-op, not an error or a hang.
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := n.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestTopicPrefixDefault(t *testing.T) {
	n := New(config.MQTTConfig{Broker: "mqtt://broker.local:1883"}, events.New(), nil)
	if got := n.availabilityTopic(); got != "verbalis/availability" {
		t.Errorf("availability topic = %q", got)
	}
	if got := n.EventTopic(events.KindTimerFinished); got != "verbalis/events/timer_finished" {
		t.Errorf("event topic = %q", got)
	}
}

func TestTopicPrefixOverride(t *testing.T) {
	cfg := config.MQTTConfig{Broker: "mqtt://broker.local:1883", TopicPrefix: "assistant"}
	n := New(cfg, events.New(), nil)
	if got := n.EventTopic(events.KindReminderTriggered); got != "assistant/events/reminder_triggered" {
		t.Errorf("event topic = %q", got)
	}
}

func TestUtterancesStayInternal(t *testing.T) {
	if forwarded[events.KindUtterance] {
		t.Error("utterance events must not be forwarded to the broker")
	}
	for _, kind := range []string{
		events.KindSessionStarted,
		events.KindSessionStopped,
		events.KindReminderTriggered,
		events.KindTimerFinished,
	} {
		if !forwarded[kind] {
			t.Errorf("kind %q should be forwarded", kind)
		}
	}
}
