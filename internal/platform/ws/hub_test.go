package ws

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestClient() *client {
	return &client{
		id:     uuid.NewString(),
		topics: make(map[string]struct{}),
		send:   make(chan []byte, 4),
	}
}

func TestHub_SubscribeAndPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	clinicID := uuid.New()
	topic := ClinicTopic(clinicID)

	cl := newTestClient()
	hub.register(cl)
	hub.handleMessage(cl, subscribeMessage{Action: "subscribe", Topics: []string{topic}})

	if hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(topic))
	}

	hub.Publish(Event{Topic: topic, Subject: "FLOW", SubjectID: "f1", FromValue: "CALLED", ToValue: "SEATED"})

	select {
	case raw := <-cl.send:
		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if evt.ToValue != "SEATED" {
			t.Errorf("expected SEATED, got %s", evt.ToValue)
		}
		if evt.OccurredAt.IsZero() {
			t.Error("expected occurred_at to be stamped")
		}
	default:
		t.Fatal("expected event in client buffer")
	}
}

func TestHub_PublishSkipsOtherTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cl := newTestClient()
	hub.register(cl)
	hub.handleMessage(cl, subscribeMessage{Action: "subscribe", Topics: []string{"clinic/a"}})

	hub.Publish(Event{Topic: "clinic/b", Subject: "FLOW"})

	select {
	case <-cl.send:
		t.Fatal("client should not receive events for other topics")
	default:
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cl := newTestClient()
	hub.register(cl)
	hub.handleMessage(cl, subscribeMessage{Action: "subscribe", Topics: []string{"clinic/a"}})
	hub.handleMessage(cl, subscribeMessage{Action: "unsubscribe", Topics: []string{"clinic/a"}})

	if hub.TopicCount("clinic/a") != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.TopicCount("clinic/a"))
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cl := newTestClient()
	hub.register(cl)
	hub.handleMessage(cl, subscribeMessage{Action: "subscribe", Topics: []string{"clinic/a"}})
	hub.unregister(cl)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, open := <-cl.send; open {
		t.Error("expected send channel to be closed")
	}

	// Second unregister is a no-op, not a double close.
	hub.unregister(cl)
}

func TestHub_SlowClientSkipped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cl := &client{id: "slow", topics: make(map[string]struct{}), send: make(chan []byte)}
	hub.register(cl)
	hub.handleMessage(cl, subscribeMessage{Action: "subscribe", Topics: []string{"clinic/a"}})

	// Unbuffered channel with no reader: Publish must not block.
	hub.Publish(Event{Topic: "clinic/a", Subject: "FLOW"})
}
