package events

import (
	"testing"
	"time"

	"github.com/rowanlabs/rowan/internal/model"
)

func recv(t *testing.T, sub *Subscription) model.DebugEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.DebugEvent{}
}

func TestPublish_RunAndGlobalStreams(t *testing.T) {
	bus := NewBus(0)
	runSub := bus.Subscribe("run-1")
	defer runSub.Close()
	otherSub := bus.Subscribe("run-2")
	defer otherSub.Close()
	globalSub := bus.SubscribeGlobal()
	defer globalSub.Close()

	bus.Publish(model.DebugEvent{RunID: "run-1", Type: model.EventUserMessage, Payload: "hi"})

	ev := recv(t, runSub)
	if ev.Payload != "hi" {
		t.Errorf("run subscriber got %+v", ev)
	}
	if ev.At.IsZero() {
		t.Error("publish should stamp the event time")
	}
	if got := recv(t, globalSub); got.RunID != "run-1" {
		t.Errorf("global subscriber got %+v", got)
	}
	select {
	case ev := <-otherSub.C:
		t.Errorf("run-2 subscriber received run-1 event: %+v", ev)
	default:
	}
}

func TestSubscribe_NoBackfill(t *testing.T) {
	bus := NewBus(0)
	bus.Publish(model.DebugEvent{RunID: "run-1", Type: model.EventRunStarted})

	sub := bus.Subscribe("run-1")
	defer sub.Close()
	select {
	case ev := <-sub.C:
		t.Errorf("received pre-subscription event: %+v", ev)
	default:
	}
}

func TestPublish_DropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(0)
	slow := bus.Subscribe("run-1")
	defer slow.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(model.DebugEvent{RunID: "run-1", Type: model.EventLLMResponse})
	}

	// The publisher never blocked; the slow subscriber holds a full buffer.
	if got := len(slow.C); got != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", got, subscriberBuffer)
	}

	// A fresh subscriber still receives new traffic.
	fresh := bus.Subscribe("run-1")
	defer fresh.Close()
	bus.Publish(model.DebugEvent{RunID: "run-1", Type: model.EventRunCompleted})
	if ev := recv(t, fresh); ev.Type != model.EventRunCompleted {
		t.Errorf("fresh subscriber got %+v", ev)
	}
}

func TestClose_Idempotent(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe("run-1")
	sub.Close()
	sub.Close()

	if _, open := <-sub.C; open {
		t.Error("channel still open after Close")
	}

	// Publishing after close must not panic.
	bus.Publish(model.DebugEvent{RunID: "run-1", Type: model.EventError})
}

func TestIdleTimeout_ClosesSubscriber(t *testing.T) {
	bus := NewBus(50 * time.Millisecond)
	sub := bus.Subscribe("run-1")

	select {
	case _, open := <-sub.C:
		if open {
			t.Fatal("received unexpected event")
		}
	case <-time.After(time.Second):
		t.Fatal("idle subscriber was not reaped")
	}
}

func TestIdleTimeout_TrafficKeepsSubscriberAlive(t *testing.T) {
	bus := NewBus(80 * time.Millisecond)
	sub := bus.Subscribe("run-1")
	defer sub.Close()

	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		bus.Publish(model.DebugEvent{RunID: "run-1", Type: model.EventLLMResponse})
		recv(t, sub)
	}
}
