package api

import (
    "testing"
    "time"

    "lockgrid/internal/model"
)

func TestBrokerTerminalFilter(t *testing.T) {
    b := NewBroker()
    all := b.Subscribe("")
    t01 := b.Subscribe("T01")
    t99 := b.Subscribe("T99")

    b.Publish(DeviceEvent{TerminalID: "T01", BoxID: "3", Kind: model.TransitionUnlock, LockStatus: model.LockStatusOpen})

    select {
    case evt := <-t01:
        if evt.BoxID != "3" {
            t.Fatalf("evt: %+v", evt)
        }
    default:
        t.Fatal("terminal subscriber missed its event")
    }
    select {
    case <-all:
    default:
        t.Fatal("wildcard subscriber missed the event")
    }
    select {
    case evt := <-t99:
        t.Fatalf("other terminal received %+v", evt)
    default:
    }

    b.Unsubscribe("", all)
    b.Unsubscribe("T01", t01)
    b.Unsubscribe("T99", t99)
    if _, ok := <-t01; ok {
        t.Fatal("channel still open after unsubscribe")
    }
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("T01")
    // Fill past the channel buffer; Publish must never block.
    done := make(chan struct{})
    go func() {
        for i := 0; i < 50; i++ {
            b.Publish(DeviceEvent{TerminalID: "T01", BoxID: "1", Kind: model.TransitionLock})
        }
        close(done)
    }()
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatal("Publish blocked on a slow subscriber")
    }
    b.Unsubscribe("T01", ch)
}

func TestPublishTransition(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("T01")
    ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
    b.PublishTransition(model.DeviceState{
        Key:         model.DeviceKey{TerminalID: "T01", BoxID: "4"},
        LockStatus:  model.LockStatusOpen,
        LastUpdated: ts,
    }, model.TransitionUnlock)

    evt := <-ch
    if evt.Kind != model.TransitionUnlock || evt.LockStatus != model.LockStatusOpen {
        t.Fatalf("evt: %+v", evt)
    }
    if evt.TS != "2026-03-01T12:00:00Z" {
        t.Fatalf("ts: %q", evt.TS)
    }
    b.Unsubscribe("T01", ch)
}
