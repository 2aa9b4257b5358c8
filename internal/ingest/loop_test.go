package ingest

import (
    "context"
    "testing"
    "time"

    "lockgrid/internal/devstate"
    "lockgrid/internal/model"
    "lockgrid/internal/store"
)

func TestParseStatusMessage(t *testing.T) {
    key, raw, err := parseStatusMessage("T01,3,1")
    if err != nil {
        t.Fatalf("parse: %v", err)
    }
    if key.TerminalID != "T01" || key.BoxID != "3" || raw != "1" {
        t.Fatalf("got %v %q", key, raw)
    }

    // Extra fields after the status code are ignored.
    key, raw, err = parseStatusMessage("T01, 5 , 0 ,battery=87,rssi=-60")
    if err != nil {
        t.Fatalf("parse: %v", err)
    }
    if key.BoxID != "5" || raw != "0" {
        t.Fatalf("got %v %q", key, raw)
    }

    for _, bad := range []string{"", "T01", "T01,3", "T01,,1", " , , "} {
        if _, _, err := parseStatusMessage(bad); err == nil {
            t.Fatalf("parse(%q): want error", bad)
        }
    }
}

func TestLoopAppliesMessagesInOrder(t *testing.T) {
    s := store.NewMemory()
    r := devstate.NewReconciler(devstate.NewMemoryCache(), s, 10*time.Second)
    bus := NewMemoryBus()
    loop := NewLoop(bus, "/status", r)

    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- loop.Run(ctx) }()
    time.Sleep(20 * time.Millisecond)

    for _, msg := range []string{"T01,3,1", "not-a-message", "T01,3,0"} {
        if err := bus.Publish(ctx, "/status", msg); err != nil {
            t.Fatalf("publish: %v", err)
        }
    }
    deadline := time.Now().Add(2 * time.Second)
    for {
        st, err := s.GetDeviceState(context.Background(), model.DeviceKey{TerminalID: "T01", BoxID: "3"})
        if err == nil && st.LockStatus == model.LockStatusLocked {
            break
        }
        if time.Now().After(deadline) {
            t.Fatalf("state never converged: %+v err=%v", st, err)
        }
        time.Sleep(10 * time.Millisecond)
    }
    // The unlock then lock sequence audited exactly one transition.
    items, _, err := s.ListAuditEntries(context.Background(), model.DeviceKey{TerminalID: "T01", BoxID: "3"}, "", 10)
    if err != nil {
        t.Fatalf("ListAuditEntries: %v", err)
    }
    if len(items) != 1 || items[0].Kind != model.TransitionLock {
        t.Fatalf("audit entries: %+v", items)
    }

    cancel()
    select {
    case err := <-done:
        if err != context.Canceled {
            t.Fatalf("Run returned %v, want context.Canceled", err)
        }
    case <-time.After(2 * time.Second):
        t.Fatal("loop did not stop")
    }
}

func TestLoopReportsBusLoss(t *testing.T) {
    s := store.NewMemory()
    r := devstate.NewReconciler(devstate.NewMemoryCache(), s, 10*time.Second)
    loop := NewLoop(closedBus{}, "/status", r)

    err := loop.Run(context.Background())
    if err != ErrBusClosed {
        t.Fatalf("Run returned %v, want ErrBusClosed", err)
    }
}

type closedBus struct{}

func (closedBus) Subscribe(ctx context.Context, topic string) (<-chan string, error) {
    ch := make(chan string)
    close(ch)
    return ch, nil
}

func (closedBus) Publish(ctx context.Context, topic, payload string) error { return nil }
