package ingest

import (
    "context"
    "errors"
    "log"
    "strings"

    "lockgrid/internal/devstate"
    "lockgrid/internal/metrics"
    "lockgrid/internal/model"
)

// ErrBusClosed is returned when the subscription channel closes; the loop
// does not reconnect, the process is expected to be supervised.
var ErrBusClosed = errors.New("ingest: bus subscription closed")

// Loop is the long-lived consumer of the device status topic. Messages are
// processed one at a time in arrival order.
type Loop struct {
    Bus        Bus
    Topic      string
    Reconciler *devstate.Reconciler
}

func NewLoop(bus Bus, topic string, r *devstate.Reconciler) *Loop {
    if topic == "" { topic = "/status" }
    return &Loop{Bus: bus, Topic: topic, Reconciler: r}
}

// Run blocks until the context is cancelled or the bus connection is lost.
// Per-message failures are logged and dropped, never fatal.
func (l *Loop) Run(ctx context.Context) error {
    ch, err := l.Bus.Subscribe(ctx, l.Topic)
    if err != nil { return err }
    log.Printf("ingest: subscribed to %s", l.Topic)
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case payload, ok := <-ch:
            if !ok {
                if ctx.Err() != nil { return ctx.Err() }
                return ErrBusClosed
            }
            l.handle(ctx, payload)
        }
    }
}

func (l *Loop) handle(ctx context.Context, payload string) {
    key, raw, err := parseStatusMessage(payload)
    if err != nil {
        metrics.IngestMessages.WithLabelValues("malformed").Inc()
        log.Printf("ingest: dropping message %q: %v", payload, err)
        return
    }
    outcome, err := l.Reconciler.Apply(ctx, key, raw)
    if err != nil {
        metrics.IngestMessages.WithLabelValues("error").Inc()
        log.Printf("ingest: reconcile %s failed: %v", key, err)
        return
    }
    metrics.IngestMessages.WithLabelValues(string(outcome)).Inc()
}

// parseStatusMessage decodes `terminal,box,statusCode[,...]`. Extra fields
// after the status code are ignored.
func parseStatusMessage(payload string) (model.DeviceKey, string, error) {
    parts := strings.Split(payload, ",")
    if len(parts) < 3 {
        return model.DeviceKey{}, "", errors.New("want at least 3 comma-separated fields")
    }
    terminal := strings.TrimSpace(parts[0])
    box := strings.TrimSpace(parts[1])
    raw := strings.TrimSpace(parts[2])
    if terminal == "" || box == "" || raw == "" {
        return model.DeviceKey{}, "", errors.New("empty terminal, box or status field")
    }
    return model.DeviceKey{TerminalID: terminal, BoxID: box}, raw, nil
}
