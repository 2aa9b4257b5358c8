package api

import (
    "sync"
    "time"

    "lockgrid/internal/model"
)

// DeviceEvent is a reconciled state transition pushed to stream clients.
type DeviceEvent struct {
    TerminalID string `json:"terminalId"`
    BoxID      string `json:"boxId"`
    Kind       string `json:"kind"`
    LockStatus string `json:"lockStatus"`
    TS         string `json:"ts"`
}

// Broker fans device events out to websocket subscribers. Subscriptions are
// per terminal; the empty key receives every terminal's events.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan DeviceEvent]struct{} // terminalId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan DeviceEvent]struct{}{}}
}

func (b *Broker) Subscribe(terminalID string) chan DeviceEvent {
    ch := make(chan DeviceEvent, 8)
    b.mu.Lock()
    if b.subs[terminalID] == nil { b.subs[terminalID] = map[chan DeviceEvent]struct{}{} }
    b.subs[terminalID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(terminalID string, ch chan DeviceEvent) {
    b.mu.Lock()
    if m := b.subs[terminalID]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, terminalID) }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(evt DeviceEvent) {
    b.mu.Lock()
    for ch := range b.subs[evt.TerminalID] {
        select { case ch <- evt: default: }
    }
    for ch := range b.subs[""] {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}

// PublishTransition adapts a reconciler transition callback to the broker.
func (b *Broker) PublishTransition(st model.DeviceState, kind string) {
    b.Publish(DeviceEvent{
        TerminalID: st.Key.TerminalID,
        BoxID:      st.Key.BoxID,
        Kind:       kind,
        LockStatus: st.LockStatus,
        TS:         st.LastUpdated.Format(time.RFC3339),
    })
}
