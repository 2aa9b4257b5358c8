// Package ingest consumes vendor device-status messages from the bus and
// feeds them through the state reconciler.
package ingest

import (
    "context"
    "sync"
)

// Bus is a topic-based message subscription. Subscribe returns a channel of
// raw payloads; the channel closing signals connection loss.
type Bus interface {
    Subscribe(ctx context.Context, topic string) (<-chan string, error)
    Publish(ctx context.Context, topic, payload string) error
}

// MemoryBus is an in-process bus for dev and tests.
type MemoryBus struct {
    mu   sync.Mutex
    subs map[string]map[chan string]struct{} // topic -> set of channels
}

func NewMemoryBus() *MemoryBus {
    return &MemoryBus{subs: map[string]map[chan string]struct{}{}}
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan string, error) {
    ch := make(chan string, 64)
    b.mu.Lock()
    if b.subs[topic] == nil { b.subs[topic] = map[chan string]struct{}{} }
    b.subs[topic][ch] = struct{}{}
    b.mu.Unlock()
    go func() {
        <-ctx.Done()
        b.mu.Lock()
        if m := b.subs[topic]; m != nil {
            if _, ok := m[ch]; ok {
                delete(m, ch)
                close(ch)
            }
            if len(m) == 0 { delete(b.subs, topic) }
        }
        b.mu.Unlock()
    }()
    return ch, nil
}

func (b *MemoryBus) Publish(ctx context.Context, topic, payload string) error {
    b.mu.Lock()
    for ch := range b.subs[topic] {
        select { case ch <- payload: default: }
    }
    b.mu.Unlock()
    return nil
}
