package ingest

import (
    "context"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis Pub/Sub.
type RedisBus struct {
    rdb *redis.Client
}

func NewRedisBus(url string) (*RedisBus, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisBus{rdb: redis.NewClient(opt)}, nil
}

func NewRedisBusFromClient(rdb *redis.Client) *RedisBus { return &RedisBus{rdb: rdb} }

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan string, error) {
    ps := b.rdb.Subscribe(ctx, topic)
    // initial consume to ensure the subscription is established
    if _, err := ps.Receive(ctx); err != nil {
        _ = ps.Close()
        return nil, err
    }
    ch := make(chan string, 64)
    go func() {
        defer func() { _ = ps.Close() }()
        forward(ctx, ps.Channel(), ch)
    }()
    return ch, nil
}

// forward copies payloads from the pub/sub channel to the subscriber.
// Sends block when the buffer is full: the consumer is the single ingest
// loop, and dropping here would lose transitions and their audit entries.
func forward(ctx context.Context, src <-chan *redis.Message, dst chan<- string) {
    defer close(dst)
    for {
        select {
        case <-ctx.Done():
            return
        case msg, ok := <-src:
            if !ok { return }
            select {
            case <-ctx.Done():
                return
            case dst <- msg.Payload:
            }
        }
    }
}

func (b *RedisBus) Publish(ctx context.Context, topic, payload string) error {
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return b.rdb.Publish(ctx, topic, payload).Err()
}
