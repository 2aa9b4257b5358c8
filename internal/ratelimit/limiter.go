// Package ratelimit is the durable per-address admission gate applied to all
// inbound HTTP requests.
package ratelimit

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "strings"
    "time"

    "lockgrid/internal/metrics"
    "lockgrid/internal/store"
)

// Limiter wraps handlers with the sliding-window counter check. Counter
// mutations happen in the store under a per-address row lock; lock
// contention is retried a bounded number of times, then the request fails
// closed with a 500 rather than being admitted.
type Limiter struct {
    Store    store.Store
    Limit    int
    Interval time.Duration

    retries int
    now     func() time.Time
}

func New(s store.Store, limit int, interval time.Duration) *Limiter {
    if limit <= 0 { limit = 60 }
    if interval <= 0 { interval = time.Minute }
    return &Limiter{Store: s, Limit: limit, Interval: interval, retries: 3, now: time.Now}
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        d, err := l.admit(r.Context(), clientIP(r))
        if err != nil {
            log.Printf("ratelimit: admission check failed: %v", err)
            writeDetail(w, http.StatusInternalServerError, "Internal server error.")
            return
        }
        if !d.Admitted {
            metrics.RateLimited.Inc()
            writeDetail(w, http.StatusTooManyRequests,
                fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", int(d.Backoff/time.Second)))
            return
        }
        next.ServeHTTP(w, r)
    })
}

func (l *Limiter) admit(ctx context.Context, address string) (store.Decision, error) {
    var d store.Decision
    var err error
    for i := 0; i < l.retries; i++ {
        d, err = l.Store.AdmitRequest(ctx, address, l.Limit, l.Interval, l.now())
        if err == nil { return d, nil }
    }
    return store.Decision{}, err
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func clientIP(r *http.Request) string {
    if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
        parts := strings.Split(xff, ",")
        return strings.TrimSpace(parts[0])
    }
    host, _, err := net.SplitHostPort(r.RemoteAddr)
    if err != nil {
        return r.RemoteAddr
    }
    return host
}

// Sweeper deletes counters whose window started before the retention cutoff.
// Opt-in: the counter table otherwise grows without bound.
type Sweeper struct {
    Store     store.Store
    Retention time.Duration
    Stop      chan struct{}
}

func NewSweeper(s store.Store, retention time.Duration) *Sweeper {
    return &Sweeper{Store: s, Retention: retention, Stop: make(chan struct{})}
}

func (sw *Sweeper) Start() {
    go func() {
        ticker := time.NewTicker(time.Minute)
        defer ticker.Stop()
        for {
            select {
            case <-sw.Stop:
                return
            case <-ticker.C:
                ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
                n, err := sw.Store.PruneRateCounters(ctx, time.Now().Add(-sw.Retention))
                cancel()
                if err != nil {
                    log.Printf("ratelimit: prune failed: %v", err)
                } else if n > 0 {
                    log.Printf("ratelimit: pruned %d stale counters", n)
                }
            }
        }
    }()
}
