package devstate

import (
    "context"
    "time"

    "lockgrid/internal/metrics"
    "lockgrid/internal/model"
    "lockgrid/internal/store"
)

// Outcome of applying one raw status observation.
type Outcome string

const (
    OutcomeTransition Outcome = "transition" // cached value differed; durable write + audit
    OutcomeCold       Outcome = "cold"       // cache miss; durable write, no audit
    OutcomeNoop       Outcome = "noop"       // cached value identical
)

// Reconciler applies raw vendor status codes to the two-tier device state
// store. The cache TTL bounds the window in which a repeated observation is
// treated as a duplicate.
type Reconciler struct {
    Cache StatusCache
    Store store.Store
    TTL   time.Duration
    // OnTransition, when set, is called after each audited transition.
    OnTransition func(st model.DeviceState, kind string)

    now func() time.Time
}

func NewReconciler(cache StatusCache, s store.Store, ttl time.Duration) *Reconciler {
    if ttl <= 0 { ttl = 10 * time.Second }
    return &Reconciler{Cache: cache, Store: s, TTL: ttl, now: time.Now}
}

// StatusFromRaw maps a vendor status code to a stored lock status: a leading
// '1' means open, anything else locked.
func StatusFromRaw(raw string) string {
    if len(raw) > 0 && raw[0] == '1' {
        return model.LockStatusOpen
    }
    return model.LockStatusLocked
}

func transitionKind(status string) string {
    if status == model.LockStatusOpen {
        return model.TransitionUnlock
    }
    return model.TransitionLock
}

// Apply processes one observation. The cache entry is refreshed in every
// branch; the audit entry is written only when a cached prior value differs.
// A cold key updates durable state without an audit entry.
func (r *Reconciler) Apply(ctx context.Context, key model.DeviceKey, raw string) (Outcome, error) {
    cached, ok, err := r.Cache.Get(ctx, key.String())
    if err != nil { return "", err }

    outcome := OutcomeNoop
    status := StatusFromRaw(raw)
    ts := r.now().UTC()

    switch {
    case ok && cached != raw:
        if err := r.Store.UpsertDeviceState(ctx, key, status, ts); err != nil { return "", err }
        kind := transitionKind(status)
        if err := r.Store.AppendAuditEntry(ctx, model.AuditLogEntry{TerminalID: key.TerminalID, BoxID: key.BoxID, Kind: kind, TS: ts}); err != nil {
            return "", err
        }
        metrics.DeviceTransitions.WithLabelValues(kind).Inc()
        if r.OnTransition != nil {
            r.OnTransition(model.DeviceState{Key: key, LockStatus: status, LastUpdated: ts}, kind)
        }
        outcome = OutcomeTransition
    case !ok:
        if err := r.Store.UpsertDeviceState(ctx, key, status, ts); err != nil { return "", err }
        outcome = OutcomeCold
    }

    if err := r.Cache.Set(ctx, key.String(), raw, r.TTL); err != nil { return "", err }
    return outcome, nil
}
