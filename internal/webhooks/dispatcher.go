package webhooks

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "log"
    "net/http"
    "time"

    "lockgrid/internal/metrics"
    "lockgrid/internal/model"
    "lockgrid/internal/store"
)

// Dispatcher performs single-attempt webhook notifications to the callback
// URL registered for an organization. Callers needing guaranteed delivery go
// through the queued worker instead.
type Dispatcher struct {
    Store store.Store
    HTTP  *http.Client
}

func NewDispatcher(s store.Store, timeout time.Duration) *Dispatcher {
    if timeout <= 0 { timeout = 5 * time.Second }
    return &Dispatcher{Store: s, HTTP: &http.Client{Timeout: timeout}}
}

// Notify delivers change to orgID's registered webhook. The return value
// means "the HTTP round trip completed", regardless of the response code;
// the response code only drives the registration's recorded status:
// 200 -> ok, 404/500 -> error, anything else -> inactive. A transport
// failure returns false and leaves the stored status untouched.
func (d *Dispatcher) Notify(ctx context.Context, orgID string, change model.EventChange) bool {
    if orgID == "" {
        return false
    }
    reg, err := d.Store.GetWebhookRegistration(ctx, orgID)
    if err != nil {
        // No registration is the common "feature not enabled" case.
        if !errors.Is(err, store.ErrNotFound) {
            log.Printf("webhooks: registration lookup for %s failed: %v", orgID, err)
        }
        return false
    }

    // Best-effort enrichment with the full event; must happen before
    // signing since the signature covers the final body.
    if change.EventObj == nil && change.IDEvent != "" {
        if ev, err := d.Store.GetEvent(ctx, change.IDEvent); err == nil {
            change.EventObj = &ev
        }
    }

    body, err := json.Marshal(change)
    if err != nil {
        log.Printf("webhooks: marshal payload for %s failed: %v", orgID, err)
        return false
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.URL, bytes.NewReader(body))
    if err != nil {
        return false
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Signature", Sign(reg.Secret, body))

    start := time.Now()
    resp, err := d.HTTP.Do(req)
    if err != nil {
        // Connect/timeout: report failure, keep the last recorded status.
        metrics.WebhookDeliveries.WithLabelValues(change.EventStatus, "transport_error").Inc()
        return false
    }
    if resp.Body != nil { _ = resp.Body.Close() }

    status := classify(resp.StatusCode)
    if err := d.Store.UpdateWebhookStatus(ctx, orgID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
        log.Printf("webhooks: status update for %s failed: %v", orgID, err)
    }
    metrics.WebhookDeliveries.WithLabelValues(change.EventStatus, status).Inc()
    metrics.WebhookLatency.WithLabelValues(change.EventStatus, status).Observe(float64(time.Since(start).Milliseconds()))
    return true
}

func classify(code int) string {
    switch code {
    case http.StatusOK:
        return model.WebhookStatusOK
    case http.StatusNotFound, http.StatusInternalServerError:
        return model.WebhookStatusError
    default:
        return model.WebhookStatusInactive
    }
}
