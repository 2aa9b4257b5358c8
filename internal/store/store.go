package store

import (
    "context"
    "errors"
    "time"

    "lockgrid/internal/model"
)

// Store is the persistence interface used by the API server and the
// background workers.
type Store interface {
    // Device state
    GetDeviceState(ctx context.Context, key model.DeviceKey) (model.DeviceState, error)
    UpsertDeviceState(ctx context.Context, key model.DeviceKey, lockStatus string, ts time.Time) error
    AppendAuditEntry(ctx context.Context, entry model.AuditLogEntry) error
    ListAuditEntries(ctx context.Context, key model.DeviceKey, cursor string, limit int) ([]model.AuditLogEntry, string, error)

    // Business events (collaborator read API + status transition)
    CreateEvent(ctx context.Context, ev model.Event) (model.Event, error)
    GetEvent(ctx context.Context, id string) (model.Event, error)
    UpdateEventStatus(ctx context.Context, id, status string) (model.Event, error)

    // Webhook registrations (one per organization)
    CreateWebhookRegistration(ctx context.Context, orgID, url, secret string) (model.WebhookRegistration, error)
    GetWebhookRegistration(ctx context.Context, orgID string) (model.WebhookRegistration, error)
    UpdateWebhookStatus(ctx context.Context, orgID, status string) error
    DeleteWebhookRegistration(ctx context.Context, orgID string) error

    // Queued webhook deliveries
    EnqueueWebhook(ctx context.Context, orgID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]model.WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

    // Rate limiting. AdmitRequest runs the whole read-modify-write under a
    // per-address row lock; see Decision for the outcome.
    AdmitRequest(ctx context.Context, address string, limit int, interval time.Duration, now time.Time) (Decision, error)
    PruneRateCounters(ctx context.Context, olderThan time.Time) (int, error)

    // Scheduled notification jobs
    CreateScheduledJob(ctx context.Context, job model.ScheduledJob) (model.ScheduledJob, error)
    GetScheduledJob(ctx context.Context, id string) (model.ScheduledJob, error)
    CancelScheduledJob(ctx context.Context, id string) error
    FetchDueJobs(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error)
    MarkJobDone(ctx context.Context, id string) error

    Ping(ctx context.Context) error
}

// Decision is the rate limiter verdict for one request.
type Decision struct {
    Admitted    bool
    ExceedCount int
    // Backoff is the client retry hint, 2^ExceedCount seconds when rejected.
    Backoff time.Duration
}

var (
    ErrNotFound = errors.New("not found")
    ErrExists   = errors.New("already exists")
)
