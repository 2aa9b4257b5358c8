package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "lockgrid/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu         sync.Mutex
    devices    map[model.DeviceKey]model.DeviceState
    audit      []model.AuditLogEntry
    events     map[string]model.Event
    regs       map[string]model.WebhookRegistration // orgID -> registration
    deliveries map[string]*memDelivery
    counters   map[string]*model.RateLimitCounter
    jobs       map[string]model.ScheduledJob
}

func NewMemory() *Memory {
    return &Memory{
        devices:    map[model.DeviceKey]model.DeviceState{},
        events:     map[string]model.Event{},
        regs:       map[string]model.WebhookRegistration{},
        deliveries: map[string]*memDelivery{},
        counters:   map[string]*model.RateLimitCounter{},
        jobs:       map[string]model.ScheduledJob{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    model.WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) GetDeviceState(ctx context.Context, key model.DeviceKey) (model.DeviceState, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    st, ok := m.devices[key]
    if !ok { return model.DeviceState{}, ErrNotFound }
    return st, nil
}

func (m *Memory) UpsertDeviceState(ctx context.Context, key model.DeviceKey, lockStatus string, ts time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.devices[key] = model.DeviceState{Key: key, LockStatus: lockStatus, LastUpdated: ts}
    return nil
}

func (m *Memory) AppendAuditEntry(ctx context.Context, entry model.AuditLogEntry) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if entry.ID == "" { entry.ID = uuid.New().String() }
    m.audit = append(m.audit, entry)
    return nil
}

func (m *Memory) ListAuditEntries(ctx context.Context, key model.DeviceKey, cursor string, limit int) ([]model.AuditLogEntry, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    out := []model.AuditLogEntry{}
    started := cursor == ""
    var next string
    for _, e := range m.audit {
        if e.TerminalID != key.TerminalID || e.BoxID != key.BoxID { continue }
        if !started {
            if e.ID == cursor { started = true }
            continue
        }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, e)
    }
    return out, next, nil
}

func (m *Memory) CreateEvent(ctx context.Context, ev model.Event) (model.Event, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if ev.ID == "" { ev.ID = uuid.New().String() }
    now := time.Now().UTC()
    ev.CreatedAt = now
    ev.UpdatedAt = now
    m.events[ev.ID] = ev
    return ev, nil
}

func (m *Memory) GetEvent(ctx context.Context, id string) (model.Event, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ev, ok := m.events[id]
    if !ok { return model.Event{}, ErrNotFound }
    return ev, nil
}

func (m *Memory) UpdateEventStatus(ctx context.Context, id, status string) (model.Event, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ev, ok := m.events[id]
    if !ok { return model.Event{}, ErrNotFound }
    ev.Status = status
    ev.UpdatedAt = time.Now().UTC()
    m.events[id] = ev
    return ev, nil
}

func (m *Memory) CreateWebhookRegistration(ctx context.Context, orgID, url, secret string) (model.WebhookRegistration, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.regs[orgID]; ok { return model.WebhookRegistration{}, ErrExists }
    reg := model.WebhookRegistration{OrgID: orgID, URL: url, Secret: secret, Status: model.WebhookStatusOK, CreatedAt: time.Now().UTC()}
    m.regs[orgID] = reg
    return reg, nil
}

func (m *Memory) GetWebhookRegistration(ctx context.Context, orgID string) (model.WebhookRegistration, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    reg, ok := m.regs[orgID]
    if !ok { return model.WebhookRegistration{}, ErrNotFound }
    return reg, nil
}

func (m *Memory) UpdateWebhookStatus(ctx context.Context, orgID, status string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    reg, ok := m.regs[orgID]
    if !ok { return ErrNotFound }
    reg.Status = status
    m.regs[orgID] = reg
    return nil
}

func (m *Memory) DeleteWebhookRegistration(ctx context.Context, orgID string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.regs[orgID]; !ok { return ErrNotFound }
    delete(m.regs, orgID)
    return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, orgID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    m.deliveries[id] = &memDelivery{
        WebhookDelivery: model.WebhookDelivery{ID: id, OrgID: orgID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"},
        NextAttemptAt:   time.Now(),
    }
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]model.WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []model.WebhookDelivery{}
    for _, d := range m.deliveries {
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if len(out) == limit { break }
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
        return nil
    }
    d.Status = "retry"
    d.Attempts++
    d.LastError = lastError
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(time.Minute) }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func (m *Memory) AdmitRequest(ctx context.Context, address string, limit int, interval time.Duration, now time.Time) (Decision, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.counters[address]
    if !ok {
        m.counters[address] = &model.RateLimitCounter{Address: address, Requests: 1, WindowStart: now}
        return Decision{Admitted: true}, nil
    }
    if now.Sub(c.WindowStart) >= interval {
        c.Requests = 1
        c.WindowStart = now
        c.ExceedCount = 0
        return Decision{Admitted: true}, nil
    }
    if c.Requests >= limit {
        c.ExceedCount++
        return Decision{Admitted: false, ExceedCount: c.ExceedCount, Backoff: (1 << c.ExceedCount) * time.Second}, nil
    }
    c.Requests++
    return Decision{Admitted: true}, nil
}

func (m *Memory) PruneRateCounters(ctx context.Context, olderThan time.Time) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    n := 0
    for addr, c := range m.counters {
        if c.WindowStart.Before(olderThan) { delete(m.counters, addr); n++ }
    }
    return n, nil
}

func (m *Memory) CreateScheduledJob(ctx context.Context, job model.ScheduledJob) (model.ScheduledJob, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if job.ID == "" { job.ID = uuid.New().String() }
    job.Status = "pending"
    job.CreatedAt = time.Now().UTC()
    m.jobs[job.ID] = job
    return job, nil
}

func (m *Memory) GetScheduledJob(ctx context.Context, id string) (model.ScheduledJob, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[id]
    if !ok { return model.ScheduledJob{}, ErrNotFound }
    return j, nil
}

func (m *Memory) CancelScheduledJob(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[id]
    if !ok || j.Status != "pending" { return ErrNotFound }
    j.Status = "cancelled"
    m.jobs[id] = j
    return nil
}

func (m *Memory) FetchDueJobs(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.ScheduledJob{}
    for _, j := range m.jobs {
        if j.Status == "pending" && !j.RunAt.After(now) {
            out = append(out, j)
            if len(out) == limit { break }
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
    return out, nil
}

func (m *Memory) MarkJobDone(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[id]
    if !ok { return ErrNotFound }
    j.Status = "done"
    m.jobs[id] = j
    return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
