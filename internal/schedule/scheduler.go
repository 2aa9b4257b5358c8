// Package schedule runs the persistent timed-notification job queue. Jobs
// are durable rows claimed by a polling worker; the scheduler is an injected
// dependency, never process-global state.
package schedule

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "time"

    "lockgrid/internal/model"
    "lockgrid/internal/store"
)

// Scheduler persists jobs and fans due ones out through the queued webhook
// delivery path, which provides retry/backoff.
type Scheduler struct {
    Store store.Store
    Stop  chan struct{}

    now func() time.Time
}

func New(s store.Store) *Scheduler {
    return &Scheduler{Store: s, Stop: make(chan struct{}), now: time.Now}
}

// Schedule validates and persists a job due after req.Delay req.Unit.
func (sc *Scheduler) Schedule(ctx context.Context, req model.ScheduleRequest) (model.ScheduledJob, error) {
    switch req.Recipient.Kind {
    case model.RecipientMember:
        if req.Recipient.MemberID == "" { return model.ScheduledJob{}, errors.New("memberId required for member recipient") }
    case model.RecipientOrganization:
        if req.Recipient.OrgID == "" { return model.ScheduledJob{}, errors.New("orgId required for organization recipient") }
    case model.RecipientDevice:
        if req.Recipient.TerminalID == "" || req.Recipient.BoxID == "" {
            return model.ScheduledJob{}, errors.New("terminalId and boxId required for device recipient")
        }
    default:
        return model.ScheduledJob{}, fmt.Errorf("unknown recipient kind: %q", req.Recipient.Kind)
    }
    switch req.Unit {
    case model.UnitSeconds, model.UnitMinutes, model.UnitHours, model.UnitDays:
    default:
        return model.ScheduledJob{}, fmt.Errorf("unknown time unit: %q", req.Unit)
    }
    if req.Delay < 0 {
        return model.ScheduledJob{}, errors.New("delay must be >= 0")
    }
    var payload []byte
    if req.Payload != nil { payload, _ = json.Marshal(req.Payload) }
    job := model.ScheduledJob{
        OrgID:     req.OrgID,
        Recipient: req.Recipient,
        RunAt:     sc.now().UTC().Add(req.Unit.Duration(req.Delay)),
        Payload:   payload,
    }
    return sc.Store.CreateScheduledJob(ctx, job)
}

func (sc *Scheduler) Cancel(ctx context.Context, id string) error {
    return sc.Store.CancelScheduledJob(ctx, id)
}

// Start launches the polling worker.
func (sc *Scheduler) Start() {
    go func() {
        ticker := time.NewTicker(1 * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-sc.Stop:
                return
            case <-ticker.C:
                sc.processOnce()
            }
        }
    }()
}

func (sc *Scheduler) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    jobs, err := sc.Store.FetchDueJobs(ctx, sc.now(), 50)
    if err != nil || len(jobs) == 0 { return }
    for _, j := range jobs {
        if err := sc.fire(ctx, j); err != nil {
            log.Printf("schedule: job %s failed: %v", j.ID, err)
        }
        // One shot either way: the delivery queue owns retries from here.
        _ = sc.Store.MarkJobDone(ctx, j.ID)
    }
}

// fire enqueues the notification for the organization's webhook. The
// recipient union decides the event type and the context fields attached to
// the payload.
func (sc *Scheduler) fire(ctx context.Context, j model.ScheduledJob) error {
    if j.OrgID == "" {
        return errors.New("job has no organization")
    }
    reg, err := sc.Store.GetWebhookRegistration(ctx, j.OrgID)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            // Webhooks not enabled for this org; the job is simply consumed.
            return nil
        }
        return err
    }

    body := map[string]any{}
    if len(j.Payload) > 0 { _ = json.Unmarshal(j.Payload, &body) }
    var eventType string
    switch j.Recipient.Kind {
    case model.RecipientMember:
        eventType = "notify.member"
        body["memberId"] = j.Recipient.MemberID
    case model.RecipientOrganization:
        eventType = "notify.organization"
        body["orgId"] = j.Recipient.OrgID
    case model.RecipientDevice:
        eventType = "notify.device"
        body["terminalId"] = j.Recipient.TerminalID
        body["boxId"] = j.Recipient.BoxID
    default:
        return fmt.Errorf("unknown recipient kind: %q", j.Recipient.Kind)
    }
    body["jobId"] = j.ID
    payload, err := json.Marshal(body)
    if err != nil { return err }
    _, err = sc.Store.EnqueueWebhook(ctx, j.OrgID, eventType, reg.URL, reg.Secret, payload)
    return err
}
