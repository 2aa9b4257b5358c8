package model

import "time"

// Lock status values stored for a device compartment.
const (
    LockStatusLocked = "locked"
    LockStatusOpen   = "open"
)

// Transition kinds recorded in the audit log.
const (
    TransitionLock   = "lock"
    TransitionUnlock = "unlock"
)

// Webhook registration delivery statuses.
const (
    WebhookStatusOK       = "ok"
    WebhookStatusError    = "error"
    WebhookStatusInactive = "inactive"
)

// DeviceKey identifies a single compartment: the vendor terminal code plus
// the box number within that terminal.
type DeviceKey struct {
    TerminalID string `json:"terminalId"`
    BoxID      string `json:"boxId"`
}

func (k DeviceKey) String() string { return k.TerminalID + ":" + k.BoxID }

type DeviceState struct {
    Key         DeviceKey `json:"key"`
    LockStatus  string    `json:"lockStatus"`
    LastUpdated time.Time `json:"lastUpdated"`
}

// AuditLogEntry records one observed lock/unlock transition. Immutable.
type AuditLogEntry struct {
    ID         string    `json:"id"`
    TerminalID string    `json:"terminalId"`
    BoxID      string    `json:"boxId"`
    Kind       string    `json:"kind"` // lock, unlock
    TS         time.Time `json:"ts"`
}

// WebhookRegistration is an organization's outbound callback endpoint.
// At most one per organization; the secret never changes after creation.
type WebhookRegistration struct {
    OrgID     string    `json:"orgId"`
    URL       string    `json:"url"`
    Secret    string    `json:"secret,omitempty"`
    Status    string    `json:"status"` // ok, error, inactive
    CreatedAt time.Time `json:"createdAt"`
}

// Event is the business transaction record (rental/delivery/storage),
// distinct from a device state-change event.
type Event struct {
    ID         string         `json:"id"`
    OrgID      string         `json:"orgId,omitempty"`
    Status     string         `json:"status"`
    TerminalID string         `json:"terminalId,omitempty"`
    BoxID      string         `json:"boxId,omitempty"`
    MemberID   string         `json:"memberId,omitempty"`
    Attributes map[string]any `json:"attributes,omitempty"`
    CreatedAt  time.Time      `json:"createdAt"`
    UpdatedAt  time.Time      `json:"updatedAt"`
}

// EventChange is the payload delivered to a registered webhook. EventObj is
// filled best-effort before signing; nulls are omitted on the wire.
type EventChange struct {
    IDEvent     string `json:"id_event"`
    IDOrg       string `json:"id_org,omitempty"`
    EventStatus string `json:"event_status"`
    EventObj    *Event `json:"event_obj,omitempty"`
}

// RateLimitCounter is the durable sliding-window state per client address.
type RateLimitCounter struct {
    Address     string    `json:"address"`
    Requests    int       `json:"requests"`
    WindowStart time.Time `json:"windowStart"`
    ExceedCount int       `json:"exceedCount"`
}

// RecipientKind enumerates who a scheduled notification targets. Closed set;
// switches over it must be exhaustive.
type RecipientKind string

const (
    RecipientMember       RecipientKind = "member"
    RecipientOrganization RecipientKind = "organization"
    RecipientDevice       RecipientKind = "device"
)

// Recipient is a tagged union: Kind selects which ID fields are meaningful.
type Recipient struct {
    Kind       RecipientKind `json:"kind"`
    MemberID   string        `json:"memberId,omitempty"`
    OrgID      string        `json:"orgId,omitempty"`
    TerminalID string        `json:"terminalId,omitempty"`
    BoxID      string        `json:"boxId,omitempty"`
}

// TimeUnit for scheduling delays.
type TimeUnit string

const (
    UnitSeconds TimeUnit = "seconds"
    UnitMinutes TimeUnit = "minutes"
    UnitHours   TimeUnit = "hours"
    UnitDays    TimeUnit = "days"
)

// Duration converts n units to a time.Duration. Unknown units yield 0 so a
// malformed job fires immediately instead of never.
func (u TimeUnit) Duration(n int) time.Duration {
    switch u {
    case UnitSeconds:
        return time.Duration(n) * time.Second
    case UnitMinutes:
        return time.Duration(n) * time.Minute
    case UnitHours:
        return time.Duration(n) * time.Hour
    case UnitDays:
        return time.Duration(n) * 24 * time.Hour
    }
    return 0
}

// ScheduledJob is a persisted timed notification.
type ScheduledJob struct {
    ID        string    `json:"id"`
    OrgID     string    `json:"orgId,omitempty"`
    Recipient Recipient `json:"recipient"`
    RunAt     time.Time `json:"runAt"`
    Payload   []byte    `json:"payload,omitempty"`
    Status    string    `json:"status"` // pending, done, cancelled
    CreatedAt time.Time `json:"createdAt"`
}

// ScheduleRequest is the API input for creating a job.
type ScheduleRequest struct {
    OrgID     string         `json:"orgId,omitempty"`
    Recipient Recipient      `json:"recipient"`
    Delay     int            `json:"delay"`
    Unit      TimeUnit       `json:"unit"`
    Payload   map[string]any `json:"payload,omitempty"`
}

// WebhookDelivery is one queued outbound delivery record.
type WebhookDelivery struct {
    ID        string
    OrgID     string
    EventType string
    URL       string
    Secret    string
    Payload   []byte
    Status    string // pending, retry, delivered, failed
    Attempts  int
}
