package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "lockgrid/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle; used by sqlmock tests.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir executes the .sql files of dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        data, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(data)); err != nil { return err }
    }
    return nil
}

// Device state

func (p *Postgres) GetDeviceState(ctx context.Context, key model.DeviceKey) (model.DeviceState, error) {
    st := model.DeviceState{Key: key}
    row := p.db.QueryRowContext(ctx, `SELECT lock_status, last_updated FROM device_states WHERE terminal_id=$1 AND box_id=$2`, key.TerminalID, key.BoxID)
    if err := row.Scan(&st.LockStatus, &st.LastUpdated); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return st, ErrNotFound }
        return st, err
    }
    return st, nil
}

func (p *Postgres) UpsertDeviceState(ctx context.Context, key model.DeviceKey, lockStatus string, ts time.Time) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO device_states (terminal_id, box_id, lock_status, last_updated) VALUES ($1,$2,$3,$4)
        ON CONFLICT (terminal_id, box_id) DO UPDATE SET lock_status=EXCLUDED.lock_status, last_updated=EXCLUDED.last_updated`,
        key.TerminalID, key.BoxID, lockStatus, ts)
    return err
}

func (p *Postgres) AppendAuditEntry(ctx context.Context, entry model.AuditLogEntry) error {
    id := entry.ID
    if id == "" { id = uuid.New().String() }
    _, err := p.db.ExecContext(ctx, `INSERT INTO audit_log (id, terminal_id, box_id, kind, ts) VALUES ($1,$2,$3,$4,$5)`,
        id, entry.TerminalID, entry.BoxID, entry.Kind, entry.TS)
    return err
}

// ListAuditEntries pages in insertion order via the bigserial seq column;
// the opaque cursor is the last returned seq. One extra row is fetched so
// nextCursor is set only when more entries actually exist.
func (p *Postgres) ListAuditEntries(ctx context.Context, key model.DeviceKey, cursor string, limit int) ([]model.AuditLogEntry, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    after := int64(0)
    if cursor != "" {
        v, err := strconv.ParseInt(cursor, 10, 64)
        if err != nil { return nil, "", fmt.Errorf("bad cursor %q: %w", cursor, err) }
        after = v
    }
    rows, err := p.db.QueryContext(ctx, `SELECT seq, id::text, kind, ts FROM audit_log WHERE terminal_id=$1 AND box_id=$2 AND seq > $3 ORDER BY seq LIMIT $4`,
        key.TerminalID, key.BoxID, after, limit+1)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.AuditLogEntry{}
    seqs := []int64{}
    for rows.Next() {
        var seq int64
        e := model.AuditLogEntry{TerminalID: key.TerminalID, BoxID: key.BoxID}
        if err := rows.Scan(&seq, &e.ID, &e.Kind, &e.TS); err != nil { return nil, "", err }
        out = append(out, e)
        seqs = append(seqs, seq)
    }
    next := ""
    if len(out) > limit {
        out = out[:limit]
        next = strconv.FormatInt(seqs[limit-1], 10)
    }
    return out, next, nil
}

// Business events

func (p *Postgres) CreateEvent(ctx context.Context, ev model.Event) (model.Event, error) {
    if ev.ID == "" { ev.ID = uuid.New().String() }
    _, err := p.db.ExecContext(ctx, `INSERT INTO events (id, org_id, status, terminal_id, box_id, member_id, attrs) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
        ev.ID, nullIfEmpty(ev.OrgID), ev.Status, nullIfEmpty(ev.TerminalID), nullIfEmpty(ev.BoxID), nullIfEmpty(ev.MemberID), toJSON(ev.Attributes))
    if err != nil { return model.Event{}, err }
    return p.GetEvent(ctx, ev.ID)
}

func (p *Postgres) GetEvent(ctx context.Context, id string) (model.Event, error) {
    var ev model.Event
    var org, term, box, member sql.NullString
    var attrs []byte
    row := p.db.QueryRowContext(ctx, `SELECT id::text, org_id::text, status, terminal_id, box_id, member_id::text, attrs, created_at, updated_at FROM events WHERE id=$1`, id)
    if err := row.Scan(&ev.ID, &org, &ev.Status, &term, &box, &member, &attrs, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return ev, ErrNotFound }
        return ev, err
    }
    ev.OrgID = org.String
    ev.TerminalID = term.String
    ev.BoxID = box.String
    ev.MemberID = member.String
    if len(attrs) > 0 { _ = json.Unmarshal(attrs, &ev.Attributes) }
    return ev, nil
}

func (p *Postgres) UpdateEventStatus(ctx context.Context, id, status string) (model.Event, error) {
    res, err := p.db.ExecContext(ctx, `UPDATE events SET status=$1, updated_at=now() WHERE id=$2`, status, id)
    if err != nil { return model.Event{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.Event{}, ErrNotFound }
    return p.GetEvent(ctx, id)
}

// Webhook registrations

func (p *Postgres) CreateWebhookRegistration(ctx context.Context, orgID, url, secret string) (model.WebhookRegistration, error) {
    res, err := p.db.ExecContext(ctx, `INSERT INTO webhook_registrations (org_id, url, secret, status) VALUES ($1,$2,$3,'ok')
        ON CONFLICT (org_id) DO NOTHING`, orgID, url, secret)
    if err != nil { return model.WebhookRegistration{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.WebhookRegistration{}, ErrExists }
    return p.GetWebhookRegistration(ctx, orgID)
}

func (p *Postgres) GetWebhookRegistration(ctx context.Context, orgID string) (model.WebhookRegistration, error) {
    reg := model.WebhookRegistration{OrgID: orgID}
    row := p.db.QueryRowContext(ctx, `SELECT url, secret, status, created_at FROM webhook_registrations WHERE org_id=$1`, orgID)
    if err := row.Scan(&reg.URL, &reg.Secret, &reg.Status, &reg.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return reg, ErrNotFound }
        return reg, err
    }
    return reg, nil
}

func (p *Postgres) UpdateWebhookStatus(ctx context.Context, orgID, status string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_registrations SET status=$1 WHERE org_id=$2`, status, orgID)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) DeleteWebhookRegistration(ctx context.Context, orgID string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_registrations WHERE org_id=$1`, orgID)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Queued webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, orgID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, org_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`, id, nullIfEmpty(orgID), eventType, url, nullIfEmpty(secret), payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]model.WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(org_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.WebhookDelivery{}
    for rows.Next() {
        var d model.WebhookDelivery
        if err := rows.Scan(&d.ID, &d.OrgID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`,
            nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

// Rate limiting

// AdmitRequest runs the admission algorithm inside a transaction holding the
// counter's row lock, so concurrent requests from one address serialize.
func (p *Postgres) AdmitRequest(ctx context.Context, address string, limit int, interval time.Duration, now time.Time) (Decision, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return Decision{}, err }
    defer func() { _ = tx.Rollback() }()

    var requests, exceed int
    var windowStart time.Time
    err = tx.QueryRowContext(ctx, `SELECT requests, window_start, exceed_count FROM rate_counters WHERE address=$1 FOR UPDATE`, address).
        Scan(&requests, &windowStart, &exceed)
    if errors.Is(err, sql.ErrNoRows) {
        // FOR UPDATE locks nothing when the row does not exist, so
        // concurrent cold requests race to this insert. The conflict
        // branch increments and returns the live row (holding its lock),
        // and the limit check runs on that returned state.
        err = tx.QueryRowContext(ctx, `INSERT INTO rate_counters (address, requests, window_start, exceed_count) VALUES ($1,1,$2,0)
            ON CONFLICT (address) DO UPDATE SET requests=rate_counters.requests+1
            RETURNING requests, window_start, exceed_count`, address, now).
            Scan(&requests, &windowStart, &exceed)
        if err != nil { return Decision{}, err }
        d := Decision{}
        switch {
        case now.Sub(windowStart) >= interval:
            _, err = tx.ExecContext(ctx, `UPDATE rate_counters SET requests=1, window_start=$2, exceed_count=0 WHERE address=$1`, address, now)
            d.Admitted = true
        case requests > limit:
            // requests already counts this attempt.
            exceed++
            _, err = tx.ExecContext(ctx, `UPDATE rate_counters SET exceed_count=$2 WHERE address=$1`, address, exceed)
            d.ExceedCount = exceed
            d.Backoff = (1 << exceed) * time.Second
        default:
            d.Admitted = true
        }
        if err != nil { return Decision{}, err }
        if err := tx.Commit(); err != nil { return Decision{}, err }
        return d, nil
    }
    if err != nil { return Decision{}, err }

    d := Decision{}
    switch {
    case now.Sub(windowStart) >= interval:
        _, err = tx.ExecContext(ctx, `UPDATE rate_counters SET requests=1, window_start=$2, exceed_count=0 WHERE address=$1`, address, now)
        d.Admitted = true
    case requests >= limit:
        exceed++
        _, err = tx.ExecContext(ctx, `UPDATE rate_counters SET exceed_count=$2 WHERE address=$1`, address, exceed)
        d.ExceedCount = exceed
        d.Backoff = (1 << exceed) * time.Second
    default:
        _, err = tx.ExecContext(ctx, `UPDATE rate_counters SET requests=requests+1 WHERE address=$1`, address)
        d.Admitted = true
    }
    if err != nil { return Decision{}, err }
    if err := tx.Commit(); err != nil { return Decision{}, err }
    return d, nil
}

func (p *Postgres) PruneRateCounters(ctx context.Context, olderThan time.Time) (int, error) {
    res, err := p.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE window_start < $1`, olderThan)
    if err != nil { return 0, err }
    n, _ := res.RowsAffected()
    return int(n), nil
}

// Scheduled jobs

func (p *Postgres) CreateScheduledJob(ctx context.Context, job model.ScheduledJob) (model.ScheduledJob, error) {
    if job.ID == "" { job.ID = uuid.New().String() }
    rec, _ := json.Marshal(job.Recipient)
    _, err := p.db.ExecContext(ctx, `INSERT INTO scheduled_jobs (id, org_id, recipient, run_at, payload, status) VALUES ($1,$2,$3,$4,$5,'pending')`,
        job.ID, nullIfEmpty(job.OrgID), rec, job.RunAt, job.Payload)
    if err != nil { return model.ScheduledJob{}, err }
    return p.GetScheduledJob(ctx, job.ID)
}

func (p *Postgres) GetScheduledJob(ctx context.Context, id string) (model.ScheduledJob, error) {
    var j model.ScheduledJob
    var org sql.NullString
    var rec []byte
    row := p.db.QueryRowContext(ctx, `SELECT id::text, org_id::text, recipient, run_at, payload, status, created_at FROM scheduled_jobs WHERE id=$1`, id)
    if err := row.Scan(&j.ID, &org, &rec, &j.RunAt, &j.Payload, &j.Status, &j.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return j, ErrNotFound }
        return j, err
    }
    j.OrgID = org.String
    _ = json.Unmarshal(rec, &j.Recipient)
    return j, nil
}

func (p *Postgres) CancelScheduledJob(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE scheduled_jobs SET status='cancelled' WHERE id=$1 AND status='pending'`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) FetchDueJobs(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(org_id::text,''), recipient, run_at, payload, status, created_at
        FROM scheduled_jobs WHERE status='pending' AND run_at <= $1 ORDER BY run_at ASC LIMIT $2`, now, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.ScheduledJob{}
    for rows.Next() {
        var j model.ScheduledJob
        var rec []byte
        if err := rows.Scan(&j.ID, &j.OrgID, &rec, &j.RunAt, &j.Payload, &j.Status, &j.CreatedAt); err != nil { return nil, err }
        _ = json.Unmarshal(rec, &j.Recipient)
        out = append(out, j)
    }
    return out, nil
}

func (p *Postgres) MarkJobDone(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE scheduled_jobs SET status='done' WHERE id=$1`, id)
    return err
}

// Helpers
func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
func toJSON(m map[string]any) any {
    if m == nil { return nil }
    b, _ := json.Marshal(m)
    return b
}
