package store

import (
    "context"
    "os"
    "path/filepath"
    "regexp"
    "testing"
    "time"

    sqlmock "github.com/DATA-DOG/go-sqlmock"

    "lockgrid/internal/model"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
    t.Helper()
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock: %v", err)
    }
    t.Cleanup(func() { db.Close() })
    return NewPostgresFromDB(db), mock
}

func TestAdmitRequestLocksRowAndIncrements(t *testing.T) {
    p, mock := newMock(t)
    now := time.Now()

    mock.ExpectBegin()
    mock.ExpectQuery(regexp.QuoteMeta(`SELECT requests, window_start, exceed_count FROM rate_counters WHERE address=$1 FOR UPDATE`)).
        WithArgs("10.0.0.1").
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}).AddRow(2, now.Add(-10*time.Second), 0))
    mock.ExpectExec(regexp.QuoteMeta(`UPDATE rate_counters SET requests=requests+1 WHERE address=$1`)).
        WithArgs("10.0.0.1").
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    d, err := p.AdmitRequest(context.Background(), "10.0.0.1", 60, time.Minute, now)
    if err != nil {
        t.Fatalf("AdmitRequest: %v", err)
    }
    if !d.Admitted {
        t.Fatalf("decision: %+v", d)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestAdmitRequestRejectsOverLimit(t *testing.T) {
    p, mock := newMock(t)
    now := time.Now()

    mock.ExpectBegin()
    mock.ExpectQuery(regexp.QuoteMeta(`SELECT requests, window_start, exceed_count FROM rate_counters WHERE address=$1 FOR UPDATE`)).
        WithArgs("10.0.0.1").
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}).AddRow(60, now.Add(-10*time.Second), 0))
    mock.ExpectExec(regexp.QuoteMeta(`UPDATE rate_counters SET exceed_count=$2 WHERE address=$1`)).
        WithArgs("10.0.0.1", 1).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    d, err := p.AdmitRequest(context.Background(), "10.0.0.1", 60, time.Minute, now)
    if err != nil {
        t.Fatalf("AdmitRequest: %v", err)
    }
    if d.Admitted {
        t.Fatal("over-limit request admitted")
    }
    if d.ExceedCount != 1 || d.Backoff != 2*time.Second {
        t.Fatalf("decision: %+v", d)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestAdmitRequestResetsExpiredWindow(t *testing.T) {
    p, mock := newMock(t)
    now := time.Now()

    mock.ExpectBegin()
    mock.ExpectQuery(regexp.QuoteMeta(`SELECT requests, window_start, exceed_count FROM rate_counters WHERE address=$1 FOR UPDATE`)).
        WithArgs("10.0.0.1").
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}).AddRow(60, now.Add(-2*time.Minute), 4))
    mock.ExpectExec(regexp.QuoteMeta(`UPDATE rate_counters SET requests=1, window_start=$2, exceed_count=0 WHERE address=$1`)).
        WithArgs("10.0.0.1", now).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    d, err := p.AdmitRequest(context.Background(), "10.0.0.1", 60, time.Minute, now)
    if err != nil {
        t.Fatalf("AdmitRequest: %v", err)
    }
    if !d.Admitted || d.ExceedCount != 0 {
        t.Fatalf("decision: %+v", d)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestAdmitRequestInsertsNewCounter(t *testing.T) {
    p, mock := newMock(t)
    now := time.Now()

    mock.ExpectBegin()
    mock.ExpectQuery(regexp.QuoteMeta(`SELECT requests, window_start, exceed_count FROM rate_counters WHERE address=$1 FOR UPDATE`)).
        WithArgs("10.0.0.1").
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}))
    mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rate_counters (address, requests, window_start, exceed_count) VALUES ($1,1,$2,0)`)).
        WithArgs("10.0.0.1", now).
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}).AddRow(1, now, 0))
    mock.ExpectCommit()

    d, err := p.AdmitRequest(context.Background(), "10.0.0.1", 60, time.Minute, now)
    if err != nil {
        t.Fatalf("AdmitRequest: %v", err)
    }
    if !d.Admitted {
        t.Fatalf("decision: %+v", d)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestAdmitRequestColdRaceHonorsLimit(t *testing.T) {
    p, mock := newMock(t)
    now := time.Now()

    // A losing cold racer: the row did not exist at SELECT time, but the
    // insert conflicts with a concurrent winner and returns the row at
    // requests=2, already past limit=1.
    mock.ExpectBegin()
    mock.ExpectQuery(regexp.QuoteMeta(`SELECT requests, window_start, exceed_count FROM rate_counters WHERE address=$1 FOR UPDATE`)).
        WithArgs("10.0.0.1").
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}))
    mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rate_counters (address, requests, window_start, exceed_count) VALUES ($1,1,$2,0)`)).
        WithArgs("10.0.0.1", now).
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}).AddRow(2, now.Add(-time.Second), 0))
    mock.ExpectExec(regexp.QuoteMeta(`UPDATE rate_counters SET exceed_count=$2 WHERE address=$1`)).
        WithArgs("10.0.0.1", 1).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    d, err := p.AdmitRequest(context.Background(), "10.0.0.1", 1, time.Minute, now)
    if err != nil {
        t.Fatalf("AdmitRequest: %v", err)
    }
    if d.Admitted {
        t.Fatalf("cold racer admitted past the limit: %+v", d)
    }
    if d.ExceedCount != 1 || d.Backoff != 2*time.Second {
        t.Fatalf("decision: %+v", d)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestAdmitRequestColdRaceStaleWindowResets(t *testing.T) {
    p, mock := newMock(t)
    now := time.Now()

    mock.ExpectBegin()
    mock.ExpectQuery(regexp.QuoteMeta(`SELECT requests, window_start, exceed_count FROM rate_counters WHERE address=$1 FOR UPDATE`)).
        WithArgs("10.0.0.1").
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}))
    mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rate_counters (address, requests, window_start, exceed_count) VALUES ($1,1,$2,0)`)).
        WithArgs("10.0.0.1", now).
        WillReturnRows(sqlmock.NewRows([]string{"requests", "window_start", "exceed_count"}).AddRow(61, now.Add(-2*time.Minute), 3))
    mock.ExpectExec(regexp.QuoteMeta(`UPDATE rate_counters SET requests=1, window_start=$2, exceed_count=0 WHERE address=$1`)).
        WithArgs("10.0.0.1", now).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    d, err := p.AdmitRequest(context.Background(), "10.0.0.1", 60, time.Minute, now)
    if err != nil {
        t.Fatalf("AdmitRequest: %v", err)
    }
    if !d.Admitted || d.ExceedCount != 0 {
        t.Fatalf("decision: %+v", d)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestUpsertDeviceState(t *testing.T) {
    p, mock := newMock(t)
    ts := time.Now().UTC()

    mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO device_states (terminal_id, box_id, lock_status, last_updated) VALUES ($1,$2,$3,$4)`)).
        WithArgs("T01", "3", model.LockStatusOpen, ts).
        WillReturnResult(sqlmock.NewResult(0, 1))

    err := p.UpsertDeviceState(context.Background(), model.DeviceKey{TerminalID: "T01", BoxID: "3"}, model.LockStatusOpen, ts)
    if err != nil {
        t.Fatalf("UpsertDeviceState: %v", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestListAuditEntriesSeqOrderAndCursor(t *testing.T) {
    p, mock := newMock(t)
    ts := time.Now().UTC()
    q := regexp.QuoteMeta(`SELECT seq, id::text, kind, ts FROM audit_log WHERE terminal_id=$1 AND box_id=$2 AND seq > $3 ORDER BY seq LIMIT $4`)

    // Page 1: the extra look-ahead row signals more data; it is trimmed and
    // the cursor points at the last returned seq.
    mock.ExpectQuery(q).
        WithArgs("T01", "3", int64(0), 3).
        WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "kind", "ts"}).
            AddRow(int64(10), "a1", model.TransitionUnlock, ts).
            AddRow(int64(11), "a2", model.TransitionLock, ts).
            AddRow(int64(12), "a3", model.TransitionUnlock, ts))

    key := model.DeviceKey{TerminalID: "T01", BoxID: "3"}
    items, next, err := p.ListAuditEntries(context.Background(), key, "", 2)
    if err != nil {
        t.Fatalf("page 1: %v", err)
    }
    if len(items) != 2 || items[0].ID != "a1" || items[1].ID != "a2" {
        t.Fatalf("page 1: %+v", items)
    }
    if next != "11" {
        t.Fatalf("cursor %q, want 11", next)
    }

    // Page 2: no look-ahead row means the cursor is empty.
    mock.ExpectQuery(q).
        WithArgs("T01", "3", int64(11), 3).
        WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "kind", "ts"}).
            AddRow(int64(12), "a3", model.TransitionUnlock, ts))
    items, next, err = p.ListAuditEntries(context.Background(), key, next, 2)
    if err != nil {
        t.Fatalf("page 2: %v", err)
    }
    if len(items) != 1 || items[0].ID != "a3" || next != "" {
        t.Fatalf("page 2: %+v next %q", items, next)
    }

    if _, _, err := p.ListAuditEntries(context.Background(), key, "not-a-seq", 2); err == nil {
        t.Fatal("want error for malformed cursor")
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestGetWebhookRegistrationNotFound(t *testing.T) {
    p, mock := newMock(t)

    mock.ExpectQuery(regexp.QuoteMeta(`SELECT url, secret, status, created_at FROM webhook_registrations WHERE org_id=$1`)).
        WithArgs("org-missing").
        WillReturnRows(sqlmock.NewRows([]string{"url", "secret", "status", "created_at"}))

    _, err := p.GetWebhookRegistration(context.Background(), "org-missing")
    if err != ErrNotFound {
        t.Fatalf("err = %v, want ErrNotFound", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestMigrateDirAppliesFilesInLexicalOrder(t *testing.T) {
    p, mock := newMock(t)
    dir := t.TempDir()
    files := map[string]string{
        "002_audit.sql": "ALTER TABLE audit_log ADD COLUMN note text;",
        "001_init.sql":  "CREATE TABLE device_states (terminal_id text);",
        "notes.txt":     "not sql",
    }
    for name, body := range files {
        if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
            t.Fatalf("write %s: %v", name, err)
        }
    }

    mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE device_states (terminal_id text);")).
        WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE audit_log ADD COLUMN note text;")).
        WillReturnResult(sqlmock.NewResult(0, 0))

    if err := p.MigrateDir(dir); err != nil {
        t.Fatalf("MigrateDir: %v", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}

func TestCreateWebhookRegistrationConflict(t *testing.T) {
    p, mock := newMock(t)

    mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO webhook_registrations (org_id, url, secret, status) VALUES ($1,$2,$3,'ok')`)).
        WithArgs("org1", "https://cb.example/h", "sec").
        WillReturnResult(sqlmock.NewResult(0, 0))

    _, err := p.CreateWebhookRegistration(context.Background(), "org1", "https://cb.example/h", "sec")
    if err != ErrExists {
        t.Fatalf("err = %v, want ErrExists", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatal(err)
    }
}
