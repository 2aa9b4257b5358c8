//go:build postgres_integration

package store

import (
    "os"
    "testing"
    "time"

    "lockgrid/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.MigrateDir("../../db/migrations"); err != nil { t.Fatalf("MigrateDir: %v", err) }
    // Round trip one upsert and one admission against the live schema.
    key := model.DeviceKey{TerminalID: "t_itest", BoxID: "1"}
    if err := p.UpsertDeviceState(t.Context(), key, model.LockStatusLocked, time.Now().UTC()); err != nil {
        t.Fatalf("UpsertDeviceState: %v", err)
    }
    if _, err := p.AdmitRequest(t.Context(), "integration-test", 100, time.Minute, time.Now()); err != nil {
        t.Fatalf("AdmitRequest: %v", err)
    }
}
