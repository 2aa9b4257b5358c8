package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func TestLoadDefaults(t *testing.T) {
    c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if c.Port != "8080" || c.RateLimit.Limit != 60 || c.RateLimit.Interval != time.Minute {
        t.Fatalf("defaults: %+v", c)
    }
    if c.Ingest.Topic != "/status" || c.Ingest.CacheTTL != 10*time.Second {
        t.Fatalf("ingest defaults: %+v", c.Ingest)
    }
    if c.Webhook.MaxAttempts != 10 {
        t.Fatalf("webhook defaults: %+v", c.Webhook)
    }
}

func TestLoadFileWithEnvOverride(t *testing.T) {
    path := filepath.Join(t.TempDir(), "config.yaml")
    data := []byte("port: \"9000\"\nrate_limit:\n  limit: 5\n  interval: 30s\ningest:\n  topic: /locker/status\n")
    if err := os.WriteFile(path, data, 0o600); err != nil {
        t.Fatalf("write: %v", err)
    }
    t.Setenv("RATE_LIMIT", "12")
    t.Setenv("RATE_INTERVAL", "45") // bare integers are seconds
    t.Setenv("CONFIG_FILE", "")

    c, err := Load(path)
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if c.Port != "9000" {
        t.Fatalf("port: %q", c.Port)
    }
    if c.RateLimit.Limit != 12 {
        t.Fatalf("env did not override file: %d", c.RateLimit.Limit)
    }
    if c.RateLimit.Interval != 45*time.Second {
        t.Fatalf("interval: %v", c.RateLimit.Interval)
    }
    if c.Ingest.Topic != "/locker/status" {
        t.Fatalf("topic: %q", c.Ingest.Topic)
    }
}

func TestLoadRejectsBadYAML(t *testing.T) {
    path := filepath.Join(t.TempDir(), "config.yaml")
    if err := os.WriteFile(path, []byte("port: [unterminated"), 0o600); err != nil {
        t.Fatalf("write: %v", err)
    }
    if _, err := Load(path); err == nil {
        t.Fatal("want parse error")
    }
}
