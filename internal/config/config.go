// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Env always wins so container deployments
// can run without a file at all.
package config

import (
    "os"
    "strconv"
    "time"

    yaml "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"database_url"`
    RedisURL    string `yaml:"redis_url"`

    Auth struct {
        Mode       string `yaml:"mode"` // dev, hmac, jwks
        HMACSecret string `yaml:"hmac_secret"`
        JWKSURL    string `yaml:"jwks_url"`
    } `yaml:"auth"`

    RateLimit struct {
        Limit      int           `yaml:"limit"`
        Interval   time.Duration `yaml:"interval"`
        PruneAfter time.Duration `yaml:"prune_after"` // 0 disables the sweep
    } `yaml:"rate_limit"`

    Webhook struct {
        Timeout     time.Duration `yaml:"timeout"`
        MaxAttempts int           `yaml:"max_attempts"`
    } `yaml:"webhook"`

    Ingest struct {
        Topic    string        `yaml:"topic"`
        CacheTTL time.Duration `yaml:"cache_ttl"`
    } `yaml:"ingest"`

    Vendor struct {
        DClockBaseURL string        `yaml:"dclock_base_url"`
        DClockKey     string        `yaml:"dclock_key"`
        Timeout       time.Duration `yaml:"timeout"`
        RatePerSec    int           `yaml:"rate_per_sec"`
    } `yaml:"vendor"`
}

// Load reads CONFIG_FILE if set (or the given path), then applies env
// overrides and defaults. A missing file is not an error.
func Load(path string) (Config, error) {
    var c Config
    if v := os.Getenv("CONFIG_FILE"); v != "" {
        path = v
    }
    if path != "" {
        data, err := os.ReadFile(path)
        if err == nil {
            if err := yaml.Unmarshal(data, &c); err != nil {
                return c, err
            }
        } else if !os.IsNotExist(err) {
            return c, err
        }
    }
    c.applyEnv()
    c.applyDefaults()
    return c, nil
}

func (c *Config) applyEnv() {
    setStr(&c.Port, "PORT")
    setStr(&c.DatabaseURL, "DATABASE_URL")
    setStr(&c.RedisURL, "REDIS_URL")
    setStr(&c.Auth.Mode, "AUTH_MODE")
    setStr(&c.Auth.HMACSecret, "AUTH_HMAC_SECRET")
    setStr(&c.Auth.JWKSURL, "AUTH_JWKS_URL")
    setInt(&c.RateLimit.Limit, "RATE_LIMIT")
    setDur(&c.RateLimit.Interval, "RATE_INTERVAL")
    setDur(&c.RateLimit.PruneAfter, "RATE_PRUNE_AFTER")
    setDur(&c.Webhook.Timeout, "WEBHOOK_TIMEOUT")
    setInt(&c.Webhook.MaxAttempts, "WEBHOOK_MAX_ATTEMPTS")
    setStr(&c.Ingest.Topic, "INGEST_TOPIC")
    setDur(&c.Ingest.CacheTTL, "INGEST_CACHE_TTL")
    setStr(&c.Vendor.DClockBaseURL, "DCLOCK_BASE_URL")
    setStr(&c.Vendor.DClockKey, "DCLOCK_KEY")
    setDur(&c.Vendor.Timeout, "VENDOR_TIMEOUT")
    setInt(&c.Vendor.RatePerSec, "VENDOR_RATE_PER_SEC")
}

func (c *Config) applyDefaults() {
    if c.Port == "" { c.Port = "8080" }
    if c.RateLimit.Limit <= 0 { c.RateLimit.Limit = 60 }
    if c.RateLimit.Interval <= 0 { c.RateLimit.Interval = time.Minute }
    if c.Webhook.Timeout <= 0 { c.Webhook.Timeout = 5 * time.Second }
    if c.Webhook.MaxAttempts <= 0 { c.Webhook.MaxAttempts = 10 }
    if c.Ingest.Topic == "" { c.Ingest.Topic = "/status" }
    if c.Ingest.CacheTTL <= 0 { c.Ingest.CacheTTL = 10 * time.Second }
    if c.Vendor.Timeout <= 0 { c.Vendor.Timeout = 10 * time.Second }
    if c.Vendor.RatePerSec <= 0 { c.Vendor.RatePerSec = 5 }
}

func setStr(dst *string, key string) {
    if v := os.Getenv(key); v != "" { *dst = v }
}

func setInt(dst *int, key string) {
    if v := os.Getenv(key); v != "" {
        if n, err := strconv.Atoi(v); err == nil { *dst = n }
    }
}

func setDur(dst *time.Duration, key string) {
    if v := os.Getenv(key); v != "" {
        if d, err := time.ParseDuration(v); err == nil {
            *dst = d
        } else if n, err := strconv.Atoi(v); err == nil {
            // bare integers are seconds
            *dst = time.Duration(n) * time.Second
        }
    }
}
