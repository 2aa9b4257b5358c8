package api

import (
    "os"

    "lockgrid/internal/auth"
    "lockgrid/internal/config"
    "lockgrid/internal/devstate"
    "lockgrid/internal/ingest"
    "lockgrid/internal/schedule"
    "lockgrid/internal/store"
    "lockgrid/internal/vendors"
    "lockgrid/internal/webhooks"
)

type Server struct {
    Cfg        config.Config
    Store      store.Store
    Dispatcher *webhooks.Dispatcher
    Auth       *auth.Verifier
    Broker     *Broker
    Scheduler  *schedule.Scheduler
    Adapters   map[string]vendors.Adapter
    Bus        ingest.Bus
    Cache      devstate.StatusCache
}

// NewServer wires the service from config. Without DATABASE_URL the
// in-memory store is used; without REDIS_URL the in-process bus and cache.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if cfg.DatabaseURL == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            _ = sp.MigrateDir("db/migrations")
        }
        s = sp
    }

    var bus ingest.Bus
    var cache devstate.StatusCache
    if cfg.RedisURL != "" {
        rb, err := ingest.NewRedisBus(cfg.RedisURL)
        if err != nil { return nil, err }
        rc, err := devstate.NewRedisCache(cfg.RedisURL)
        if err != nil { return nil, err }
        bus, cache = rb, rc
    } else {
        bus, cache = ingest.NewMemoryBus(), devstate.NewMemoryCache()
    }

    adapters := map[string]vendors.Adapter{}
    if cfg.Vendor.DClockBaseURL != "" {
        adapters["dclock"] = vendors.NewDClock(cfg.Vendor.DClockBaseURL, cfg.Vendor.DClockKey, cfg.Vendor.Timeout, cfg.Vendor.RatePerSec)
    }

    return &Server{
        Cfg:        cfg,
        Store:      s,
        Dispatcher: webhooks.NewDispatcher(s, cfg.Webhook.Timeout),
        Auth:       auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.JWKSURL),
        Broker:     NewBroker(),
        Scheduler:  schedule.New(s),
        Adapters:   adapters,
        Bus:        bus,
        Cache:      cache,
    }, nil
}

// NewIngestLoop builds the bus consumer feeding the reconciler; transitions
// also fan out to stream subscribers.
func (s *Server) NewIngestLoop() *ingest.Loop {
    rec := devstate.NewReconciler(s.Cache, s.Store, s.Cfg.Ingest.CacheTTL)
    rec.OnTransition = s.Broker.PublishTransition
    return ingest.NewLoop(s.Bus, s.Cfg.Ingest.Topic, rec)
}

// NewWebhookWorker creates the background worker for queued deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.Webhook.Timeout, s.Cfg.Webhook.MaxAttempts)
}
