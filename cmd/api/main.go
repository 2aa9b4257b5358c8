package main

import (
    "context"
    "log"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "lockgrid/internal/api"
    "lockgrid/internal/config"
    "lockgrid/internal/metrics"
    "lockgrid/internal/ratelimit"
)

func main() {
    cfg, err := config.Load("config.yaml")
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }

    srv, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }
    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Webhook registrations
    mux.HandleFunc("/v1/orgs/", srv.OrgWebhookHandler) // includes /webhook, /webhook/test

    // Business events
    mux.HandleFunc("/v1/events", srv.EventsHandler)
    mux.HandleFunc("/v1/events/", srv.EventByIDHandler) // includes /status

    // Devices
    mux.HandleFunc("/v1/devices/stream", srv.DeviceStreamHandler)
    mux.HandleFunc("/v1/devices/", srv.DeviceHandler) // /state, /audit, /open

    // Scheduled notifications
    mux.HandleFunc("/v1/schedule", srv.ScheduleHandler)
    mux.HandleFunc("/v1/schedule/", srv.ScheduleByIDHandler)

    // Health
    mux.HandleFunc("/healthz", srv.HealthHandler)
    mux.HandleFunc("/readyz", srv.ReadyHandler)

    // Admin
    mux.HandleFunc("/v1/admin/debug", srv.DebugJSON)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    limiter := ratelimit.New(srv.Store, cfg.RateLimit.Limit, cfg.RateLimit.Interval)
    handler := api.LogMiddleware(limiter.Middleware(mux))

    httpSrv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           handler,
        ReadHeaderTimeout: 5 * time.Second,
    }

    // Background workers
    srv.NewWebhookWorker().Start()
    srv.Scheduler.Start()
    if cfg.RateLimit.PruneAfter > 0 {
        ratelimit.NewSweeper(srv.Store, cfg.RateLimit.PruneAfter).Start()
    }

    // Ingestion loop: bus disconnect is fatal; the supervisor restarts us.
    go func() {
        loop := srv.NewIngestLoop()
        if err := loop.Run(context.Background()); err != nil {
            log.Fatalf("ingest loop stopped: %v", err)
        }
    }()

    log.Printf("API listening on :%s", cfg.Port)
    if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}
