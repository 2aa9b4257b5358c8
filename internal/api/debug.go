package api

import (
    "net/http"
    "time"

    "lockgrid/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":            s.Cfg.Port,
            "authMode":        s.Cfg.Auth.Mode,
            "rateLimit":       s.Cfg.RateLimit.Limit,
            "rateInterval":    s.Cfg.RateLimit.Interval.String(),
            "ingestTopic":     s.Cfg.Ingest.Topic,
            "cacheTTL":        s.Cfg.Ingest.CacheTTL.String(),
            "hasDatabaseURL":  s.Cfg.DatabaseURL != "",
            "hasRedisURL":     s.Cfg.RedisURL != "",
            "vendors":         len(s.Adapters),
        },
    })
}
