package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "lockgrid/internal/buildinfo"
    "lockgrid/internal/model"
    "lockgrid/internal/store"
    "lockgrid/internal/vendors"
    "lockgrid/internal/webhooks"
)

// OrgWebhookHandler handles /v1/orgs/{orgId}/webhook and .../webhook/test
func (s *Server) OrgWebhookHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/orgs/")
    parts := strings.Split(rest, "/")
    if len(parts) < 2 || parts[0] == "" || parts[1] != "webhook" {
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
        return
    }
    orgID := parts[0]
    p := s.getPrincipal(r)
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
        return
    }

    if len(parts) == 3 && parts[2] == "test" {
        s.webhookTest(w, r, orgID)
        return
    }
    if len(parts) != 2 {
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
        return
    }

    switch r.Method {
    case http.MethodPost:
        var req struct {
            URL string `json:"url"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
            writeProblem(w, http.StatusBadRequest, "Invalid URL", "url must be http(s)", r.URL.Path)
            return
        }
        reg, err := s.Store.CreateWebhookRegistration(r.Context(), orgID, req.URL, webhooks.NewSecret())
        if errors.Is(err, store.ErrExists) {
            writeProblem(w, http.StatusConflict, "Webhook exists", "delete and recreate to rotate the secret", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create webhook failed", err.Error(), r.URL.Path)
            return
        }
        // The secret is returned once, at creation.
        writeJSON(w, http.StatusCreated, reg)
    case http.MethodGet:
        reg, err := s.Store.GetWebhookRegistration(r.Context(), orgID)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "No webhook registered", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get webhook failed", err.Error(), r.URL.Path)
            return
        }
        reg.Secret = ""
        writeJSON(w, http.StatusOK, reg)
    case http.MethodDelete:
        err := s.Store.DeleteWebhookRegistration(r.Context(), orgID)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "No webhook registered", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Delete webhook failed", err.Error(), r.URL.Path)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// webhookTest sends a probe through the synchronous dispatcher and reports
// the classification recorded for the registration.
func (s *Server) webhookTest(w http.ResponseWriter, r *http.Request, orgID string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if _, err := s.Store.GetWebhookRegistration(r.Context(), orgID); errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "No webhook registered", "", r.URL.Path)
        return
    }
    change := model.EventChange{IDEvent: "", IDOrg: orgID, EventStatus: "webhook.test"}
    delivered := s.Dispatcher.Notify(r.Context(), orgID, change)
    reg, err := s.Store.GetWebhookRegistration(r.Context(), orgID)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get webhook failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered, "status": reg.Status})
}

// EventsHandler handles POST /v1/events
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    var ev model.Event
    if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if ev.OrgID == "" { ev.OrgID = p.Org }
    if ev.Status == "" { ev.Status = "created" }
    out, err := s.Store.CreateEvent(r.Context(), ev)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create event failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusCreated, out)
}

// EventByIDHandler handles /v1/events/{id} and /v1/events/{id}/status
func (s *Server) EventByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/events/")
    parts := strings.Split(rest, "/")
    id := parts[0]
    if id == "" {
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
        return
    }

    if len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPatch {
        var req struct {
            Status string `json:"status"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", "status required", r.URL.Path)
            return
        }
        ev, err := s.Store.UpdateEventStatus(r.Context(), id, req.Status)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Event not found", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Update event failed", err.Error(), r.URL.Path)
            return
        }
        // Notification I/O never fails the transition; the outcome is
        // reported alongside the updated event.
        delivered := s.Dispatcher.Notify(r.Context(), ev.OrgID, model.EventChange{
            IDEvent: ev.ID, IDOrg: ev.OrgID, EventStatus: ev.Status,
        })
        writeJSON(w, http.StatusOK, map[string]any{"event": ev, "delivered": delivered})
        return
    }

    if len(parts) == 1 && r.Method == http.MethodGet {
        ev, err := s.Store.GetEvent(r.Context(), id)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Event not found", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get event failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, ev)
        return
    }
    w.WriteHeader(http.StatusMethodNotAllowed)
}

// DeviceHandler handles /v1/devices/{terminal}/{box}/(state|audit|open)
func (s *Server) DeviceHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/devices/")
    parts := strings.Split(rest, "/")
    if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
        return
    }
    key := model.DeviceKey{TerminalID: parts[0], BoxID: parts[1]}

    switch parts[2] {
    case "state":
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        st, err := s.Store.GetDeviceState(r.Context(), key)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Device state unknown", "no observation recorded for this key", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get state failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, st)
    case "audit":
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListAuditEntries(r.Context(), key, cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List audit failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    case "open":
        s.deviceOpen(w, r, key)
    default:
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
    }
}

// deviceOpen sends the open command through the vendor adapter. Transport
// failures map to 502, vendor refusals to 409 with the diagnostic text.
func (s *Server) deviceOpen(w http.ResponseWriter, r *http.Request, key model.DeviceKey) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !(p.IsAdmin() || p.Role == "staff") {
        writeProblem(w, http.StatusForbidden, "Forbidden", "staff or admin required", r.URL.Path)
        return
    }
    vendor := r.URL.Query().Get("vendor")
    if vendor == "" { vendor = "dclock" }
    ad, ok := s.Adapters[vendor]
    if !ok {
        writeProblem(w, http.StatusBadRequest, "Unknown vendor", vendor, r.URL.Path)
        return
    }
    resp, err := ad.SendCommand(r.Context(), key, vendors.Command{Action: "open"})
    if err != nil {
        var rej *vendors.RejectedError
        if errors.As(err, &rej) {
            writeProblem(w, http.StatusConflict, "Vendor rejected command", rej.Message, r.URL.Path)
            return
        }
        writeProblem(w, http.StatusBadGateway, "Vendor unreachable", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"vendor": vendor, "code": resp.Code, "message": resp.Message})
}

// ScheduleHandler handles POST /v1/schedule
func (s *Server) ScheduleHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    var req model.ScheduleRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.OrgID == "" { req.OrgID = p.Org }
    job, err := s.Scheduler.Schedule(r.Context(), req)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Schedule failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusCreated, job)
}

// ScheduleByIDHandler handles GET/DELETE /v1/schedule/{id}
func (s *Server) ScheduleByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/schedule/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
        return
    }
    switch r.Method {
    case http.MethodGet:
        job, err := s.Store.GetScheduledJob(r.Context(), id)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Job not found", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get job failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, job)
    case http.MethodDelete:
        err := s.Scheduler.Cancel(r.Context(), id)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Job not found or not pending", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Cancel job failed", err.Error(), r.URL.Path)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"ok": true, "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Store not ready", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
