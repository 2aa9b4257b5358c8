package webhooks

import (
    "context"
    "encoding/json"
    "io"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "lockgrid/internal/model"
    "lockgrid/internal/store"
)

func TestNotifyStatusClassification(t *testing.T) {
    cases := []struct {
        respond    int
        wantStatus string
    }{
        {http.StatusOK, model.WebhookStatusOK},
        {http.StatusNotFound, model.WebhookStatusError},
        {http.StatusInternalServerError, model.WebhookStatusError},
        {http.StatusTeapot, model.WebhookStatusInactive},
        {http.StatusAccepted, model.WebhookStatusInactive},
    }
    for _, tc := range cases {
        srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            w.WriteHeader(tc.respond)
        }))
        s := store.NewMemory()
        if _, err := s.CreateWebhookRegistration(context.Background(), "org1", srv.URL, "sec"); err != nil {
            t.Fatalf("register: %v", err)
        }
        d := NewDispatcher(s, 2*time.Second)

        ok := d.Notify(context.Background(), "org1", model.EventChange{IDEvent: "ev1", EventStatus: "active"})
        if !ok {
            t.Fatalf("code %d: Notify returned false, want true for any completed round trip", tc.respond)
        }
        reg, err := s.GetWebhookRegistration(context.Background(), "org1")
        if err != nil {
            t.Fatalf("read back: %v", err)
        }
        if reg.Status != tc.wantStatus {
            t.Fatalf("code %d: status %q, want %q", tc.respond, reg.Status, tc.wantStatus)
        }
        srv.Close()
    }
}

func TestNotifySignsEnrichedBody(t *testing.T) {
    var gotSig string
    var gotBody []byte
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        gotSig = r.Header.Get("X-Signature")
        gotBody, _ = io.ReadAll(r.Body)
        w.WriteHeader(http.StatusOK)
    }))
    defer srv.Close()

    s := store.NewMemory()
    if _, err := s.CreateWebhookRegistration(context.Background(), "org1", srv.URL, "sec"); err != nil {
        t.Fatalf("register: %v", err)
    }
    ev, err := s.CreateEvent(context.Background(), model.Event{OrgID: "org1", Status: "created", TerminalID: "T01", BoxID: "3"})
    if err != nil {
        t.Fatalf("CreateEvent: %v", err)
    }

    d := NewDispatcher(s, 2*time.Second)
    if !d.Notify(context.Background(), "org1", model.EventChange{IDEvent: ev.ID, EventStatus: "active"}) {
        t.Fatal("Notify returned false")
    }

    if !Verify("sec", gotBody, gotSig) {
        t.Fatalf("signature %q does not cover delivered body %s", gotSig, gotBody)
    }
    var change model.EventChange
    if err := json.Unmarshal(gotBody, &change); err != nil {
        t.Fatalf("unmarshal body: %v", err)
    }
    if change.EventObj == nil || change.EventObj.ID != ev.ID {
        t.Fatalf("body not enriched with event: %s", gotBody)
    }
    if change.EventObj.TerminalID != "T01" {
        t.Fatalf("enriched event: %+v", change.EventObj)
    }
}

func TestNotifyWithoutRegistrationIsNoop(t *testing.T) {
    s := store.NewMemory()
    d := NewDispatcher(s, time.Second)
    if d.Notify(context.Background(), "org-unknown", model.EventChange{IDEvent: "ev1", EventStatus: "active"}) {
        t.Fatal("Notify returned true for unregistered org")
    }
    if d.Notify(context.Background(), "", model.EventChange{IDEvent: "ev1"}) {
        t.Fatal("Notify returned true for empty org")
    }
}

func TestNotifyTransportFailureKeepsStatus(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
    }))
    s := store.NewMemory()
    if _, err := s.CreateWebhookRegistration(context.Background(), "org1", srv.URL, "sec"); err != nil {
        t.Fatalf("register: %v", err)
    }
    d := NewDispatcher(s, time.Second)

    if !d.Notify(context.Background(), "org1", model.EventChange{IDEvent: "ev1", EventStatus: "active"}) {
        t.Fatal("warmup Notify failed")
    }
    srv.Close() // endpoint now unreachable

    if d.Notify(context.Background(), "org1", model.EventChange{IDEvent: "ev2", EventStatus: "active"}) {
        t.Fatal("Notify returned true after transport failure")
    }
    reg, _ := s.GetWebhookRegistration(context.Background(), "org1")
    if reg.Status != model.WebhookStatusOK {
        t.Fatalf("transport failure mutated status to %q", reg.Status)
    }
}
