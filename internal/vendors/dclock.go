package vendors

import (
    "bytes"
    "context"
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "strconv"
    "time"

    "golang.org/x/time/rate"

    "lockgrid/internal/metrics"
    "lockgrid/internal/model"
)

// DClock talks to the DClock terminal gateway. Requests carry a timestamped
// SHA-256 signature over the canonical body; the gateway rejects stale
// signatures, so signing happens immediately before each transmission and is
// never cached.
type DClock struct {
    BaseURL string
    Key     string
    HTTP    *http.Client
    limiter *rate.Limiter
    now     func() time.Time
}

func NewDClock(baseURL, key string, timeout time.Duration, perSec int) *DClock {
    if timeout <= 0 { timeout = 10 * time.Second }
    if perSec <= 0 { perSec = 5 }
    return &DClock{
        BaseURL: baseURL,
        Key:     key,
        HTTP:    &http.Client{Timeout: timeout},
        limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
        now:     time.Now,
    }
}

func (d *DClock) Vendor() string { return "dclock" }

type dclockRequest struct {
    Terminal  string `json:"terminal"`
    Box       string `json:"box"`
    Action    string `json:"action"`
    Timestamp string `json:"timestamp"`
}

type dclockResponse struct {
    Code int    `json:"code"`
    Msg  string `json:"msg"`
}

func (d *DClock) SendCommand(ctx context.Context, key model.DeviceKey, cmd Command) (Response, error) {
    if err := d.limiter.Wait(ctx); err != nil {
        return Response{}, &CommError{Vendor: d.Vendor(), Err: err}
    }

    body := dclockRequest{
        Terminal:  key.TerminalID,
        Box:       key.BoxID,
        Action:    cmd.Action,
        Timestamp: strconv.FormatInt(d.now().Unix(), 10),
    }
    payload, err := json.Marshal(body)
    if err != nil {
        return Response{}, &CommError{Vendor: d.Vendor(), Err: err}
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/api/command", bytes.NewReader(payload))
    if err != nil {
        return Response{}, &CommError{Vendor: d.Vendor(), Err: err}
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Sign", d.sign(payload))

    resp, err := d.HTTP.Do(req)
    if err != nil {
        metrics.VendorCommands.WithLabelValues(d.Vendor(), "comm_error").Inc()
        return Response{}, &CommError{Vendor: d.Vendor(), Err: err}
    }
    defer func() { _ = resp.Body.Close() }()
    raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
    if err != nil {
        metrics.VendorCommands.WithLabelValues(d.Vendor(), "comm_error").Inc()
        return Response{}, &CommError{Vendor: d.Vendor(), Err: err}
    }

    var dr dclockResponse
    if err := json.Unmarshal(raw, &dr); err != nil {
        metrics.VendorCommands.WithLabelValues(d.Vendor(), "bad_payload").Inc()
        return Response{}, &CommError{Vendor: d.Vendor(), Err: fmt.Errorf("decode response: %w", err)}
    }
    // DClock signals success via its own code field, not the HTTP status.
    if dr.Code != 200 {
        metrics.VendorCommands.WithLabelValues(d.Vendor(), "rejected").Inc()
        return Response{}, &RejectedError{Vendor: d.Vendor(), Code: strconv.Itoa(dr.Code), Message: dr.Msg}
    }
    metrics.VendorCommands.WithLabelValues(d.Vendor(), "ok").Inc()
    return Response{Code: strconv.Itoa(dr.Code), Message: dr.Msg, Raw: raw}, nil
}

// sign computes hex(sha256(body || key)). Time sensitivity comes from the
// timestamp inside the body.
func (d *DClock) sign(payload []byte) string {
    h := sha256.New()
    h.Write(payload)
    h.Write([]byte(d.Key))
    return hex.EncodeToString(h.Sum(nil))
}
