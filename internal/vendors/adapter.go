// Package vendors abstracts the locker hardware vendors' remote command
// APIs behind a single adapter contract.
package vendors

import (
    "context"
    "encoding/json"
    "fmt"

    "lockgrid/internal/model"
)

// Command is a vendor-agnostic locker instruction.
type Command struct {
    Action string         `json:"action"` // open, query
    Params map[string]any `json:"params,omitempty"`
}

// Response carries the vendor's application-level result for a successful
// round trip. Raw preserves the untouched body for diagnostics.
type Response struct {
    Code    string          `json:"code"`
    Message string          `json:"message,omitempty"`
    Raw     json.RawMessage `json:"raw,omitempty"`
}

// Adapter sends one command to a vendor's remote API. No retries: the caller
// owns retry policy. Transport problems surface as *CommError, well-formed
// vendor refusals as *RejectedError.
type Adapter interface {
    Vendor() string
    SendCommand(ctx context.Context, key model.DeviceKey, cmd Command) (Response, error)
}

// CommError is a connect/timeout style transport failure.
type CommError struct {
    Vendor string
    Err    error
}

func (e *CommError) Error() string { return fmt.Sprintf("%s: communication failure: %v", e.Vendor, e.Err) }
func (e *CommError) Unwrap() error { return e.Err }

// RejectedError is an application-level refusal embedded in the vendor
// payload, independent of the HTTP status.
type RejectedError struct {
    Vendor  string
    Code    string
    Message string
}

func (e *RejectedError) Error() string {
    return fmt.Sprintf("%s: vendor rejected command (code %s): %s", e.Vendor, e.Code, e.Message)
}
