package webhooks

import (
    "crypto/hmac"
    "crypto/rand"
    "crypto/sha256"
    "encoding/hex"
    "fmt"
)

// Sign returns lowercase hex of sha256(secret || body). This is the digest
// deployed consumers verify in X-Signature; changing it is a breaking wire
// change (see DESIGN.md).
func Sign(secret string, body []byte) string {
    h := sha256.New()
    h.Write([]byte(secret))
    h.Write(body)
    return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a provided hex digest against Sign(secret, body).
func Verify(secret string, body []byte, provided string) bool {
    expected := Sign(secret, body)
    return hmac.Equal([]byte(expected), []byte(provided))
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers.
func SignHMAC(secret string, body []byte) string {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    return fmt.Sprintf("%x", mac.Sum(nil))
}

// VerifyHMAC checks an HMAC-SHA256 signature over the raw body using the shared secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    expected := mac.Sum(nil)
    b, err := hex.DecodeString(provided)
    if err != nil {
        return false
    }
    return hmac.Equal(expected, b)
}

// NewSecret generates a registration secret: 32 random bytes, hex encoded.
// Secrets are immutable for the life of a registration.
func NewSecret() string {
    b := make([]byte, 32)
    _, _ = rand.Read(b)
    return hex.EncodeToString(b)
}
