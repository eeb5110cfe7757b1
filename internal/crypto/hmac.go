package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names set on signed venue REST requests.
const (
	HeaderAPIKey     = "X-API-KEY"
	HeaderTimestamp  = "X-API-TIMESTAMP"
	HeaderSignature  = "X-API-SIGNATURE"
	HeaderPassphrase = "X-API-PASSPHRASE"
)

// HMACAuth holds the credentials for HMAC-authenticated venue requests.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// Headers returns the authentication headers for a request. The signature
// is HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64, with
// the timestamp in Unix milliseconds.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is like Headers with a caller-supplied timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)
	out := map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign(h.Secret, ts+method+path+body),
	}
	if h.Passphrase != "" {
		out[HeaderPassphrase] = h.Passphrase
	}
	return out
}

// Sign returns base64(HMAC-SHA256(secret, message)).
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
