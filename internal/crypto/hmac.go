package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer signs Binance SIGNED endpoint parameters. The signature is the
// hex-encoded HMAC-SHA256 of the URL-encoded query string keyed with the API
// secret.
type Signer struct {
	APIKey     string
	Secret     string
	RecvWindow time.Duration
}

// Sign appends timestamp (and recvWindow when set) to params and returns the
// encoded query with its signature appended.
func (s *Signer) Sign(params url.Values) string {
	return s.SignAt(params, time.Now().UnixMilli())
}

// SignAt is like Sign but lets the caller supply the millisecond timestamp
// (useful for deterministic testing).
func (s *Signer) SignAt(params url.Values, unixMs int64) string {
	if params == nil {
		params = url.Values{}
	}
	if s.RecvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(s.RecvWindow.Milliseconds(), 10))
	}
	params.Set("timestamp", strconv.FormatInt(unixMs, 10))

	query := params.Encode()
	return query + "&signature=" + s.SignQuery(query)
}

// SignQuery returns the signature for an already-encoded query string.
func (s *Signer) SignQuery(query string) string {
	return hmacSHA256Hex([]byte(s.Secret), query)
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lower-case hex digest.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (s *Signer) String() string {
	redact := func(v string) string {
		if len(v) <= 4 {
			return "****"
		}
		return v[:4] + "****"
	}
	return fmt.Sprintf("Signer{key=%s, secret=%s}", redact(s.APIKey), redact(s.Secret))
}
