package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Headers carrying a signed request.
const (
	HeaderAPIKey     = "X-API-Key"
	HeaderTimestamp  = "X-Timestamp"
	HeaderSignature  = "X-Signature"
	HeaderPassphrase = "X-Passphrase"
)

// Payload builds the signed message: timestamp + METHOD + path + body.
// path is used exactly as sent, including any query string.
func Payload(timestamp, method, path string, body []byte) []byte {
	buf := make([]byte, 0, len(timestamp)+len(method)+len(path)+len(body))
	buf = append(buf, timestamp...)
	buf = append(buf, strings.ToUpper(method)...)
	buf = append(buf, path...)
	buf = append(buf, body...)
	return buf
}

// Sign returns the lowercase hex HMAC-SHA256 of the payload.
func Sign(secret, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(Payload(timestamp, method, path, body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares in constant time.
func Verify(secret, timestamp, method, path string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(Payload(timestamp, method, path, body))
	return hmac.Equal(mac.Sum(nil), got)
}

// Credentials sign outbound requests to a venue. Passphrase is optional and
// travels in its own header.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Headers produces the auth headers for one outbound request.
func (c Credentials) Headers(now time.Time, method, path string, body []byte) map[string]string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	h := map[string]string{
		HeaderAPIKey:    c.APIKey,
		HeaderTimestamp: ts,
		HeaderSignature: Sign(c.Secret, ts, method, path, body),
	}
	if c.Passphrase != "" {
		h[HeaderPassphrase] = c.Passphrase
	}
	return h
}
