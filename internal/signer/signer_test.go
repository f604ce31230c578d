package signer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"symbol":"BTC-USDT","side":"buy","amount":"0.5"}`)
	sig := Sign("secret", "1700000000000", "POST", "/v1/orders", body)

	assert.Len(t, sig, 64)
	assert.True(t, Verify("secret", "1700000000000", "POST", "/v1/orders", body, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	body := []byte(`{"amount":"1"}`)
	sig := Sign("secret", "1700000000000", "POST", "/v1/orders", body)

	assert.False(t, Verify("other", "1700000000000", "POST", "/v1/orders", body, sig))
	assert.False(t, Verify("secret", "1700000000001", "POST", "/v1/orders", body, sig))
	assert.False(t, Verify("secret", "1700000000000", "PUT", "/v1/orders", body, sig))
	assert.False(t, Verify("secret", "1700000000000", "POST", "/v1/orders/", body, sig))
	assert.False(t, Verify("secret", "1700000000000", "POST", "/V1/orders", body, sig))
	assert.False(t, Verify("secret", "1700000000000", "POST", "/v1/orders", []byte(`{"amount":"2"}`), sig))
	assert.False(t, Verify("secret", "1700000000000", "POST", "/v1/orders", body, "zz-not-hex"))
	assert.False(t, Verify("secret", "1700000000000", "POST", "/v1/orders", body, ""))
}

func TestPayloadOrder(t *testing.T) {
	assert.Equal(t, "123GET/v1/x?a=1", string(Payload("123", "get", "/v1/x?a=1", nil)))
}

func TestCredentialsHeaders(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	creds := Credentials{APIKey: "k", Secret: "s"}
	h := creds.Headers(now, "GET", "/api/balance", nil)

	assert.Equal(t, "k", h[HeaderAPIKey])
	assert.Equal(t, "1700000000000", h[HeaderTimestamp])
	assert.True(t, Verify("s", "1700000000000", "GET", "/api/balance", nil, h[HeaderSignature]))
	_, hasPass := h[HeaderPassphrase]
	assert.False(t, hasPass)

	creds.Passphrase = "p"
	assert.Equal(t, "p", creds.Headers(now, "GET", "/", nil)[HeaderPassphrase])
}

func BenchmarkVerify(b *testing.B) {
	body := []byte(`{"symbol":"ETH-USDT","side":"sell","kind":"limit","price":"3000","amount":"1"}`)
	sig := Sign("secret", "1700000000000", "POST", "/v1/orders", body)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Verify("secret", "1700000000000", "POST", "/v1/orders", body, sig)
	}
}
