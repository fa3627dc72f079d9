package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer computes the HMAC-SHA256 signature headers for authenticated REST
// calls. The full signing layer — key management, rotation, per-
// exchange header naming — is explicitly out of scope; this is the
// minimal primitive the out-of-scope layer would call.
type Signer struct {
	apiKey       string
	apiSecret    string
	recvWindowMs int64
}

// NewSigner wraps opaque api_key/api_secret handles.
func NewSigner(apiKey, apiSecret string, recvWindowMs int64) *Signer {
	if recvWindowMs <= 0 {
		recvWindowMs = 5000
	}
	return &Signer{apiKey: apiKey, apiSecret: apiSecret, recvWindowMs: recvWindowMs}
}

// SignedHeaders computes timestamp ∥ api_key ∥ recv_window ∥ payload and
// returns the header set a REST client should attach to the request.
func (s *Signer) SignedHeaders(payload string) map[string]string {
	ts := time.Now().UnixMilli()
	message := fmt.Sprintf("%d%s%d%s", ts, s.apiKey, s.recvWindowMs, payload)

	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(message))
	sig := hex.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-MKT-APIKEY":     s.apiKey,
		"X-MKT-TIMESTAMP":  fmt.Sprintf("%d", ts),
		"X-MKT-RECVWINDOW": fmt.Sprintf("%d", s.recvWindowMs),
		"X-MKT-SIGNATURE":  sig,
	}
}

// HasCredentials reports whether both key and secret are configured.
func (s *Signer) HasCredentials() bool {
	return s.apiKey != "" && s.apiSecret != ""
}
