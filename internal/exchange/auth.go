// Package exchange implements the CLOB REST and WebSocket clients for the
// prediction-market venue, plus the spot-price feeds consumed by the
// aggregator.
//
// The REST client (Client) talks to the CLOB API for market data and order
// management:
//   - GetMarkets/GetMarket: GET /markets, /markets/{id}         — catalog reads
//   - GetBook:              GET /book?token_id=                 — L2 book for a token
//   - GetTrades:            GET /trades                         — recent fills
//   - GetPositions:         GET /positions                      — open venue positions
//   - PlaceOrder:           POST /order                          — place one order
//   - CancelOrder:          DELETE /order/{id}                   — cancel by ID
//   - CancelMarketOrders:   DELETE /orders?market=                — cancel all for a market
//
// Every mutating request is rate-limited via per-category TokenBuckets,
// automatically retried on 5xx errors, and authenticated with the venue's
// HMAC headers.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Credentials holds the API key triplet used to sign trading requests.
type Credentials struct {
	ApiKey     string
	Secret     string
	Passphrase string
}

// Auth computes the venue's single-layer HMAC signature for authenticated
// REST calls. Unlike a wallet-signing scheme, no private key or on-chain
// identity is involved: the secret is a plain shared string issued alongside
// the API key.
type Auth struct {
	creds Credentials
}

// NewAuth builds an Auth from API credentials. Secret is expected as a plain
// string (not base64), matching POLY_API_SECRET as issued by the venue.
func NewAuth(apiKey, secret, passphrase string) *Auth {
	return &Auth{creds: Credentials{ApiKey: apiKey, Secret: secret, Passphrase: passphrase}}
}

// HasCredentials reports whether all three credential fields are set.
func (a *Auth) HasCredentials() bool {
	return a.creds.ApiKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

// Headers computes POLY_API_KEY/POLY_PASSPHRASE/POLY_TIMESTAMP/POLY_SIGNATURE
// for one authenticated request. signature = HMAC-SHA256(secret,
// timestamp||method||path||body), hex-encoded.
func (a *Auth) Headers(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return map[string]string{
		"POLY_API_KEY":    a.creds.ApiKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_SIGNATURE":  a.sign(timestamp, method, path, body),
	}
}

func (a *Auth) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(a.creds.Secret))
	mac.Write([]byte(timestamp + method + path + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes a signature and compares it in constant time — used by
// tests and by any internal request-replay tooling, mirroring the check the
// venue itself performs.
func (a *Auth) Verify(method, path, body, timestamp, signature string) bool {
	want := a.sign(timestamp, method, path, body)
	if len(want) != len(signature) {
		return false
	}
	return hmac.Equal([]byte(want), []byte(signature))
}
