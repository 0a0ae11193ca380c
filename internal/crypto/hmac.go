// Package crypto provides HMAC request signing for the Bybit and KuCoin
// futures APIs and encrypted at-rest storage for API secrets.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// bybitRecvWindow is the request validity window in milliseconds that Bybit
// enforces against the signed timestamp.
const bybitRecvWindow = "5000"

// BybitAuth holds the credentials for Bybit v5 signed requests.
type BybitAuth struct {
	Key    string
	Secret string
}

// Headers returns the HTTP headers for a signed Bybit v5 request. payload is
// the raw query string for GET requests or the JSON body for POST requests.
// The signature is HMAC-SHA256(secret, timestamp+key+recvWindow+payload)
// encoded as lowercase hex.
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (a *BybitAuth) Headers(payload string) map[string]string {
	return a.HeadersAt(payload, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (a *BybitAuth) HeadersAt(payload string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)

	message := ts + a.Key + bybitRecvWindow + payload
	sig := hmacSHA256Hex([]byte(a.Secret), message)

	return map[string]string{
		"X-BAPI-API-KEY":     a.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": bybitRecvWindow,
		"X-BAPI-SIGN":        sig,
	}
}

// String returns a redacted representation suitable for logging.
func (a *BybitAuth) String() string {
	return fmt.Sprintf("BybitAuth{key=%s, secret=%s}", redactCred(a.Key), redactCred(a.Secret))
}

// KuCoinAuth holds the credentials for KuCoin futures signed requests.
type KuCoinAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// Headers returns the HTTP headers for a signed KuCoin futures API request.
// The signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded
// as base64; the passphrase is itself HMAC-signed per KC-API-KEY-VERSION 2.
//
// Returned header keys:
//   - KC-API-KEY
//   - KC-API-SIGN
//   - KC-API-TIMESTAMP
//   - KC-API-PASSPHRASE
//   - KC-API-KEY-VERSION
func (a *KuCoinAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (a *KuCoinAuth) HeadersAt(method, path, body string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(a.Secret), message)
	passphrase := hmacSHA256Base64([]byte(a.Secret), a.Passphrase)

	return map[string]string{
		"KC-API-KEY":         a.Key,
		"KC-API-SIGN":        sig,
		"KC-API-TIMESTAMP":   ts,
		"KC-API-PASSPHRASE":  passphrase,
		"KC-API-KEY-VERSION": "2",
	}
}

// String returns a redacted representation suitable for logging.
func (a *KuCoinAuth) String() string {
	return fmt.Sprintf("KuCoinAuth{key=%s, secret=%s}", redactCred(a.Key), redactCred(a.Secret))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func redactCred(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
