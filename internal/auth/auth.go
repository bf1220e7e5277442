// Package auth issues and verifies agent API keys and session tokens, and
// signs outbound webhook payloads. Grounded on
// 0xtitan6-polymarket-mm/internal/exchange/auth.go's buildHMAC, simplified
// to raw-hex secret encoding since there is no externally-issued secret
// format to accommodate here.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidToken is returned by VerifySessionToken for a malformed or
// mis-signed token.
var ErrInvalidToken = errors.New("auth: invalid session token")

// ErrExpiredToken is returned when a session token's embedded expiry has
// passed.
var ErrExpiredToken = errors.New("auth: session token expired")

// GenerateAPIKey returns a new random API key and its SHA-256 hash. The
// raw key is returned to the caller exactly once (at registration); only
// the hash is persisted.
func GenerateAPIKey() (key string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	key = hex.EncodeToString(buf)
	hash = HashAPIKey(key)
	return key, hash, nil
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey reports whether key hashes to the stored hash, in constant
// time.
func VerifyAPIKey(key, storedHash string) bool {
	return hmac.Equal([]byte(HashAPIKey(key)), []byte(storedHash))
}

// IssueSessionToken creates an HMAC-SHA256-signed session token of the
// form base64(payload).base64(hmac), where payload is
// "<agentID>:<expiryUnixSeconds>".
func IssueSessionToken(secret, agentID string, ttl time.Duration) string {
	payload := agentID + ":" + strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	payloadB64 := base64.RawURLEncoding.EncodeToString([]byte(payload))
	sig := sign(secret, payloadB64)
	return payloadB64 + "." + sig
}

// VerifySessionToken validates signature and expiry, returning the
// embedded agent ID on success.
func VerifySessionToken(secret, token string) (agentID string, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", ErrInvalidToken
	}
	payloadB64, sigB64 := parts[0], parts[1]

	expected := sign(secret, payloadB64)
	if !hmac.Equal([]byte(expected), []byte(sigB64)) {
		return "", ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", ErrInvalidToken
	}
	fields := strings.SplitN(string(payload), ":", 2)
	if len(fields) != 2 {
		return "", ErrInvalidToken
	}
	agentID, expiryStr := fields[0], fields[1]

	expiry, err := unixStringToTime(expiryStr)
	if err != nil {
		return "", ErrInvalidToken
	}
	if time.Now().After(expiry) {
		return "", ErrExpiredToken
	}
	return agentID, nil
}

// SignWebhookPayload returns the hex-encoded HMAC-SHA256 signature of body
// using the agent's webhook secret, for the X-WSS-Signature header.
func SignWebhookPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sign(secret, payloadB64 string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func unixStringToTime(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
