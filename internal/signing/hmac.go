// Package signing implements the constant-time HMAC-SHA-256 verification
// used for queued sponsorship requests (spec §4.6, §6) and inbound
// protocol webhooks. Grounded on the HMAC pattern in
// josephblackelite-nhbchain's escrow-gateway authenticator: a keyed MAC
// over a canonical payload string, compared with crypto/hmac.Equal.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrStaleTimestamp is returned when a signed payload's timestamp falls
// outside the allowed skew window, in either direction.
var ErrStaleTimestamp = errors.New("signing: timestamp outside allowed skew")

// ErrBadSignature is returned when the provided signature does not match.
var ErrBadSignature = errors.New("signing: signature mismatch")

const requestSkew = 5 * time.Minute
const webhookMaxAge = 5 * time.Minute

// requestPayload builds the exact signed string for a queued sponsorship
// request signature: "<agentAddress>:<protocolId>:<timestampMs>".
func requestPayload(agentAddress, protocolID string, timestampMs int64) string {
	return fmt.Sprintf("%s:%s:%d", agentAddress, protocolID, timestampMs)
}

func hmacHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest computes the 64-hex HMAC-SHA-256 signature for a queued
// sponsorship request.
func SignRequest(secret, agentAddress, protocolID string, timestampMs int64) string {
	return hmacHex(secret, requestPayload(agentAddress, protocolID, timestampMs))
}

// VerifyRequest checks a queued sponsorship request's signature and
// timestamp skew (spec §4.6 step 1). Comparison is constant-time;
// the timestamp check rejects both stale and future-dated signatures to
// bound the replay window on both sides (spec §9).
func VerifyRequest(secret, agentAddress, protocolID, signature string, timestampMs int64, now time.Time) error {
	age := now.Sub(time.UnixMilli(timestampMs))
	if age < 0 {
		age = -age
	}
	if age > requestSkew {
		return ErrStaleTimestamp
	}
	expected := hmacHex(secret, requestPayload(agentAddress, protocolID, timestampMs))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// webhookPayload builds the exact signed string for an inbound protocol
// webhook: "<timestamp>.<body>".
func webhookPayload(timestamp string, body []byte) string {
	return timestamp + "." + string(body)
}

// SignWebhook computes the hex HMAC-SHA-256 signature for an outbound
// webhook call, for symmetry with VerifyWebhook and for tests.
func SignWebhook(secret string, timestamp int64, body []byte) string {
	return hmacHex(secret, webhookPayload(strconv.FormatInt(timestamp, 10), body))
}

// VerifyWebhook checks an inbound webhook's X-Aegis-Signature against the
// computed HMAC over "<timestamp>.<body>", and rejects a timestamp more
// than 5 minutes old or in the future (spec §6).
func VerifyWebhook(secret, timestampHeader, signatureHeader string, body []byte, now time.Time) error {
	tsSeconds, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("signing: invalid timestamp header: %w", err)
	}
	ts := time.Unix(tsSeconds, 0)
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	if age > webhookMaxAge {
		return ErrStaleTimestamp
	}
	expected := hmacHex(secret, webhookPayload(timestampHeader, body))
	if !hmac.Equal([]byte(strings.ToLower(signatureHeader)), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}
