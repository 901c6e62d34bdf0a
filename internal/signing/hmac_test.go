package signing

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestSignature_RoundTrip(t *testing.T) {
	secret := "protocol-secret"
	now := time.Now()
	ts := now.UnixMilli()
	sig := SignRequest(secret, "0xagent", "acme", ts)

	err := VerifyRequest(secret, "0xagent", "acme", sig, ts, now)
	assert.NoError(t, err)
}

func TestRequestSignature_WrongSecretFails(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	sig := SignRequest("correct-secret", "0xagent", "acme", ts)

	err := VerifyRequest("wrong-secret", "0xagent", "acme", sig, ts, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRequestSignature_TamperedFieldFails(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	sig := SignRequest("secret", "0xagent", "acme", ts)

	err := VerifyRequest("secret", "0xother-agent", "acme", sig, ts, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRequestSignature_SkewRejectedSymmetrically(t *testing.T) {
	secret := "secret"
	now := time.Now()

	t.Run("too old", func(t *testing.T) {
		ts := now.Add(-10 * time.Minute).UnixMilli()
		sig := SignRequest(secret, "0xagent", "acme", ts)
		err := VerifyRequest(secret, "0xagent", "acme", sig, ts, now)
		assert.ErrorIs(t, err, ErrStaleTimestamp)
	})

	t.Run("too far in the future", func(t *testing.T) {
		ts := now.Add(10 * time.Minute).UnixMilli()
		sig := SignRequest(secret, "0xagent", "acme", ts)
		err := VerifyRequest(secret, "0xagent", "acme", sig, ts, now)
		assert.ErrorIs(t, err, ErrStaleTimestamp)
	})

	t.Run("within the skew window", func(t *testing.T) {
		ts := now.Add(4 * time.Minute).UnixMilli()
		sig := SignRequest(secret, "0xagent", "acme", ts)
		err := VerifyRequest(secret, "0xagent", "acme", sig, ts, now)
		assert.NoError(t, err)
	})
}

func TestWebhookSignature_RoundTrip(t *testing.T) {
	secret := "webhook-secret"
	now := time.Now()
	body := []byte(`{"event":"budget.topped_up"}`)
	ts := now.Unix()
	header := formatTimestamp(ts)
	sig := SignWebhook(secret, ts, body)

	err := VerifyWebhook(secret, header, sig, body, now)
	assert.NoError(t, err)
}

func TestWebhookSignature_StaleRejected(t *testing.T) {
	secret := "webhook-secret"
	now := time.Now()
	body := []byte(`{}`)
	ts := now.Add(-10 * time.Minute).Unix()
	header := formatTimestamp(ts)
	sig := SignWebhook(secret, ts, body)

	err := VerifyWebhook(secret, header, sig, body, now)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func formatTimestamp(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
