package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strconv"
	"time"
)

var (
	// ErrWebhookMalformed is returned when timestamp, token or signature is missing or unparseable.
	ErrWebhookMalformed = errors.New("webhook: missing or malformed signature fields")
	// ErrWebhookSignature is returned when the HMAC does not match.
	ErrWebhookSignature = errors.New("webhook: invalid signature")
	// ErrWebhookStale is returned for events outside the freshness window when it is enforced.
	ErrWebhookStale = errors.New("webhook: stale event")
	// ErrWebhookNotConfigured is returned when no signing key is configured.
	ErrWebhookNotConfigured = errors.New("webhook: signing key not configured")
)

// WebhookVerifier authenticates inbound email events signed with
// HMAC-SHA256(key, timestamp+token).
type WebhookVerifier struct {
	key     []byte
	window  time.Duration
	enforce bool
	logger  *log.Logger
	now     func() time.Time
}

// NewWebhookVerifier builds a verifier from policy.
func NewWebhookVerifier(p Policy, logger *log.Logger) *WebhookVerifier {
	return &WebhookVerifier{
		key:     []byte(p.WebhookSigningKey()),
		window:  p.FreshnessWindow(),
		enforce: p.EnforceFreshness(),
		logger:  logger,
		now:     time.Now,
	}
}

// SignWebhook computes the hex signature for timestamp and token.
func SignWebhook(key, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature in constant time and applies the freshness policy.
func (v *WebhookVerifier) Verify(timestamp, token, signature string) error {
	if len(v.key) == 0 {
		return ErrWebhookNotConfigured
	}
	if timestamp == "" || token == "" || signature == "" {
		return ErrWebhookMalformed
	}
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrWebhookMalformed
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrWebhookSignature
	}
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(timestamp + token))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrWebhookSignature
	}

	age := v.now().Sub(time.Unix(secs, 0))
	if age < 0 {
		age = -age
	}
	if age > v.window {
		if v.enforce {
			return ErrWebhookStale
		}
		v.logger.Printf("Webhook: event timestamp is %s old (window %s), accepting", age.Round(time.Second), v.window)
	}
	return nil
}
