package app

import (
	"time"

	"github.com/loadline/negotiator/internal/policy"
)

// Policy is the configuration port used by the application.
// Implemented by internal/policy.Policy.
type Policy interface {
	AgentDefaults() policy.AgentDefaults
	WebhookSigningKey() string
	ReplyDomain() string
	FreshnessWindow() time.Duration
	EnforceFreshness() bool
	SignalFilePath() string
	Mail() policy.MailConfig
}
