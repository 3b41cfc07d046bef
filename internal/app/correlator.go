package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"github.com/loadline/negotiator/internal/domain"
)

// InboundEmail is the payload of the inbound email webhook.
type InboundEmail struct {
	Timestamp string
	Token     string
	Signature string
	Recipient string
	Sender    string
	Subject   string
	BodyPlain string
	MessageID string
}

// IngestStatus is the result class of an inbound email.
type IngestStatus string

const (
	IngestAccepted     IngestStatus = "accepted"
	IngestDuplicate    IngestStatus = "duplicate"
	IngestRejected     IngestStatus = "rejected"
	IngestUnauthorized IngestStatus = "unauthorized"
)

// IngestResult reports what happened to an inbound email.
type IngestResult struct {
	Status        IngestStatus `json:"status"`
	NegotiationID string       `json:"negotiationId,omitempty"`
	MessageID     string       `json:"messageId,omitempty"`
	AgentQueued   bool         `json:"agentQueued,omitempty"`
	Error         string       `json:"error,omitempty"`
}

var errDuplicateEmail = errors.New("duplicate email")

// Correlator maps inbound emails onto negotiations: authenticate, route by the
// reply+<id>@<domain> address, deduplicate on Message-ID, append, and re-trigger the agent.
type Correlator struct {
	svc       *NegotiationService
	verifier  *WebhookVerifier
	scheduler TaskScheduler
	domain    string
	logger    *log.Logger
}

// NewCorrelator returns a new Correlator.
func NewCorrelator(svc *NegotiationService, verifier *WebhookVerifier, scheduler TaskScheduler, p Policy, logger *log.Logger) *Correlator {
	return &Correlator{
		svc:       svc,
		verifier:  verifier,
		scheduler: scheduler,
		domain:    p.ReplyDomain(),
		logger:    logger,
	}
}

// Ingest processes one inbound email. A non-nil error means an internal failure the
// provider should retry; everything else is reported through IngestResult.
func (c *Correlator) Ingest(ctx context.Context, ev InboundEmail) (IngestResult, error) {
	if err := c.verifier.Verify(ev.Timestamp, ev.Token, ev.Signature); err != nil {
		switch {
		case errors.Is(err, ErrWebhookNotConfigured):
			return IngestResult{}, err
		case errors.Is(err, ErrWebhookMalformed):
			c.logger.Printf("Correlator: rejected event: %v", err)
			return IngestResult{Status: IngestRejected, Error: err.Error()}, nil
		default:
			c.logger.Printf("Correlator: unauthorized event: %v", err)
			return IngestResult{Status: IngestUnauthorized, Error: err.Error()}, nil
		}
	}

	negotiationID, ok := ParseReplyAddress(ev.Recipient, c.domain)
	if !ok {
		c.logger.Printf("Correlator: recipient %q does not match reply+<id>@%s", ev.Recipient, c.domain)
		return IngestResult{Status: IngestRejected, Error: "recipient is not a negotiation reply address"}, nil
	}

	emailMessageID := NormalizeMessageID(ev.MessageID)
	from := senderAddress(ev.Sender)
	msgID := newLogID()
	var (
		runnable bool
		storedID string
	)

	err := c.svc.Run(ctx, negotiationID, func(n *domain.Negotiation) error {
		runnable = n.AgentRunnable() && n.AgentState == domain.AgentRunning
		if stored, ok := n.FindEmailMessage(emailMessageID); ok {
			// A redelivery after a failed schedule must still get its answer.
			storedID = stored.ID
			runnable = runnable && stored.Sender != domain.SenderAgent && !answeredAfter(n, stored.ID)
			return errDuplicateEmail
		}
		n.AppendMessage(domain.Message{
			ID:             msgID,
			Sender:         domain.EmailSender(from),
			Content:        strings.TrimSpace(ev.BodyPlain),
			Timestamp:      c.svc.Now(),
			EmailMessageID: emailMessageID,
		})
		if emailMessageID != "" {
			n.LastEmailMessageID = emailMessageID
		}
		if n.EmailSubject == "" && ev.Subject != "" {
			n.EmailSubject = stripReplyPrefix(ev.Subject)
		}
		return nil
	})
	switch {
	case errors.Is(err, errDuplicateEmail):
		c.logger.Printf("Correlator: duplicate Message-ID %s for negotiation %s ignored", emailMessageID, negotiationID)
		res := IngestResult{Status: IngestDuplicate, NegotiationID: negotiationID, MessageID: storedID}
		if runnable {
			if err := c.scheduler.ScheduleAgentRun(ctx, negotiationID, "email:"+emailMessageID, storedID); err != nil {
				return res, err
			}
			res.AgentQueued = true
		}
		return res, nil
	case errors.Is(err, ErrNotFound):
		c.logger.Printf("Correlator: negotiation %s not found", negotiationID)
		return IngestResult{Status: IngestRejected, NegotiationID: negotiationID, Error: "negotiation not found"}, nil
	case err != nil:
		return IngestResult{}, fmt.Errorf("ingest email: %w", err)
	}

	res := IngestResult{Status: IngestAccepted, NegotiationID: negotiationID, MessageID: msgID}
	if runnable {
		ref := "email:" + emailMessageID
		if emailMessageID == "" {
			ref = "message:" + msgID
		}
		if err := c.scheduler.ScheduleAgentRun(ctx, negotiationID, ref, msgID); err != nil {
			return res, err
		}
		res.AgentQueued = true
	}
	c.logger.Printf("Correlator: email from %s appended to negotiation %s (agent queued=%v)", from, negotiationID, res.AgentQueued)
	return res, nil
}

// ReplyAddress returns the routing address for a negotiation.
func ReplyAddress(negotiationID, domain string) string {
	return "reply+" + negotiationID + "@" + domain
}

// ParseReplyAddress extracts the negotiation id from reply+<id>@<domain>. When domain
// is empty any domain is accepted. Lists of recipients are searched in order.
func ParseReplyAddress(recipient, domain string) (string, bool) {
	for _, addr := range recipientAddresses(recipient) {
		addr = strings.ToLower(addr)
		at := strings.LastIndex(addr, "@")
		if at < 0 {
			continue
		}
		local, host := addr[:at], addr[at+1:]
		if domain != "" && host != strings.ToLower(domain) {
			continue
		}
		if !strings.HasPrefix(local, "reply+") {
			continue
		}
		if id := strings.TrimPrefix(local, "reply+"); id != "" {
			return id, true
		}
	}
	return "", false
}

// NormalizeMessageID strips whitespace and angle brackets from a Message-ID header value.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// recipientAddresses splits a recipient header into bare addresses. Values that are
// not valid RFC 5322 lists fall back to a plain comma split.
func recipientAddresses(recipient string) []string {
	if list, err := mail.ParseAddressList(recipient); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(recipient, ",") {
		out = append(out, senderAddress(part))
	}
	return out
}

func senderAddress(s string) string {
	s = strings.TrimSpace(s)
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}
	return s
}

func stripReplyPrefix(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(lower, "fwd:"):
			s = strings.TrimSpace(s[4:])
		default:
			return s
		}
	}
}
