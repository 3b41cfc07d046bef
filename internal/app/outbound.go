package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/loadline/negotiator/internal/domain"
)

// OutboundEmail is one message handed to the mail transport. Message ids are bare
// (no angle brackets); the transport adds them to headers.
type OutboundEmail struct {
	UserID    string
	From      string
	To        string
	Cc        []string
	ReplyTo   string
	Subject   string
	Body      string
	MessageID string
	InReplyTo string
	ThreadID  string
}

// SendReceipt is what the transport reports after a successful send. MessageID is the
// RFC 5322 Message-ID the provider delivered with, or "" when it could not be read back.
type SendReceipt struct {
	ProviderMessageID string
	MessageID         string
	ThreadID          string
}

// Mailer sends email. Implemented by internal/mail/gmail.
type Mailer interface {
	Send(ctx context.Context, msg OutboundEmail) (SendReceipt, error)
}

// OutboundSender delivers conversation messages by email for send_email tasks.
type OutboundSender struct {
	svc    *NegotiationService
	mailer Mailer
	policy Policy
	logger *log.Logger
}

// NewOutboundSender returns a new OutboundSender.
func NewOutboundSender(svc *NegotiationService, mailer Mailer, p Policy, logger *log.Logger) *OutboundSender {
	return &OutboundSender{svc: svc, mailer: mailer, policy: p, logger: logger}
}

// HandleTask sends the task's message. Delivery failures pause an active agent with
// an error instead of retrying; store failures are returned for retry.
func (o *OutboundSender) HandleTask(ctx context.Context, t domain.Task) error {
	var (
		n   *domain.Negotiation
		msg domain.Message
		ok  bool
	)
	err := o.svc.Query(ctx, t.NegotiationID, func(neg *domain.Negotiation) error {
		n = neg
		msg, ok = neg.FindMessage(t.MessageID)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		o.logger.Printf("Outbound: negotiation %s not found, dropping email", t.NegotiationID)
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		o.logger.Printf("Outbound: message %s not found in negotiation %s, dropping", t.MessageID, t.NegotiationID)
		return nil
	}
	if msg.EmailMessageID != "" {
		return nil
	}

	email, err := o.compose(n, msg)
	if err != nil {
		o.logger.Printf("Outbound: negotiation %s: %v", n.ID, err)
		o.failed(ctx, n, msg, err)
		return nil
	}

	receipt, err := o.mailer.Send(ctx, email)
	if err != nil {
		o.logger.Printf("Outbound: send for negotiation %s failed: %v", n.ID, err)
		o.failed(ctx, n, msg, err)
		return nil
	}

	// Replies from the carrier reference the id the provider actually sent with.
	sentID := NormalizeMessageID(receipt.MessageID)
	if sentID == "" {
		sentID = email.MessageID
	}
	err = o.svc.Run(ctx, n.ID, func(neg *domain.Negotiation) error {
		neg.RecordOutboundEmail(msg.ID, sentID, receipt.ThreadID, o.svc.Now())
		if neg.EmailSubject == "" {
			neg.EmailSubject = stripReplyPrefix(email.Subject)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record sent email: %w", err)
	}
	o.logger.Printf("Outbound: message %s sent to %s as %s (provider id %s, thread %s)", msg.ID, email.To, sentID, receipt.ProviderMessageID, receipt.ThreadID)
	return nil
}

func (o *OutboundSender) compose(n *domain.Negotiation, msg domain.Message) (OutboundEmail, error) {
	to := n.InitialRequest.ContactEmail
	if to == "" {
		return OutboundEmail{}, errors.New("no contact email on the freight request")
	}
	replyDomain := o.policy.ReplyDomain()
	if replyDomain == "" {
		replyDomain = "negotiator.local"
	}

	subject := n.EmailSubject
	if subject == "" {
		subject = "Freight request " + n.InitialRequest.Route()
	}
	if n.LastEmailMessageID != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	return OutboundEmail{
		UserID:    n.UserID,
		From:      o.policy.Mail().FromAddress,
		To:        to,
		Cc:        n.EmailCcRecipients,
		ReplyTo:   ReplyAddress(n.ID, replyDomain),
		Subject:   subject,
		Body:      msg.Content,
		MessageID: strings.ToLower(newLogID()) + "@" + replyDomain,
		InReplyTo: n.LastEmailMessageID,
		ThreadID:  n.EmailThreadID,
	}, nil
}

// failed pauses the agent when its own message could not be delivered.
func (o *OutboundSender) failed(ctx context.Context, n *domain.Negotiation, msg domain.Message, cause error) {
	if msg.Sender != domain.SenderAgent {
		return
	}
	reason := fmt.Sprintf("Email delivery failed: %v", cause)
	if _, err := o.svc.pauseAgent(ctx, n.ID, domain.AgentError, reason, domain.TriggerDelivery); err != nil {
		o.logger.Printf("Outbound: pause agent for negotiation %s: %v", n.ID, err)
	}
}
