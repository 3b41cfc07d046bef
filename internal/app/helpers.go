package app

import (
	"fmt"
	"strings"

	"github.com/loadline/negotiator/internal/domain"
)

// Truncate truncates s to max runes (Unicode-safe).
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// AgentStatusLabel describes the agent sub-state in a few words.
func AgentStatusLabel(n *domain.Negotiation) string {
	if !n.IsAgentActive {
		return "off"
	}
	switch n.AgentState {
	case domain.AgentNeedsReview:
		return "needs review (" + string(n.AgentTrigger) + ")"
	case domain.AgentError:
		return "error"
	}
	return "running"
}

// SummarizeNegotiation renders a plain-text overview of a negotiation with its
// most recent messages. recent <= 0 omits the conversation.
func SummarizeNegotiation(n *domain.Negotiation, recent int) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Negotiation %s [%s]\n", n.ID, n.Status)
	fmt.Fprintf(&buf, "  Route: %s", n.InitialRequest.Route())
	if n.InitialRequest.Distance != "" {
		fmt.Fprintf(&buf, " (%s)", n.InitialRequest.Distance)
	}
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "  Initial price: %s\n", n.InitialRequest.Price)
	if n.CurrentPrice != nil {
		fmt.Fprintf(&buf, "  Current price: %s", domain.FormatPrice(*n.CurrentPrice))
		if perKm := domain.PricePerKm(n); perKm != nil {
			fmt.Fprintf(&buf, " (%.2f/km)", *perKm)
		}
		buf.WriteByte('\n')
	}
	if n.FinalPrice != "" {
		fmt.Fprintf(&buf, "  Final price: %s\n", n.FinalPrice)
	}
	fmt.Fprintf(&buf, "  Agent: %s", AgentStatusLabel(n))
	if n.AgentTargetPricePerKm != nil {
		fmt.Fprintf(&buf, ", target %.2f/km, %d replies", *n.AgentTargetPricePerKm, n.AgentReplyCount)
	}
	buf.WriteByte('\n')
	if n.AgentMessage != "" {
		fmt.Fprintf(&buf, "  Agent note: %s\n", Truncate(n.AgentMessage, 200))
	}
	fmt.Fprintf(&buf, "  Messages: %d, counter-offers: %d\n", n.MessageCount, len(n.CounterOffers))

	if recent <= 0 || len(n.Messages) == 0 {
		return buf.String()
	}
	start := len(n.Messages) - recent
	if start < 0 {
		start = 0
	}
	buf.WriteString("Recent messages:\n")
	for _, m := range n.Messages[start:] {
		fmt.Fprintf(&buf, "  [%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Sender, Truncate(m.Content, 100))
	}
	return buf.String()
}
