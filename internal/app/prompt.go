package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loadline/negotiator/internal/domain"
)

// PromptInput is the context the agent prompt is built from.
type PromptInput struct {
	Negotiation *domain.Negotiation
	Config      domain.AgentConfig
	PricePerKm  *float64
}

var styleGuidance = map[domain.Style]string{
	domain.StyleConservative: "Be polite and patient. Move toward the target in small steps and never risk losing the deal.",
	domain.StyleBalanced:     "Be professional and firm. Make reasonable concessions only when the counterparty moves too.",
	domain.StyleAggressive:   "Be direct and assertive. Hold your position and push hard for the target price.",
}

// BuildPrompt renders the instruction for one agent turn. The model must answer with
// a single JSON object; see AgentReply.
func BuildPrompt(in PromptInput) string {
	n := in.Negotiation
	req := n.InitialRequest
	var b strings.Builder

	b.WriteString("You negotiate freight prices by email on behalf of a logistics user.\n\n")
	b.WriteString("## Freight request\n")
	fmt.Fprintf(&b, "- Route: %s\n", req.Route())
	fmt.Fprintf(&b, "- Distance: %s\n", orDefault(req.Distance, "unknown"))
	fmt.Fprintf(&b, "- Initial price: %s\n", orDefault(req.Price, "unknown"))
	if req.LoadType != "" {
		fmt.Fprintf(&b, "- Load type: %s\n", req.LoadType)
	}
	if req.Weight != "" {
		fmt.Fprintf(&b, "- Weight: %s\n", req.Weight)
	}
	if req.PickupDate != "" {
		fmt.Fprintf(&b, "- Pickup date: %s\n", req.PickupDate)
	}
	if req.ContactName != "" {
		fmt.Fprintf(&b, "- Contact: %s\n", req.ContactName)
	}

	b.WriteString("\n## Goal\n")
	if n.AgentTargetPricePerKm != nil {
		fmt.Fprintf(&b, "- Target price: %.2f EUR per km", *n.AgentTargetPricePerKm)
		if km, ok := domain.ParseDistanceKm(req.Distance); ok {
			fmt.Fprintf(&b, " (about %s total)", domain.FormatPrice(*n.AgentTargetPricePerKm*km))
		}
		b.WriteString("\n")
	}
	if in.PricePerKm != nil {
		fmt.Fprintf(&b, "- Current price: %.2f EUR per km\n", *in.PricePerKm)
	}
	fmt.Fprintf(&b, "- Style: %s. %s\n", in.Config.Style, styleGuidance[in.Config.Style])

	if isFirstContact(n) {
		b.WriteString("\n## Task\n")
		b.WriteString("This is the first contact. Write a short opening email that references the request and proposes a price toward the target.\n")
	} else {
		b.WriteString("\n## Conversation so far\n")
		for _, m := range n.Messages {
			fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.UTC().Format("2006-01-02 15:04"), m.Sender, m.Content)
		}
		if len(n.CounterOffers) > 0 {
			b.WriteString("\n## Counter-offers\n")
			for _, o := range n.CounterOffers {
				fmt.Fprintf(&b, "- %s by %s (%s)\n", domain.FormatPrice(o.Price), o.ProposedBy, o.Status)
			}
		}
		fmt.Fprintf(&b, "\nThis is round %d. Reply to the latest message from the counterparty.\n", domain.RoundEstimate(len(n.Messages))+1)
	}

	b.WriteString("\n## Response format\n")
	b.WriteString("Respond with only a JSON object, no prose:\n")
	b.WriteString(`{"action": "send_message" | "needs_review", "messageContent": "<email body, required for send_message>", "reason": "<short explanation>", `)
	b.WriteString(`"signals": {"targetReached": bool, "agreement": bool, "priceChange": bool, "newTerms": bool, "confusion": bool, "refusal": bool}}`)
	b.WriteString("\nUse needs_review when a human must decide. Set each signal from the counterparty's latest message.\n")
	return b.String()
}

func isFirstContact(n *domain.Negotiation) bool {
	for _, m := range n.Messages {
		if !m.IsSystem() {
			return false
		}
	}
	return true
}

// AgentReply is the JSON contract of the model's answer.
type AgentReply struct {
	Action         Action  `json:"action"`
	MessageContent string  `json:"messageContent,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	Signals        Signals `json:"signals"`
}

// ParseAgentReply decodes the model output, tolerating a surrounding markdown code fence.
func ParseAgentReply(raw string) (AgentReply, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}
	var r AgentReply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return AgentReply{}, fmt.Errorf("decode agent reply: %w", err)
	}
	switch r.Action {
	case ActionSendMessage:
		if strings.TrimSpace(r.MessageContent) == "" {
			return AgentReply{}, fmt.Errorf("agent reply: send_message without messageContent")
		}
	case ActionNeedsReview, ActionError:
	default:
		return AgentReply{}, fmt.Errorf("agent reply: unknown action %q", r.Action)
	}
	return r, nil
}
