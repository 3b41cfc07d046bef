package app

import (
	"strings"
	"testing"
	"time"

	"github.com/loadline/negotiator/internal/domain"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		max    int
		expect string
	}{
		{"short string", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"truncate", "hello world", 5, "hello..."},
		{"empty", "", 5, ""},
		{"unicode", "€€€€", 2, "€€..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := Truncate(tc.input, tc.max)
			if result != tc.expect {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tc.input, tc.max, result, tc.expect)
			}
		})
	}
}

func TestAgentStatusLabel(t *testing.T) {
	now := time.Now()
	n := domain.NewNegotiation("n1", "o1", "u1", domain.InitialRequest{Price: "€1000"}, now)
	if got := AgentStatusLabel(n); got != "off" {
		t.Errorf("inactive agent: got %q", got)
	}
	if err := n.ActivateAgent(1.2, now); err != nil {
		t.Fatal(err)
	}
	if got := AgentStatusLabel(n); got != "running" {
		t.Errorf("active agent: got %q", got)
	}
	n.FlagAgent(domain.AgentNeedsReview, "check price", domain.TriggerPriceChange, now)
	if got := AgentStatusLabel(n); got != "needs review (price_change)" {
		t.Errorf("paused agent: got %q", got)
	}
	n.FlagAgent(domain.AgentError, "boom", domain.TriggerCompletion, now)
	if got := AgentStatusLabel(n); got != "error" {
		t.Errorf("failed agent: got %q", got)
	}
}

func TestSummarizeNegotiation(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	n := domain.NewNegotiation("n1", "o1", "u1", domain.InitialRequest{
		Origin:      "Berlin",
		Destination: "Hamburg",
		Price:       "€1000",
		Distance:    "500 km",
	}, now)
	for i := 0; i < 4; i++ {
		n.AppendMessage(domain.Message{ID: string(rune('a' + i)), Sender: domain.SenderUser, Content: "message " + string(rune('A'+i)), Timestamp: now})
	}

	out := SummarizeNegotiation(n, 2)
	for _, want := range []string{
		"Negotiation n1 [pending]",
		"Route: Berlin → Hamburg (500 km)",
		"Current price: €1000.00 (2.00/km)",
		"Agent: off",
		"Messages: 4, counter-offers: 0",
		"message C",
		"message D",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "message A") {
		t.Errorf("summary should only include the last 2 messages:\n%s", out)
	}

	if out := SummarizeNegotiation(n, 0); strings.Contains(out, "Recent messages") {
		t.Errorf("recent=0 should omit messages:\n%s", out)
	}
}
