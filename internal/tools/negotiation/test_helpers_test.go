package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
	"github.com/loadline/negotiator/internal/policy"
	"github.com/loadline/negotiator/internal/queue/memqueue"
	"github.com/loadline/negotiator/internal/repository/sqlstore"
)

type fixture struct {
	server   *server.MCPServer
	svc      *app.NegotiationService
	queue    *memqueue.Queue
	registry *app.SessionRegistry
}

// newFixture builds a service on a temporary SQLite store and an MCP server
// with all operator tools and the piggyback middleware registered.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlstore.New("sqlite", filepath.Join(t.TempDir(), "tools.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := log.New(io.Discard, "", 0)
	pol := policy.New(&policy.Config{AgentDefaults: policy.DefaultAgentDefaults()})
	svc := app.NewNegotiationService(store, store, store, pol, logger)
	q := memqueue.New()
	svc.SetScheduler(app.NewScheduler(q, "", logger))

	registry := app.NewSessionRegistry()
	s := server.NewMCPServer("test", "1.0.0",
		server.WithToolHandlerMiddleware(PiggybackMiddleware(svc, registry)),
	)
	Register(s, svc, logger, registry)
	return &fixture{server: s, svc: svc, queue: q, registry: registry}
}

func (f *fixture) create(t *testing.T, userID string) *domain.Negotiation {
	t.Helper()
	n, err := f.svc.CreateNegotiation(context.Background(), userID, app.CreateNegotiationInput{
		OfferID: "offer-1",
		InitialRequest: domain.InitialRequest{
			Origin:       "Berlin",
			Destination:  "Hamburg",
			Price:        "€1000",
			Distance:     "500 km",
			ContactEmail: "carrier@example.com",
		},
	})
	if err != nil {
		t.Fatalf("create negotiation: %v", err)
	}
	return n
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
// Returns the parsed CallToolResult or an error.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)

	respBytes, marshalErr := json.Marshal(respJSON)
	if marshalErr != nil {
		t.Fatalf("marshal response: %v", marshalErr)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	return &result, nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}
