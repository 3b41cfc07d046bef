package negotiation

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
)

func TestBuildBanner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if banner := buildBanner(ctx, f.svc, ""); banner != "" {
		t.Errorf("expected empty banner without user, got %q", banner)
	}
	if banner := buildBanner(ctx, f.svc, "u1"); banner != "" {
		t.Errorf("expected empty banner without notifications, got %q", banner)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Notify(ctx, app.NotificationInput{UserID: "u1", Type: domain.NotificationError, Title: "Agent error"}); err != nil {
			t.Fatal(err)
		}
	}
	banner := buildBanner(ctx, f.svc, "u1")
	if !strings.Contains(banner, "2 unread notification(s)") || !strings.Contains(banner, "list_notifications") {
		t.Errorf("unexpected banner %q", banner)
	}
}

func TestPiggyback_AppendsBanner(t *testing.T) {
	f := newFixture(t)
	f.create(t, "u1")
	if _, err := f.svc.Notify(context.Background(), app.NotificationInput{UserID: "u1", Type: domain.NotificationError, Title: "Agent error"}); err != nil {
		t.Fatal(err)
	}

	result, err := callTool(t, f.server, "list_negotiations", map[string]any{"user_id": "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); !strings.Contains(text, "1 unread notification(s)") {
		t.Errorf("expected banner in response:\n%s", text)
	}

	result, err = callTool(t, f.server, "list_negotiations", map[string]any{"user_id": "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); strings.Contains(text, "unread notification") {
		t.Errorf("banner leaked to another user:\n%s", text)
	}
}

func TestAppendBannerToResult(t *testing.T) {
	result := mcp.NewToolResultText("hello")
	appendBannerToResult(result, " world")
	if tc, ok := result.Content[0].(mcp.TextContent); !ok || tc.Text != "hello world" {
		t.Errorf("banner not appended: %+v", result.Content)
	}

	empty := &mcp.CallToolResult{}
	appendBannerToResult(empty, "banner")
	if len(empty.Content) != 1 {
		t.Fatalf("expected a new text block, got %d", len(empty.Content))
	}
}
