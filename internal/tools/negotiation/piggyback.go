package negotiation

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
)

// suppressBannerTools lists tools that already display notification state.
var suppressBannerTools = map[string]struct{}{
	"list_notifications":     {},
	"mark_notification_read": {},
	"identify":               {},
}

// PiggybackMiddleware returns a mcp-go ToolHandlerMiddleware that appends a
// banner to tool responses when the acting user has unread notifications.
// It also records session activity in the registry.
func PiggybackMiddleware(svc *app.NegotiationService, registry *app.SessionRegistry) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if session := server.ClientSessionFromContext(ctx); session != nil && registry != nil {
				registry.TouchSession(session.SessionID())
			}

			result, err := next(ctx, req)
			if err != nil || result == nil {
				return result, err
			}
			if result.IsError {
				return result, nil
			}
			if _, suppress := suppressBannerTools[req.Params.Name]; suppress {
				return result, nil
			}

			userID, _ := req.GetArguments()["user_id"].(string)
			if userID == "" {
				userID = userFromSession(ctx, registry)
			}
			banner := buildBanner(ctx, svc, userID)
			if banner == "" {
				return result, nil
			}
			appendBannerToResult(result, banner)
			return result, nil
		}
	}
}

// buildBanner returns a notice about the user's unread notifications, or "".
func buildBanner(ctx context.Context, svc *app.NegotiationService, userID string) string {
	if userID == "" {
		return ""
	}
	unread, err := svc.ListNotifications(ctx, userID, true)
	if err != nil || len(unread) == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n---\nYou have %d unread notification(s). Call list_notifications to see them.", len(unread))
}

// appendBannerToResult appends text to the last text content block, or adds a new one.
func appendBannerToResult(result *mcp.CallToolResult, banner string) {
	for i := len(result.Content) - 1; i >= 0; i-- {
		if tc, ok := result.Content[i].(mcp.TextContent); ok {
			result.Content[i] = mcp.TextContent{
				Annotated: tc.Annotated,
				Type:      "text",
				Text:      tc.Text + banner,
			}
			return
		}
	}
	result.Content = append(result.Content, mcp.TextContent{
		Type: "text",
		Text: banner,
	})
}
