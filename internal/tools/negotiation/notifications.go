package negotiation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
)

// registerListNotifications registers the list_notifications tool.
func registerListNotifications(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the user's notifications, newest first. Agents pausing for review or failing raise one."),
			mcp.WithBoolean("unread_only", mcp.Description("Only show unread notifications (default true)")),
			mcp.WithString("user_id", mcp.Description(userIDDescription)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := resolveUser(ctx, args, registry)
			if err != nil {
				return nil, err
			}
			unreadOnly := optionalBool(args, "unread_only", true)
			list, err := svc.ListNotifications(ctx, userID, unreadOnly)
			if err != nil {
				return nil, err
			}
			if len(list) == 0 {
				return mcp.NewToolResultText("No notifications."), nil
			}
			var buf strings.Builder
			fmt.Fprintf(&buf, "%d notification(s):\n", len(list))
			for _, n := range list {
				mark := " "
				if !n.Read {
					mark = "*"
				}
				fmt.Fprintf(&buf, "%s %s [%s] %s: %s (negotiation %s)\n",
					mark, n.ID, n.Type, n.Title, app.Truncate(n.Content, 120), n.SourceID)
			}
			return mcp.NewToolResultText(buf.String()), nil
		},
	)
}

// registerMarkNotificationRead registers the mark_notification_read tool.
func registerMarkNotificationRead(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("mark_notification_read",
			mcp.WithDescription("Mark a notification as read."),
			mcp.WithString("notification_id", mcp.Required(), mcp.Description("Notification ID")),
			mcp.WithString("user_id", mcp.Description(userIDDescription)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := resolveUser(ctx, args, registry)
			if err != nil {
				return nil, err
			}
			id, err := requireString(args, "notification_id")
			if err != nil {
				return nil, err
			}
			if err := svc.MarkNotificationRead(ctx, userID, id); err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("Notification %s marked as read.", id)), nil
		},
	)
}
