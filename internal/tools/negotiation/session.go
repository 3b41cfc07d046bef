package negotiation

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
)

// registerIdentify registers the identify tool.
func registerIdentify(s *server.MCPServer, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("identify",
			mcp.WithDescription("Bind this session to a user. Later tool calls act for that user when user_id is omitted."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("The user whose negotiations this session manages")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			userID, err := requireString(req.GetArguments(), "user_id")
			if err != nil {
				return nil, err
			}
			session := server.ClientSessionFromContext(ctx)
			if session == nil {
				return nil, fmt.Errorf("identify requires a client session")
			}
			registry.SetUser(session.SessionID(), userID)
			logger.Printf("MCP: session %s bound to user %s", session.SessionID(), userID)
			return mcp.NewToolResultText(fmt.Sprintf("Session bound to user %s.", userID)), nil
		},
	)
}
