package negotiation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
)

const userIDDescription = "Act for this user (defaults to the user bound by identify)"

// registerListNegotiations registers the list_negotiations tool.
func registerListNegotiations(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("list_negotiations",
			mcp.WithDescription("List the user's negotiations with status, current price and agent state."),
			mcp.WithString("user_id", mcp.Description(userIDDescription)),
			mcp.WithString("status", mcp.Description("Only show negotiations with this status: pending, accepted or rejected")),
			mcp.WithBoolean("needs_attention", mcp.Description("Only show negotiations whose agent is paused for review or failed")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := resolveUser(ctx, args, registry)
			if err != nil {
				return nil, err
			}
			status, _ := args["status"].(string)
			attention := optionalBool(args, "needs_attention", false)

			list, err := svc.ListNegotiations(ctx, userID)
			if err != nil {
				return nil, err
			}

			var buf strings.Builder
			shown := 0
			for _, n := range list {
				if status != "" && string(n.Status) != status {
					continue
				}
				if attention && (!n.IsAgentActive || n.AgentState == domain.AgentRunning) {
					continue
				}
				shown++
				price := n.InitialRequest.Price
				if n.CurrentPrice != nil {
					price = domain.FormatPrice(*n.CurrentPrice)
				}
				fmt.Fprintf(&buf, "%s [%s] %s, %s, agent %s, %d messages\n",
					n.ID, n.Status, n.InitialRequest.Route(), price, app.AgentStatusLabel(n), n.MessageCount)
			}
			if shown == 0 {
				return mcp.NewToolResultText("No negotiations found."), nil
			}
			logger.Printf("MCP: list_negotiations for %s returned %d", userID, shown)
			return mcp.NewToolResultText(fmt.Sprintf("%d negotiation(s):\n%s", shown, buf.String())), nil
		},
	)
}

// registerGetNegotiation registers the get_negotiation tool.
func registerGetNegotiation(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry, recent int) {
	s.AddTool(
		mcp.NewTool("get_negotiation",
			mcp.WithDescription("Show one negotiation with prices, agent state and the most recent messages."),
			mcp.WithString("negotiation_id", mcp.Required(), mcp.Description("Negotiation ID")),
			mcp.WithString("user_id", mcp.Description(userIDDescription)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := resolveUser(ctx, args, registry)
			if err != nil {
				return nil, err
			}
			id, err := requireString(args, "negotiation_id")
			if err != nil {
				return nil, err
			}
			n, err := svc.GetNegotiation(ctx, userID, id)
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(app.SummarizeNegotiation(n, recent)), nil
		},
	)
}

// registerAcceptNegotiation registers the accept_negotiation tool.
func registerAcceptNegotiation(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("accept_negotiation",
			mcp.WithDescription("Accept a negotiation. The final price is frozen and the agent is switched off."),
			mcp.WithString("negotiation_id", mcp.Required(), mcp.Description("Negotiation ID")),
			mcp.WithString("user_id", mcp.Description(userIDDescription)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := resolveUser(ctx, args, registry)
			if err != nil {
				return nil, err
			}
			id, err := requireString(args, "negotiation_id")
			if err != nil {
				return nil, err
			}
			n, err := svc.AcceptNegotiation(ctx, userID, id)
			if err != nil {
				return nil, err
			}
			logger.Printf("MCP: %s accepted negotiation %s at %s", userID, id, n.FinalPrice)
			return mcp.NewToolResultText(fmt.Sprintf("Negotiation %s accepted at %s.", id, n.FinalPrice)), nil
		},
	)
}

// registerRejectNegotiation registers the reject_negotiation tool.
func registerRejectNegotiation(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("reject_negotiation",
			mcp.WithDescription("Reject a negotiation and switch its agent off."),
			mcp.WithString("negotiation_id", mcp.Required(), mcp.Description("Negotiation ID")),
			mcp.WithString("user_id", mcp.Description(userIDDescription)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := resolveUser(ctx, args, registry)
			if err != nil {
				return nil, err
			}
			id, err := requireString(args, "negotiation_id")
			if err != nil {
				return nil, err
			}
			if _, err := svc.RejectNegotiation(ctx, userID, id); err != nil {
				return nil, err
			}
			logger.Printf("MCP: %s rejected negotiation %s", userID, id)
			return mcp.NewToolResultText(fmt.Sprintf("Negotiation %s rejected.", id)), nil
		},
	)
}

// registerSendMessage registers the send_message tool.
func registerSendMessage(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Post a message to a negotiation as the user, optionally emailing it to the carrier."),
			mcp.WithString("negotiation_id", mcp.Required(), mcp.Description("Negotiation ID")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
			mcp.WithBoolean("send_email", mcp.Description("Also email the message to the carrier (default false)")),
			mcp.WithString("user_id", mcp.Description(userIDDescription)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			userID, err := resolveUser(ctx, args, registry)
			if err != nil {
				return nil, err
			}
			id, err := requireString(args, "negotiation_id")
			if err != nil {
				return nil, err
			}
			content, err := requireString(args, "content")
			if err != nil {
				return nil, err
			}
			sendEmail := optionalBool(args, "send_email", false)
			msg, err := svc.SendUserMessage(ctx, userID, id, content, sendEmail)
			if err != nil {
				return nil, err
			}
			text := fmt.Sprintf("Message %s added to negotiation %s.", msg.ID, id)
			if sendEmail {
				text += " Email delivery queued."
			}
			return mcp.NewToolResultText(text), nil
		},
	)
}
