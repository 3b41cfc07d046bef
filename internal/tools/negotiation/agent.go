package negotiation

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
)

// registerActivateAgent registers the activate_agent tool.
func registerActivateAgent(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("activate_agent",
			mcp.WithDescription("Switch the negotiation agent on with a target price per km. The agent runs immediately."),
			mcp.WithString("negotiation_id", mcp.Required(), mcp.Description("Negotiation ID")),
			mcp.WithNumber("target_price_per_km", mcp.Required(), mcp.Description("Target price per km, e.g. 1.35")),
			mcp.WithString("style", mcp.Description("Negotiation style: conservative, balanced or aggressive")),
			mcp.WithNumber("max_auto_replies", mcp.Description("Automatic replies before pausing for review (-1 for unlimited)")),
			mcp.WithNumber("notify_after_rounds", mcp.Description("Pause for review every N rounds (0 disables)")),
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
			target, err := requireFloat64(args, "target_price_per_km")
			if err != nil {
				return nil, err
			}

			var settings app.AgentSettings
			if v, _ := args["style"].(string); v != "" {
				style := domain.Style(v)
				settings.Style = &style
			}
			if v, ok := args["max_auto_replies"].(float64); ok {
				n := int(v)
				settings.MaxAutoReplies = &n
			}
			if v, ok := args["notify_after_rounds"].(float64); ok {
				n := int(v)
				settings.NotifyAfterRounds = &n
			}

			if _, err := svc.ActivateAgent(ctx, userID, id, target, settings); err != nil {
				return nil, err
			}
			logger.Printf("MCP: %s activated agent on %s (target %.2f/km)", userID, id, target)
			return mcp.NewToolResultText(fmt.Sprintf("Agent activated on negotiation %s with target %.2f/km.", id, target)), nil
		},
	)
}

// registerDeactivateAgent registers the deactivate_agent tool.
func registerDeactivateAgent(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("deactivate_agent",
			mcp.WithDescription("Switch the negotiation agent off. Its configuration is kept."),
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
			if _, err := svc.DeactivateAgent(ctx, userID, id); err != nil {
				return nil, err
			}
			logger.Printf("MCP: %s deactivated agent on %s", userID, id)
			return mcp.NewToolResultText(fmt.Sprintf("Agent deactivated on negotiation %s.", id)), nil
		},
	)
}

// registerResumeAgent registers the resume_agent tool.
func registerResumeAgent(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(
		mcp.NewTool("resume_agent",
			mcp.WithDescription("Decide on a paused agent: 'continue' lets it proceed (optionally bypassing checks), 'take_over' switches it off so you negotiate yourself."),
			mcp.WithString("negotiation_id", mcp.Required(), mcp.Description("Negotiation ID")),
			mcp.WithString("action", mcp.Required(), mcp.Enum("continue", "take_over"), mcp.Description("continue or take_over")),
			mcp.WithBoolean("bypass_price_change", mcp.Description("Stop pausing on carrier price changes")),
			mcp.WithBoolean("bypass_new_terms", mcp.Description("Stop pausing on new terms")),
			mcp.WithBoolean("bypass_target_reached", mcp.Description("Stop pausing when the target is reached")),
			mcp.WithBoolean("bypass_agreement", mcp.Description("Stop pausing on agreement")),
			mcp.WithBoolean("bypass_confusion", mcp.Description("Stop pausing on confusion")),
			mcp.WithBoolean("bypass_refusal", mcp.Description("Stop pausing on refusal")),
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
			action, err := requireString(args, "action")
			if err != nil {
				return nil, err
			}
			bypass := app.BypassFlags{
				PriceChange:   optionalBool(args, "bypass_price_change", false),
				NewTerms:      optionalBool(args, "bypass_new_terms", false),
				TargetReached: optionalBool(args, "bypass_target_reached", false),
				Agreement:     optionalBool(args, "bypass_agreement", false),
				Confusion:     optionalBool(args, "bypass_confusion", false),
				Refusal:       optionalBool(args, "bypass_refusal", false),
			}
			if _, err := svc.ResumeAgent(ctx, userID, id, app.ResumeAction(action), bypass); err != nil {
				return nil, err
			}
			logger.Printf("MCP: %s resumed agent on %s with %s", userID, id, action)
			if app.ResumeAction(action) == app.ResumeTakeOver {
				return mcp.NewToolResultText(fmt.Sprintf("You took over negotiation %s; the agent is off.", id)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Agent on negotiation %s continues.", id)), nil
		},
	)
}
