package negotiation

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
)

// Instructions is sent to MCP clients on initialize.
const Instructions = "Operator tools for freight price negotiations. Call identify with your user id once per session, " +
	"then list_negotiations to see deals and agent state. Agents pause for review and raise notifications; " +
	"use resume_agent to continue or take over, and accept_negotiation or reject_negotiation to close a deal."

// RegisterOption configures optional behaviour of tool registration.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	recentMessages int
}

// WithRecentMessages sets how many recent messages get_negotiation shows (default 10).
func WithRecentMessages(n int) RegisterOption {
	return func(o *registerOpts) { o.recentMessages = n }
}

// Register registers the operator tools with the mcp-go server. Every tool acts
// for the user given in its user_id argument or, when omitted, the user bound to
// the calling session by the identify tool.
func Register(s *server.MCPServer, svc *app.NegotiationService, logger *log.Logger, registry *app.SessionRegistry, opts ...RegisterOption) {
	o := registerOpts{recentMessages: 10}
	for _, opt := range opts {
		opt(&o)
	}

	// Session tool (1)
	registerIdentify(s, logger, registry)

	// Negotiation tools (5)
	registerListNegotiations(s, svc, logger, registry)
	registerGetNegotiation(s, svc, logger, registry, o.recentMessages)
	registerAcceptNegotiation(s, svc, logger, registry)
	registerRejectNegotiation(s, svc, logger, registry)
	registerSendMessage(s, svc, logger, registry)

	// Agent tools (3)
	registerActivateAgent(s, svc, logger, registry)
	registerDeactivateAgent(s, svc, logger, registry)
	registerResumeAgent(s, svc, logger, registry)

	// Notification tools (2)
	registerListNotifications(s, svc, logger, registry)
	registerMarkNotificationRead(s, svc, logger, registry)
}
