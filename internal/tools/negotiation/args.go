package negotiation

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/app"
)

// requireFloat64 extracts a float64 from args by key. Returns a clear error distinguishing
// "missing" from "wrong type", and never panics on nil values.
func requireFloat64(args map[string]any, key string) (float64, error) {
	v, exists := args[key]
	if !exists || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
	return f, nil
}

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// optionalBool extracts a bool from args by key, returning the fallback if not present.
func optionalBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

// userFromSession returns the user bound to the calling session, or "".
func userFromSession(ctx context.Context, registry *app.SessionRegistry) string {
	if registry == nil {
		return ""
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return registry.GetUser(session.SessionID())
}

// resolveUser returns the explicit user_id argument or the session's bound user.
func resolveUser(ctx context.Context, args map[string]any, registry *app.SessionRegistry) (string, error) {
	if u, _ := args["user_id"].(string); u != "" {
		return u, nil
	}
	if u := userFromSession(ctx, registry); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("user_id is required (or call identify first)")
}
