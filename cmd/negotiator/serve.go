package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadline/negotiator/internal/api"
	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/tools/negotiation"
)

const (
	sessionIdleTimeout = time.Hour
	sessionPruneEvery  = 10 * time.Minute
)

// ServeCmd runs the HTTP API with the MCP endpoint mounted at /mcp.
type ServeCmd struct {
	Port       int  `short:"p" long:"port" description:"HTTP listen port (overrides http_port)"`
	NoDispatch bool `long:"no-dispatch" description:"Do not run background tasks in this process; use a separate worker"`
	Debug      bool `long:"debug" description:"Run gin in debug mode"`

	root *Options
}

// Execute implements flags.Commander.
func (c *ServeCmd) Execute(_ []string) error {
	rt, err := newRuntime(context.Background(), c.root.Config)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger
	logger.Printf("Starting negotiator %s...", Version)

	ctx, cancel := signalContext(logger)
	defer cancel()

	if !c.NoDispatch {
		stop, err := rt.startBackground(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	registry := app.NewSessionRegistry()
	mcpServer := newMCPServer(rt, registry)
	go pruneSessions(ctx, registry, logger)

	correlator := app.NewCorrelator(rt.svc, app.NewWebhookVerifier(rt.pol, logger), rt.scheduler, rt.pol, logger)
	if !c.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(rt.svc, correlator, logger,
		api.WithEvents(rt.emitter),
		api.WithMount("/mcp", server.NewStreamableHTTPServer(mcpServer)),
	)

	port := rt.pol.HTTPPort()
	if c.Port != 0 {
		port = c.Port
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	logger.Printf("HTTP server on :%d", addr.Port)
	logger.Printf("  API:            http://localhost:%d/api", addr.Port)
	logger.Printf("  Email webhook:  http://localhost:%d/api/webhooks/email", addr.Port)
	logger.Printf("  Operator MCP:   http://localhost:%d/mcp", addr.Port)

	httpServer := &http.Server{Handler: handler.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Printf("HTTP server error: %v", err)
			cancel()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}
	logger.Println("Server stopped")
	return nil
}

// newMCPServer builds the operator MCP server with tool logging and session cleanup hooks.
func newMCPServer(rt *runtime, registry *app.SessionRegistry) *server.MCPServer {
	logger := rt.logger
	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Calling tool: %s", message.Params.Name)
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		registry.RemoveSession(session.SessionID())
		logger.Printf("Client session unregistered: %s", session.SessionID())
	})

	s := server.NewMCPServer(
		"negotiator",
		Version,
		server.WithInstructions(negotiation.Instructions),
		server.WithToolHandlerMiddleware(negotiation.PiggybackMiddleware(rt.svc, registry)),
		server.WithHooks(hooks),
	)
	negotiation.Register(s, rt.svc, logger, registry)
	return s
}

func pruneSessions(ctx context.Context, registry *app.SessionRegistry, logger *log.Logger) {
	ticker := time.NewTicker(sessionPruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.PruneIdle(sessionIdleTimeout); n > 0 {
				logger.Printf("Pruned %d idle MCP session(s)", n)
			}
		}
	}
}
