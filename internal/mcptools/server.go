package mcptools

import (
	"context"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/mnemo/internal/session"
)

type Server struct {
	mcpServer *server.MCPServer
	streamSrv *server.StreamableHTTPServer
}

func NewServer(svc *session.Service, version string) *Server {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		log.WithField("session_id", cs.SessionID()).Info("MCP client session registered")
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, cs server.ClientSession) {
		log.WithField("session_id", cs.SessionID()).Info("MCP client session unregistered")
	})

	mcpServer := server.NewMCPServer(
		"mnemo",
		version,
		server.WithLogging(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	RegisterTools(mcpServer, svc)

	streamSrv := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context { return ctx }),
	)

	return &Server{
		mcpServer: mcpServer,
		streamSrv: streamSrv,
	}
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return s.streamSrv
}

// ServeStdio speaks MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}
