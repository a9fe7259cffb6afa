package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/proxyscope/proxyscope/proxyscope/config"
	"github.com/proxyscope/proxyscope/proxyscope/protocol"
)

// mcpServer wraps the MCP server and its transports.
type mcpServer struct {
	server           *server.MCPServer
	sseServer        *server.SSEServer
	streamableServer *server.StreamableHTTPServer
	httpServer       *http.Server
	listener         net.Listener
	service          *Server
}

// newMCPServer creates a new MCP server instance with the traffic tools
// registered.
func newMCPServer(svc *Server) *mcpServer {
	mcpSrv := server.NewMCPServer("proxyscope", config.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	m := &mcpServer{
		server:  mcpSrv,
		service: svc,
	}

	m.registerTools()

	return m
}

func (m *mcpServer) registerTools() {
	m.server.AddTool(m.trafficStatusTool(), m.handleTrafficStatus)
	m.server.AddTool(m.trafficListTool(), m.handleTrafficList)
	m.server.AddTool(m.trafficGetDetailTool(), m.handleTrafficGetDetail)
	m.server.AddTool(m.trafficSearchTool(), m.handleTrafficSearch)
	m.server.AddTool(m.trafficReadBodyTool(), m.handleTrafficReadBody)
	m.server.AddTool(m.trafficClearTool(), m.handleTrafficClear)
}

func (m *mcpServer) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	m.listener = listener

	// SSE server for legacy clients
	m.sseServer = server.NewSSEServer(m.server,
		server.WithBaseURL("http://"+addr),
	)

	// Streamable HTTP server for modern clients
	m.streamableServer = server.NewStreamableHTTPServer(m.server,
		server.WithStateLess(true),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", m.streamableServer)
	mux.Handle("/sse", m.sseServer)
	mux.Handle("/sse/", m.sseServer)

	m.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := m.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("MCP server error: %v", err)
		}
	}()

	return nil
}

func (m *mcpServer) Addr() string {
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return ""
}

// Close stops the MCP server.
func (m *mcpServer) Close(ctx context.Context) error {
	var errs []error

	// Streaming connections (SSE, MCP) never become idle, so Shutdown with a
	// short timeout then force close.
	if m.httpServer != nil {
		shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		err := m.httpServer.Shutdown(shortCtx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			if closeErr := m.httpServer.Close(); closeErr != nil {
				errs = append(errs, closeErr)
			}
		} else if err != nil {
			errs = append(errs, err)
		}
	}

	if m.sseServer != nil {
		if err := m.sseServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.streamableServer != nil {
		if err := m.streamableServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errorResult(protocol.ErrCodeStoreUnavailable, "failed to marshal response: "+err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// errorResult builds a structured failure with its taxonomy code prefix.
func errorResult(code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(code + ": " + message)
}
