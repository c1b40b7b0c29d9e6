package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport selects how to reach the MCP tool server.
type Transport string

const (
	// TransportStdio spawns the server as a subprocess and speaks MCP
	// over its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects over the MCP Streamable HTTP
	// protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// MCPConfig describes the tool server connection.
type MCPConfig struct {
	// Transport selects the connection mechanism.
	Transport Transport

	// Command is the executable plus arguments for the stdio transport,
	// in shell-word form: "mcp-robot --config /etc/robot.yaml".
	Command string

	// URL is the endpoint for the streamable-http transport.
	URL string

	// Env holds extra environment variables for the stdio subprocess.
	Env map[string]string

	// CallTimeout bounds a single tool call. Defaults to 10s.
	CallTimeout time.Duration
}

// MCPDispatcher forwards directives to an MCP tool server. Each directive
// kind maps to a tool named after it in lower case ("intent", "motor",
// "action"), called with a single "value" argument.
type MCPDispatcher struct {
	session *mcpsdk.ClientSession
	timeout time.Duration
	log     *slog.Logger
}

// NewMCPDispatcher connects to the configured server. The connection is
// established eagerly so a misconfigured server fails at startup, not on
// the first directive. For the stdio transport ctx also bounds the
// subprocess, so pass the application lifetime context.
func NewMCPDispatcher(ctx context.Context, cfg MCPConfig, log *slog.Logger) (*MCPDispatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		if len(fields) == 0 {
			return nil, errors.New("actions: stdio transport requires a command")
		}
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, errors.New("actions: streamable-http transport requires a URL")
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return nil, fmt.Errorf("actions: unknown MCP transport %q", cfg.Transport)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "urecho", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("actions: connect to MCP server: %w", err)
	}
	log.Info("action dispatch connected to MCP server", "transport", string(cfg.Transport))
	return &MCPDispatcher{session: session, timeout: cfg.CallTimeout, log: log}, nil
}

// Dispatch calls the tool named after the directive kind.
func (m *MCPDispatcher) Dispatch(ctx context.Context, ev Event) error {
	tool := strings.ToLower(string(ev.Kind))
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: map[string]any{"value": ev.Value},
	})
	if err != nil {
		return fmt.Errorf("actions: call tool %q: %w", tool, err)
	}
	if res.IsError {
		return fmt.Errorf("actions: tool %q rejected %q: %s", tool, ev.Value, textContent(res))
	}
	m.log.Debug("directive dispatched", "tool", tool, "value", ev.Value)
	return nil
}

// Close tears down the server connection.
func (m *MCPDispatcher) Close() error {
	return m.session.Close()
}

// textContent flattens the textual parts of a tool result.
func textContent(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// Ensure MCPDispatcher implements Dispatcher at compile time.
var _ Dispatcher = (*MCPDispatcher)(nil)
