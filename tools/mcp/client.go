// Package mcp wraps Model Context Protocol client sessions, either over a
// subprocess's stdio or over streamable HTTP.
package mcp

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/m4xw311/agentcli/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var implementation = &mcpsdk.Implementation{Name: "agentcli", Version: "v1.0.0"}

// Client is a connected MCP session together with the tools the server
// advertised at connect time.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]string // tool name to description
}

// DialCommand starts the MCP server subprocess and discovers its tools.
func DialCommand(ctx context.Context, name, command string, args []string, logger *slog.Logger) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	c, err := connect(ctx, name, mcpsdk.NewCommandTransport(cmd), logger)
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}

// DialHTTP connects to a streamable HTTP MCP endpoint.
func DialHTTP(ctx context.Context, name, endpoint string, logger *slog.Logger) (*Client, error) {
	return connect(ctx, name, mcpsdk.NewStreamableClientTransport(endpoint, nil), logger)
}

func connect(ctx context.Context, name string, transport mcpsdk.Transport, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := mcpsdk.NewClient(implementation, nil).Connect(ctx, transport)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &Client{Name: name, conn: conn, tools: make(map[string]string)}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			client.tools[t.Name] = t.Description
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	logger.Info("initialized MCP client", "server", name, "tools", len(client.tools))
	return client, nil
}

// Tools returns the advertised tool names, sorted.
func (c *Client) Tools() []string {
	names := make([]string, 0, len(c.tools))
	for n := range c.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Client) HasTool(name string) bool {
	_, ok := c.tools[name]
	return ok
}

// CallText calls a tool and joins its text content. A result flagged as an
// error by the server is returned as an error carrying that text.
func (c *Client) CallText(ctx context.Context, tool string, args map[string]any) (string, error) {
	result, err := c.conn.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s' on '%s'", tool, c.Name)
	}
	text := JoinText(result.Content)
	if result.IsError {
		return "", errors.New("tool '%s' on '%s' reported an error: %s", tool, c.Name, text)
	}
	return text, nil
}

// Close ends the session and stops the subprocess, if any.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// JoinText concatenates the text parts of a tool result, one per line.
// Non-text content is ignored.
func JoinText(content []mcpsdk.Content) string {
	var parts []string
	for _, item := range content {
		if t, ok := item.(*mcpsdk.TextContent); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}
