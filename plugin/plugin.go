// Package plugin defines the hook provider the agent notifies around tool
// execution. Noop is the default; MCPProvider forwards hooks to MCP servers.
package plugin

import (
	"context"
	"log/slog"

	"github.com/m4xw311/agentcli/config"
	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/logging"
	"github.com/m4xw311/agentcli/tools/mcp"
)

// Hook names.
const (
	EventToolBefore = "tool.execute.before"
	EventToolAfter  = "tool.execute.after"
)

type Plugin struct {
	Name   string
	Source string
}

// Provider lists plugins and dispatches hook events to them.
type Provider interface {
	List(ctx context.Context) ([]Plugin, error)
	Get(ctx context.Context, name string) (Plugin, bool, error)
	Trigger(ctx context.Context, event string, payload map[string]any) error
}

// Noop has no plugins and ignores every event.
type Noop struct{}

func (Noop) List(context.Context) ([]Plugin, error)                 { return []Plugin{}, nil }
func (Noop) Get(context.Context, string) (Plugin, bool, error)      { return Plugin{}, false, nil }
func (Noop) Trigger(context.Context, string, map[string]any) error { return nil }

// hookClient is the part of an MCP session the provider uses.
type hookClient interface {
	Tools() []string
	HasTool(name string) bool
	CallText(ctx context.Context, tool string, args map[string]any) (string, error)
	Close() error
}

type server struct {
	name   string
	client hookClient
}

// MCPProvider exposes the tools of configured MCP servers as plugins. An
// event is delivered to every server that has a tool named after it.
type MCPProvider struct {
	servers []server
	logger  *slog.Logger
}

// NewMCPProvider starts every configured server. Servers that fail to start
// are logged and skipped.
func NewMCPProvider(ctx context.Context, cfgs []config.MCPServer, logger *slog.Logger) *MCPProvider {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &MCPProvider{logger: logger}
	for _, c := range cfgs {
		client, err := mcp.DialCommand(ctx, c.Name, c.Command, c.Args, logger)
		if err != nil {
			logger.Warn("failed to start plugin server", "server", c.Name, "error", err)
			continue
		}
		p.servers = append(p.servers, server{name: c.Name, client: client})
	}
	return p
}

func (p *MCPProvider) List(ctx context.Context) ([]Plugin, error) {
	out := []Plugin{}
	for _, s := range p.servers {
		for _, name := range s.client.Tools() {
			out = append(out, Plugin{Name: name, Source: s.name})
		}
	}
	return out, nil
}

func (p *MCPProvider) Get(ctx context.Context, name string) (Plugin, bool, error) {
	for _, s := range p.servers {
		if s.client.HasTool(name) {
			return Plugin{Name: name, Source: s.name}, true, nil
		}
	}
	return Plugin{}, false, nil
}

// Trigger calls the tool named event on each server that has one. Every
// server is tried; the first failure is returned.
func (p *MCPProvider) Trigger(ctx context.Context, event string, payload map[string]any) error {
	var first error
	for _, s := range p.servers {
		if !s.client.HasTool(event) {
			continue
		}
		out, err := s.client.CallText(ctx, event, payload)
		if err != nil {
			p.logger.Warn("plugin hook failed", "server", s.name, "event", event, "error", err)
			if first == nil {
				first = errors.Wrapf(err, "plugin hook %s failed on %s", event, s.name)
			}
			continue
		}
		p.logger.Debug("plugin hook", "server", s.name, "event", event, "output", out)
	}
	return first
}

// Close stops every server.
func (p *MCPProvider) Close() error {
	var first error
	for _, s := range p.servers {
		if err := s.client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
