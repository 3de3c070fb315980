// Package mcpserver exposes registered tools over the Model Context
// Protocol using the streamable HTTP transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/pysandbox/pkg/auth"
	"github.com/rhuss/pysandbox/pkg/debug"
	"github.com/rhuss/pysandbox/pkg/storage"
	"github.com/rhuss/pysandbox/pkg/tools"
)

// identityTTL bounds the TokenInfo derived from an already authenticated
// request. It only has to outlive the request itself.
const identityTTL = 5 * time.Minute

// Catalog is the set of tools the server publishes.
type Catalog interface {
	tools.ToolExecutor
	DiscoveredTools() []tools.ToolDefinition
}

// Options configures the MCP server.
type Options struct {
	Name    string
	Version string

	// AllowedTools restricts the published tools. Empty publishes all.
	AllowedTools []string

	// Stateless disables Mcp-Session-Id tracking.
	Stateless bool

	// ForwardIdentity requires an authenticated caller on every request and
	// passes its subject and tenant to tool calls. Enable it whenever an
	// auth middleware runs in front of Handler.
	ForwardIdentity bool
}

// Server publishes a Catalog as MCP tools.
type Server struct {
	server  *mcp.Server
	catalog Catalog
	opts    Options
}

// New builds an MCP server exposing every tool in catalog that passes the
// allow list.
func New(catalog Catalog, opts Options) (*Server, error) {
	if opts.Name == "" {
		opts.Name = "pysandbox"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{Name: opts.Name, Version: opts.Version},
			&mcp.ServerOptions{
				Logger:       slog.Default(),
				Capabilities: &mcp.ServerCapabilities{Tools: &mcp.ToolCapabilities{}},
			},
		),
		catalog: catalog,
		opts:    opts,
	}

	var published int
	for _, def := range catalog.DiscoveredTools() {
		if len(opts.AllowedTools) > 0 && !slices.Contains(opts.AllowedTools, def.Name) {
			debug.Log("mcp", "tool not in allow list", "tool", def.Name)
			continue
		}
		schema, err := inputSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", def.Name, err)
		}
		s.server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}, s.handle(def.Name))
		published++
	}

	slog.Info("mcp server ready", "tools", published, "stateless", opts.Stateless)
	return s, nil
}

// Handler returns the streamable HTTP handler for the MCP endpoint.
func (s *Server) Handler() http.Handler {
	h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{
		Stateless: s.opts.Stateless,
		Logger:    slog.Default(),
	})
	if !s.opts.ForwardIdentity {
		return h
	}
	return mcpauth.RequireBearerToken(verifyIdentity, nil)(h)
}

// Run serves a single MCP session over t until it closes.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.server.Run(ctx, t)
}

func (s *Server) handle(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.ToolCall{
			ID:        uuid.NewString(),
			Name:      name,
			Arguments: string(req.Params.Arguments),
		}
		ctx = withCaller(ctx, req.Extra)

		filtered := tools.FilterAllowedTools([]tools.ToolCall{call}, s.opts.AllowedTools)
		if len(filtered.Rejected) > 0 {
			return textResult(filtered.Rejected[0].Output, true), nil
		}

		debug.Log("mcp", "tool call", "tool", name, "call_id", call.ID, "tenant", storage.GetTenant(ctx))

		result, err := s.catalog.Execute(ctx, call)
		if err != nil {
			slog.Warn("tool call failed", "tool", name, "call_id", call.ID, "error", err)
			return textResult(err.Error(), true), nil
		}
		if result == nil {
			return textResult("tool produced no result", true), nil
		}
		return textResult(result.Output, result.IsError), nil
	}
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

// inputSchema converts a JSON Schema document into the map form the MCP
// server validates against. Tools without parameters accept any object.
func inputSchema(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parsing input schema: %w", err)
	}
	if schema["type"] != "object" {
		return nil, fmt.Errorf("input schema must have type \"object\", got %v", schema["type"])
	}
	return schema, nil
}

// verifyIdentity turns the identity established by auth.Middleware into
// MCP token info, which the SDK attaches to every request of the session.
func verifyIdentity(ctx context.Context, _ string, _ *http.Request) (*mcpauth.TokenInfo, error) {
	id := auth.IdentityFromContext(ctx)
	if id == nil {
		return nil, fmt.Errorf("%w: no authenticated caller", mcpauth.ErrInvalidToken)
	}
	return &mcpauth.TokenInfo{
		UserID:     id.Subject,
		Scopes:     id.Scopes,
		Expiration: time.Now().Add(identityTTL),
		Extra: map[string]any{
			"tenant": id.Tenant,
			"tier":   id.Tier,
		},
	}, nil
}

// withCaller restores the caller identity and tenant carried in extra.
func withCaller(ctx context.Context, extra *mcp.RequestExtra) context.Context {
	if extra == nil || extra.TokenInfo == nil {
		return ctx
	}
	ti := extra.TokenInfo
	id := &auth.Identity{Subject: ti.UserID, Scopes: ti.Scopes}
	id.Tenant, _ = ti.Extra["tenant"].(string)
	id.Tier, _ = ti.Extra["tier"].(string)

	ctx = auth.WithIdentity(ctx, id)
	if id.Tenant != "" {
		ctx = storage.SetTenant(ctx, id.Tenant)
	}
	return ctx
}
