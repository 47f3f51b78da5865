package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const clientVersion = "0.3.0"

// ToolProvider is the capability surface the registry requires of any
// tool-server connection. *Client satisfies it; tests substitute fakes.
type ToolProvider interface {
	ListTools(ctx context.Context) (map[string]*ToolDefinition, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error)
	Disconnect() error
}

// Client is one connection to an MCP server. It performs the initialize
// handshake, caches the server's catalogs and compiles each tool's
// input schema for argument validation.
type Client struct {
	config    ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	serverInfo ServerInfo
	tools      map[string]*ToolDefinition
	resources  map[string]*ResourceDefinition
	prompts    map[string]*PromptDefinition
	schemas    map[string]*jsonschema.Schema
}

// NewClient builds a client for the given server config. Connect must
// be called before any catalog or call operation.
func NewClient(name string, cfg ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: newTransport(&cfg),
		logger:    logger.With("component", "mcp_client", "server", name),
		tools:     make(map[string]*ToolDefinition),
		resources: make(map[string]*ResourceDefinition),
		prompts:   make(map[string]*PromptDefinition),
		schemas:   make(map[string]*jsonschema.Schema),
	}
}

// Connect establishes the transport, runs the MCP handshake and loads
// the initial catalogs.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "cadenza", Version: clientVersion},
	}
	raw, err := c.transport.Call(ctx, "initialize", params)
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.transport.Close()
		return fmt.Errorf("decode initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial catalog refresh failed", "error", err)
	}

	c.logger.Info("connected to MCP server",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"tools", len(c.tools))
	return nil
}

// Refresh replaces the cached tool/resource/prompt catalogs wholesale.
// Tool schemas that fail to compile are kept without validation.
func (c *Client) Refresh(ctx context.Context) error {
	tools, err := c.fetchTools(ctx)
	if err != nil {
		return err
	}

	schemas := make(map[string]*jsonschema.Schema, len(tools))
	for name, tool := range tools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		compiled, err := jsonschema.CompileString(name, string(tool.InputSchema))
		if err != nil {
			c.logger.Warn("tool schema does not compile, skipping validation",
				"tool", name, "error", err)
			continue
		}
		schemas[name] = compiled
	}

	// resources/list and prompts/list are optional capabilities.
	resources := c.fetchResources(ctx)
	prompts := c.fetchPrompts(ctx)

	c.mu.Lock()
	c.tools = tools
	c.schemas = schemas
	c.resources = resources
	c.prompts = prompts
	c.mu.Unlock()
	return nil
}

func (c *Client) fetchTools(ctx context.Context) (map[string]*ToolDefinition, error) {
	raw, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	tools := make(map[string]*ToolDefinition, len(result.Tools))
	for _, t := range result.Tools {
		tools[t.Name] = t
	}
	return tools, nil
}

func (c *Client) fetchResources(ctx context.Context) map[string]*ResourceDefinition {
	raw, err := c.transport.Call(ctx, "resources/list", nil)
	if err != nil {
		return map[string]*ResourceDefinition{}
	}
	var result listResourcesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return map[string]*ResourceDefinition{}
	}
	resources := make(map[string]*ResourceDefinition, len(result.Resources))
	for _, r := range result.Resources {
		resources[r.URI] = r
	}
	return resources
}

func (c *Client) fetchPrompts(ctx context.Context) map[string]*PromptDefinition {
	raw, err := c.transport.Call(ctx, "prompts/list", nil)
	if err != nil {
		return map[string]*PromptDefinition{}
	}
	var result listPromptsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return map[string]*PromptDefinition{}
	}
	prompts := make(map[string]*PromptDefinition, len(result.Prompts))
	for _, p := range result.Prompts {
		prompts[p.Name] = p
	}
	return prompts
}

// ListTools returns the cached tool catalog (copy).
func (c *Client) ListTools(ctx context.Context) (map[string]*ToolDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*ToolDefinition, len(c.tools))
	for name, t := range c.tools {
		out[name] = t
	}
	return out, nil
}

// ValidateArgs checks call arguments against the tool's compiled input
// schema. Tools without a usable schema accept anything.
func (c *Client) ValidateArgs(name string, args json.RawMessage) error {
	c.mu.RLock()
	schema := c.schemas[name]
	c.mu.RUnlock()
	if schema == nil {
		return nil
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	return nil
}

// CallTool invokes a tool on the server and returns its result.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	raw, err := c.transport.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &result, nil
}

// Resources returns the cached resource catalog (copy).
func (c *Client) Resources() map[string]*ResourceDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*ResourceDefinition, len(c.resources))
	for uri, r := range c.resources {
		out[uri] = r
	}
	return out
}

// Prompts returns the cached prompt catalog (copy).
func (c *Client) Prompts() map[string]*PromptDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*PromptDefinition, len(c.prompts))
	for name, p := range c.prompts {
		out[name] = p
	}
	return out
}

// ServerInfo returns the identity reported during the handshake.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connected reports transport liveness.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Disconnect closes the transport.
func (c *Client) Disconnect() error {
	return c.transport.Close()
}
