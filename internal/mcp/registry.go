package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/observability"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// ErrToolNotFound is returned by ExecuteTool for names absent from the
// tool index.
var ErrToolNotFound = errors.New("mcp: tool not found")

// ErrNotReady is returned when the registry is used before a successful
// initialization.
var ErrNotReady = errors.New("mcp: registry not initialized")

// ConnectionMode governs how many servers must connect during
// InitializeFromConfig.
type ConnectionMode string

const (
	// ConnectionStrict requires every configured server to connect.
	ConnectionStrict ConnectionMode = "strict"
	// ConnectionLenient requires at least one connection (vacuously
	// satisfied by an empty config).
	ConnectionLenient ConnectionMode = "lenient"
)

// InitError is the fatal error raised when InitializeFromConfig fails
// to meet its connection threshold. Successful connections made before
// the threshold check are retained.
type InitError struct {
	Mode      ConnectionMode
	Total     int
	Succeeded int
	Failures  map[string]string
}

func (e *InitError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("mcp: %s initialization failed: %d/%d servers connected (failed: %s)",
		e.Mode, e.Succeeded, e.Total, strings.Join(names, ", "))
}

// Registry owns all tool-server connections for one agent, aggregates
// their catalogs and routes tool execution to the owning provider.
//
// Structural mutation (connect, remove, disconnect, index rebuild) is
// serialized; lookups interleave freely. The tool index is rebuilt from
// scratch on every AllTools call and swapped in atomically.
type Registry struct {
	logger  *slog.Logger
	bus     *events.AgentBus
	metrics *observability.Metrics

	// factory builds and connects a provider for a config. Tests
	// substitute fakes here.
	factory func(ctx context.Context, name string, cfg ServerConfig) (ToolProvider, error)

	mu        sync.RWMutex
	clients   map[string]ToolProvider
	configs   map[string]ServerConfig
	connErrs  map[string]string
	toolIndex map[string]ToolProvider
	tools     map[string]*ToolDefinition
}

// NewRegistry creates an empty registry. Bus and metrics may be nil.
func NewRegistry(logger *slog.Logger, bus *events.AgentBus, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:    logger.With("component", "mcp_registry"),
		bus:       bus,
		metrics:   metrics,
		clients:   make(map[string]ToolProvider),
		configs:   make(map[string]ServerConfig),
		connErrs:  make(map[string]string),
		toolIndex: make(map[string]ToolProvider),
		tools:     make(map[string]*ToolDefinition),
	}
	r.factory = func(ctx context.Context, name string, cfg ServerConfig) (ToolProvider, error) {
		client := NewClient(name, cfg, logger)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
	return r
}

// ConnectServer builds and connects a provider for the named server.
// Failures are recorded under the server's name and returned to the
// caller. A successful connect under an existing name replaces the old
// provider with a logged warning.
func (r *Registry) ConnectServer(ctx context.Context, name string, cfg ServerConfig) error {
	provider, err := r.factory(ctx, name, cfg)
	if err != nil {
		r.mu.Lock()
		r.connErrs[name] = err.Error()
		r.configs[name] = cfg
		r.mu.Unlock()

		r.emitServer(models.EventMCPServerFailed, name, err.Error(), 0)
		if r.metrics != nil {
			r.metrics.RecordError("mcp", "connect_failed")
		}
		return fmt.Errorf("connect %s: %w", name, err)
	}

	r.mu.Lock()
	if _, exists := r.clients[name]; exists {
		r.logger.Warn("server name already registered, replacing", "server", name)
	}
	r.clients[name] = provider
	r.configs[name] = cfg
	delete(r.connErrs, name)
	r.mu.Unlock()

	toolCount := 0
	if tools, err := provider.ListTools(ctx); err == nil {
		toolCount = len(tools)
	}

	r.logger.Info("server connected", "server", name, "tools", toolCount)
	r.emitServer(models.EventMCPServerConnected, name, "", toolCount)
	r.emitServer(models.EventMCPToolsChanged, name, "", toolCount)
	if r.metrics != nil {
		r.metrics.ServerConnected()
	}
	return nil
}

// InitializeFromConfig attempts every configured server independently,
// then enforces the connection-mode threshold: strict requires all,
// lenient at least one. An unmet threshold returns *InitError; servers
// that did connect stay connected either way.
func (r *Registry) InitializeFromConfig(ctx context.Context, configs map[string]ServerConfig, mode ConnectionMode) error {
	succeeded := 0
	for name, cfg := range configs {
		if err := r.ConnectServer(ctx, name, cfg); err != nil {
			r.logger.Error("server failed to connect", "server", name, "error", err)
			continue
		}
		succeeded++
	}

	total := len(configs)
	var required int
	switch mode {
	case ConnectionStrict:
		required = total
	case ConnectionLenient:
		if total > 0 {
			required = 1
		}
	default:
		return fmt.Errorf("mcp: unknown connection mode %q", mode)
	}

	if succeeded < required {
		return &InitError{
			Mode:      mode,
			Total:     total,
			Succeeded: succeeded,
			Failures:  r.FailedConnections(),
		}
	}
	return nil
}

// AllTools rebuilds the tool index from every live provider and returns
// the aggregated catalog. Providers that fail enumeration are skipped
// with a logged error. On a name collision the last provider iterated
// wins; iteration order is map order and therefore undefined.
func (r *Registry) AllTools(ctx context.Context) map[string]*ToolDefinition {
	r.mu.RLock()
	clients := make(map[string]ToolProvider, len(r.clients))
	for name, p := range r.clients {
		clients[name] = p
	}
	r.mu.RUnlock()

	index := make(map[string]ToolProvider)
	catalog := make(map[string]*ToolDefinition)
	for serverName, provider := range clients {
		tools, err := provider.ListTools(ctx)
		if err != nil {
			r.logger.Error("tool enumeration failed, skipping server",
				"server", serverName, "error", err)
			continue
		}
		for toolName, def := range tools {
			if _, dup := index[toolName]; dup {
				r.logger.Warn("tool name collision, last registration wins",
					"tool", toolName, "server", serverName)
			}
			index[toolName] = provider
			catalog[toolName] = def
		}
	}

	r.mu.Lock()
	r.toolIndex = index
	r.tools = catalog
	r.mu.Unlock()

	out := make(map[string]*ToolDefinition, len(catalog))
	for name, def := range catalog {
		out[name] = def
	}
	return out
}

// ExecuteTool routes a call to the owning provider. Arguments are
// validated against the tool's schema when the provider supports it.
// Provider errors propagate unmodified so the orchestrator can react.
func (r *Registry) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) (*ToolCallResult, error) {
	r.mu.RLock()
	provider, ok := r.toolIndex[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	if v, ok := provider.(interface {
		ValidateArgs(name string, args json.RawMessage) error
	}); ok {
		if err := v.ValidateArgs(toolName, args); err != nil {
			if r.metrics != nil {
				r.metrics.RecordToolExecution(toolName, "invalid_input", 0)
			}
			return nil, err
		}
	}

	start := time.Now()
	result, err := provider.CallTool(ctx, toolName, args)
	if r.metrics != nil {
		status := "success"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}
		r.metrics.RecordToolExecution(toolName, status, time.Since(start).Seconds())
	}
	return result, err
}

// ToolClient resolves the provider owning a tool, if the index knows it.
func (r *Registry) ToolClient(toolName string) (ToolProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.toolIndex[toolName]
	return p, ok
}

// Clients returns the connected providers keyed by server name (copy).
func (r *Registry) Clients() map[string]ToolProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ToolProvider, len(r.clients))
	for name, p := range r.clients {
		out[name] = p
	}
	return out
}

// FailedConnections returns a snapshot of current failures.
func (r *Registry) FailedConnections() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.connErrs))
	for name, msg := range r.connErrs {
		out[name] = msg
	}
	return out
}

// RemoveClient disconnects and forgets a server. Absent names log and
// return without error.
func (r *Registry) RemoveClient(name string) {
	r.mu.Lock()
	provider, ok := r.clients[name]
	delete(r.clients, name)
	delete(r.configs, name)
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("remove of unknown server ignored", "server", name)
		return
	}
	if err := provider.Disconnect(); err != nil {
		r.logger.Warn("disconnect failed during removal", "server", name, "error", err)
	}
	r.dropServerTools(provider)
	r.emitServer(models.EventMCPServerRemoved, name, "", 0)
	if r.metrics != nil {
		r.metrics.ServerDisconnected()
	}
}

// DisconnectAll disconnects every provider, clearing the client set and
// the recorded connection errors. Per-provider disconnect failures are
// logged and do not abort the rest.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]ToolProvider)
	r.configs = make(map[string]ServerConfig)
	r.connErrs = make(map[string]string)
	r.toolIndex = make(map[string]ToolProvider)
	r.tools = make(map[string]*ToolDefinition)
	r.mu.Unlock()

	for name, provider := range clients {
		if err := provider.Disconnect(); err != nil {
			r.logger.Warn("disconnect failed", "server", name, "error", err)
		}
		r.emitServer(models.EventMCPServerDisconnected, name, "", 0)
		if r.metrics != nil {
			r.metrics.ServerDisconnected()
		}
	}
}

// RestartServer disconnects a server and reconnects it from the
// originally supplied config. A failed reconnect leaves the server in
// the failed-connections state rather than silently removing it.
func (r *Registry) RestartServer(ctx context.Context, name string) error {
	r.mu.Lock()
	cfg, known := r.configs[name]
	provider, connected := r.clients[name]
	delete(r.clients, name)
	r.mu.Unlock()

	if !known {
		return fmt.Errorf("mcp: unknown server %q", name)
	}
	if connected {
		if err := provider.Disconnect(); err != nil {
			r.logger.Warn("disconnect failed during restart", "server", name, "error", err)
		}
		r.dropServerTools(provider)
		if r.metrics != nil {
			r.metrics.ServerDisconnected()
		}
	}

	return r.ConnectServer(ctx, name, cfg)
}

// dropServerTools removes a departed provider's entries from the tool
// index without waiting for the next full rebuild.
func (r *Registry) dropServerTools(departed ToolProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for toolName, p := range r.toolIndex {
		if p == departed {
			delete(r.toolIndex, toolName)
			delete(r.tools, toolName)
		}
	}
}

func (r *Registry) emitServer(name models.EventName, server, errMsg string, toolCount int) {
	if r.bus == nil {
		return
	}
	ev := models.NewEvent(name)
	ev.MCP = &models.MCPPayload{Server: server, Error: errMsg, ToolCount: toolCount}
	r.bus.Emit(ev)
}
