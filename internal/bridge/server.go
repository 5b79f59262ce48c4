// Package bridge binds the local stdio interface and forwards tool listings
// and invocations to the remote PocketMCP peer. Remote-side failures of any
// kind become error-flagged tool results; the local interface is never torn
// down by a bad remote call.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/metrics"
	"github.com/pocketmcp/pocketmcp-bridge/internal/session"
	"github.com/pocketmcp/pocketmcp-bridge/internal/toolcache"
	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

// ToolClient is the remote surface the bridge forwards through.
type ToolClient interface {
	EnsureSession(ctx context.Context) error
	ListTools(ctx context.Context) ([]session.Tool, error)
	CallTool(ctx context.Context, name string, arguments any) (*wire.Response, error)
	WaitHealthy(ctx context.Context, deadline, interval time.Duration) error
	State() *session.State
	Close() error
}

// Options configure the bridge server.
type Options struct {
	Name          string
	Version       string
	CacheTTL      time.Duration
	CacheDisabled bool
	// WaitHealthy, when positive, polls the peer's health endpoint for up to
	// this long before the startup handshake.
	WaitHealthy time.Duration
}

// Server is the top-level orchestrator.
type Server struct {
	client ToolClient
	cache  *toolcache.Cache
	mcp    *server.MCPServer
	opts   Options

	mu         sync.Mutex
	registered map[string]string
}

// New builds a bridge server over the given remote client.
func New(client ToolClient, opts Options) *Server {
	s := &Server{
		client:     client,
		cache:      toolcache.New(client.ListTools, opts.CacheTTL, opts.CacheDisabled),
		opts:       opts,
		registered: map[string]string{},
	}

	hooks := &server.Hooks{}
	hooks.AddBeforeListTools(func(ctx context.Context, id any, message *mcp.ListToolsRequest) {
		s.refreshForListing(ctx)
	})
	hooks.AddBeforeCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest) {
		s.refreshIfUnknown(ctx, message.Params.Name)
	})

	s.mcp = server.NewMCPServer(
		opts.Name,
		opts.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	return s
}

// Start performs the eager handshake and tool prefetch, then serves the
// local stdio interface until ctx is done. Startup errors are returned so an
// unreachable peer is caught immediately instead of on the first tool call.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.WaitHealthy > 0 {
		if err := s.client.WaitHealthy(ctx, s.opts.WaitHealthy, time.Second); err != nil {
			return err
		}
	}
	if err := s.client.EnsureSession(ctx); err != nil {
		return fmt.Errorf("startup handshake: %w", err)
	}
	if err := s.syncTools(ctx, true); err != nil {
		return fmt.Errorf("startup tool prefetch: %w", err)
	}
	logx.Log.Info().Int("tools", s.cache.Len()).Msg("bridge ready, serving stdio")

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(logx.Log, "", 0))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// refreshForListing runs before every local listing. The listing goes
// through the cache; a fetch failure keeps serving the last registered
// catalog rather than failing the local request.
func (s *Server) refreshForListing(ctx context.Context) {
	if err := s.syncTools(ctx, false); err != nil {
		logx.Log.Warn().Err(err).Msg("tool listing refresh failed, serving last known catalog")
	}
}

// refreshIfUnknown runs before every local tool call. A call naming a tool
// absent from the catalog forces one refresh so a changed remote catalog is
// picked up without waiting for TTL expiry.
func (s *Server) refreshIfUnknown(ctx context.Context, name string) {
	if name == "" || s.cache.Has(name) {
		return
	}
	logx.Log.Info().Str("tool", name).Msg("unknown tool requested, forcing catalog refresh")
	if err := s.syncTools(ctx, true); err != nil {
		logx.Log.Warn().Err(err).Str("tool", name).Msg("forced catalog refresh failed")
	}
}

// syncTools reconciles the locally registered tools with the cached remote
// catalog. Registration is keyed and diffed by raw descriptor so an
// unchanged catalog causes no churn.
func (s *Server) syncTools(ctx context.Context, force bool) error {
	tools, err := s.cache.List(ctx, force)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	desired := make(map[string]string, len(tools))
	for _, t := range tools {
		desired[t.Name] = string(t.Raw)
	}
	var removed []string
	for name := range s.registered {
		if _, ok := desired[name]; !ok {
			removed = append(removed, name)
		}
	}
	for _, t := range tools {
		if s.registered[t.Name] == string(t.Raw) {
			continue
		}
		s.mcp.AddTool(localTool(t), s.toolHandler(t.Name))
		s.registered[t.Name] = string(t.Raw)
	}
	if len(removed) > 0 {
		s.mcp.DeleteTools(removed...)
		for _, name := range removed {
			delete(s.registered, name)
		}
	}
	return nil
}

// localTool mirrors a remote descriptor onto the local server, passing the
// input schema through untouched.
func localTool(t session.Tool) mcp.Tool {
	if len(t.InputSchema) > 0 {
		return mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema)
	}
	return mcp.NewTool(t.Name, mcp.WithDescription(t.Description))
}

// toolHandler forwards one named tool. Every failure from the remote chain
// (network, decode, retry-exhausted, session-repair-exhausted or a domain
// error) becomes a successful local response flagged as an error result.
func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := s.client.CallTool(ctx, name, req.GetArguments())
		if err != nil {
			metrics.ToolCallObserved("error")
			logx.Log.Error().Err(err).Str("tool", name).Msg("tool call failed")
			return mcp.NewToolResultError(fmt.Sprintf("tool %q failed: %v", name, err)), nil
		}
		metrics.ToolCallObserved("ok")
		return remoteResult(resp), nil
	}
}

// remoteResult converts the remote reply into a local tool result. A reply
// without an explicit result field is still surfaced: the raw payload is
// embedded as text instead of being dropped.
func remoteResult(resp *wire.Response) *mcp.CallToolResult {
	if len(resp.Result) == 0 {
		raw, _ := json.Marshal(resp)
		return mcp.NewToolResultText(string(raw))
	}
	result, err := mcp.ParseCallToolResult(&resp.Result)
	if err != nil {
		return mcp.NewToolResultText(string(resp.Result))
	}
	return result
}

// Status reports the bridge state for the /status endpoint.
func (s *Server) Status() any {
	return struct {
		Session session.Snapshot `json:"session"`
		Tools   int              `json:"cached_tools"`
	}{Session: s.client.State().Snapshot(), Tools: s.cache.Len()}
}
