package bridge

import (
	"context"

	"github.com/pocketmcp/pocketmcp-bridge/internal/config"
	"github.com/pocketmcp/pocketmcp-bridge/internal/discover"
	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/metrics"
	"github.com/pocketmcp/pocketmcp-bridge/internal/session"
	"github.com/pocketmcp/pocketmcp-bridge/internal/transport"
)

// Run resolves the endpoint, wires transport, session and bridge together and
// serves the stdio interface until ctx is canceled or startup fails.
func Run(ctx context.Context, cfg config.BridgeConfig, ver metrics.VersionInfo) error {
	endpoint := discover.Resolve(ctx, cfg.ServerURL, cfg.DiscoverTimeout)
	logx.Log.Info().Str("endpoint", endpoint).Msg("bridging to PocketMCP peer")

	state := session.NewState()
	tr, err := transport.New(endpoint, transport.Options{
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
		Session: state,
	})
	if err != nil {
		return err
	}
	client := session.NewClient(tr, state, session.Implementation{Name: cfg.ClientName, Version: ver.Version})
	defer func() { _ = client.Close() }()

	srv := New(client, Options{
		Name:          "pocketmcp-bridge",
		Version:       ver.Version,
		CacheTTL:      cfg.ToolCacheTTL,
		CacheDisabled: cfg.NoToolCache,
		WaitHealthy:   cfg.WaitHealthy,
	})

	if cfg.MetricsAddr != "" {
		addr, err := metrics.StartServer(ctx, cfg.MetricsAddr, ver, srv.Status)
		if err != nil {
			return err
		}
		logx.Log.Info().Str("addr", addr).Msg("metrics server started")
	}

	return srv.Start(ctx)
}
