// Package discover resolves the remote endpoint. Explicit addresses are
// normalized; otherwise a bounded mDNS probe searches the local network for
// an advertised PocketMCP service, falling back to a loopback default. This
// is a best-effort convenience, not a continuously refreshed discovery
// process.
package discover

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
)

const (
	// ServiceType is the advertised mDNS service searched for.
	ServiceType = "_mcp._tcp"

	// ServiceDomain is the mDNS browse domain.
	ServiceDomain = "local."

	// DefaultEndpoint is the loopback fallback when discovery finds nothing.
	DefaultEndpoint = "http://127.0.0.1:8080"

	// DefaultProbeTimeout bounds the discovery probe.
	DefaultProbeTimeout = 5 * time.Second
)

// Normalize applies the default scheme to a bare host and strips trailing
// slashes. An empty address is returned unchanged.
func Normalize(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return address
	}
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") &&
		!strings.HasPrefix(address, "ws://") && !strings.HasPrefix(address, "wss://") {
		address = "http://" + address
	}
	return strings.TrimRight(address, "/")
}

// Resolve returns the endpoint to use. An explicit address wins and is only
// normalized. Without one, the local network is probed for up to timeout;
// the first responder wins and the probe is cancelled. On timeout the
// loopback default applies.
func Resolve(ctx context.Context, explicit string, timeout time.Duration) string {
	if explicit != "" {
		return Normalize(explicit)
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if found := probe(ctx, timeout); found != "" {
		logx.Log.Info().Str("endpoint", found).Msg("discovered PocketMCP service")
		return found
	}
	logx.Log.Warn().Str("endpoint", DefaultEndpoint).Msg("discovery found nothing, using default")
	return DefaultEndpoint
}

func probe(ctx context.Context, timeout time.Duration) string {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("mdns resolver unavailable")
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		logx.Log.Warn().Err(err).Msg("mdns browse failed")
		return ""
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return ""
			}
			if url := entryURL(entry); url != "" {
				cancel()
				return url
			}
		case <-ctx.Done():
			return ""
		}
	}
}

// entryURL builds a websocket URL from the first address a service entry
// advertises, matching what the PocketMCP server announces.
func entryURL(entry *zeroconf.ServiceEntry) string {
	if entry == nil {
		return ""
	}
	for _, ip := range entry.AddrIPv4 {
		return fmt.Sprintf("ws://%s:%d/ws", ip.String(), entry.Port)
	}
	for _, ip := range entry.AddrIPv6 {
		return fmt.Sprintf("ws://[%s]:%d/ws", ip.String(), entry.Port)
	}
	return ""
}
