// Package metrics exposes Prometheus counters for the bridge and an optional
// HTTP server publishing them alongside a status snapshot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "pocketmcp_bridge_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "bridge"},
		},
		[]string{"date", "sha", "version"},
	)

	retries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pocketmcp_bridge_retries_total",
			Help: "Remote calls retried after a transient failure",
		},
	)

	sessionRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pocketmcp_bridge_session_repairs_total",
			Help: "Session re-initializations triggered by invalidation errors",
		},
	)

	discardedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pocketmcp_bridge_ws_discarded_frames_total",
			Help: "Inbound websocket frames dropped as unmatched or malformed",
		},
	)

	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocketmcp_bridge_tool_calls_total",
			Help: "Tool invocations forwarded to the remote peer",
		},
		[]string{"outcome"},
	)

	cacheRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocketmcp_bridge_tool_cache_refreshes_total",
			Help: "Tool catalog fetches from the remote peer",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(buildInfo, retries, sessionRepairs, discardedFrames, toolCalls, cacheRefreshes)
}

// SetBuildInfo records the build metadata gauge.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RetryObserved counts a transient-failure retry.
func RetryObserved() { retries.Inc() }

// SessionRepairObserved counts a session re-initialization.
func SessionRepairObserved() { sessionRepairs.Inc() }

// FrameDiscarded counts an unmatched or malformed inbound websocket frame.
func FrameDiscarded() { discardedFrames.Inc() }

// ToolCallObserved counts a forwarded tool invocation by outcome ("ok" or "error").
func ToolCallObserved(outcome string) { toolCalls.WithLabelValues(outcome).Inc() }

// CacheRefreshObserved counts a live tool catalog fetch by reason
// ("expired" or "forced").
func CacheRefreshObserved(reason string) { cacheRefreshes.WithLabelValues(reason).Inc() }
