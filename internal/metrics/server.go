package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
)

// VersionInfo is served on /version.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

// ProcessStats reports resource usage of the bridge process itself.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	UptimeSecs float64 `json:"uptime_secs"`
}

var startedAt = time.Now()

func processStats() ProcessStats {
	stats := ProcessStats{PID: int32(os.Getpid()), UptimeSecs: time.Since(startedAt).Seconds()}
	proc, err := process.NewProcess(stats.PID)
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}

// StartServer starts an HTTP server exposing /metrics, /status, /version and
// /healthz, shutting down when ctx is done. The status callback supplies the
// bridge's own snapshot and may be nil. It returns the resolved listen address.
func StartServer(ctx context.Context, addr string, version VersionInfo, status func() any) (string, error) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(version)
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]any{"process": processStats()}
		if status != nil {
			payload["bridge"] = status()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})

	srv := &http.Server{Handler: r}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Str("addr", actual).Msg("metrics server error")
		}
	}()
	return actual, nil
}
