package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketmcp/pocketmcp-bridge/internal/bridge"
	"github.com/pocketmcp/pocketmcp-bridge/internal/config"
	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/metrics"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.BridgeConfig
	cfg.BindFlags()
	flag.Parse()
	if *showVersion {
		fmt.Printf("pocketmcp-bridge version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid configuration")
	}
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ver := metrics.VersionInfo{Version: version, BuildSHA: buildSHA, BuildDate: buildDate}
	if err := bridge.Run(ctx, cfg, ver); err != nil && !errors.Is(err, context.Canceled) {
		logx.Log.Fatal().Err(err).Msg("bridge stopped")
	}
}
