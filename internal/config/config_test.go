package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	cfg := BridgeConfig{RequestTimeout: 30 * time.Second, ToolCacheTTL: 30 * time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero request timeout must be rejected")
	}

	cfg.RequestTimeout = 30 * time.Second
	cfg.ToolCacheTTL = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatalf("negative cache ttl must be rejected")
	}
}

func TestNormalizePort(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"9090", ":9090"},
		{":9090", ":9090"},
		{"127.0.0.1:9090", "127.0.0.1:9090"},
	}
	for _, tc := range cases {
		if got := normalizePort(tc.in); got != tc.want {
			t.Fatalf("normalizePort(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestEnvSeconds(t *testing.T) {
	t.Setenv("BRIDGE_TEST_SECONDS", "2.5")
	if got := envSeconds("BRIDGE_TEST_SECONDS", time.Second); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %s", got)
	}
	if got := envSeconds("BRIDGE_TEST_UNSET", 7*time.Second); got != 7*time.Second {
		t.Fatalf("unset variable must keep the default, got %s", got)
	}
	t.Setenv("BRIDGE_TEST_SECONDS", "not a number")
	if got := envSeconds("BRIDGE_TEST_SECONDS", 7*time.Second); got != 7*time.Second {
		t.Fatalf("unparseable value must keep the default, got %s", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	body := "server_url: http://phone:8080\napi_key: secret\nrequest_timeout: 45s\nno_tool_cache: true\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := BridgeConfig{ClientName: "preset"}
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "http://phone:8080" || cfg.APIKey != "secret" {
		t.Fatalf("unexpected endpoint config %+v", cfg)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %s", cfg.RequestTimeout)
	}
	if !cfg.NoToolCache || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected flags %+v", cfg)
	}
	if cfg.ClientName != "preset" {
		t.Fatalf("fields absent from the file must survive, got %q", cfg.ClientName)
	}
}

func TestLoadFileMissing(t *testing.T) {
	var cfg BridgeConfig
	err := cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	cases := []struct {
		goos        string
		home        string
		programData string
		want        string
	}{
		{"darwin", "/Users/dev", "", "/Users/dev/Library/Application Support/pocketmcp/bridge.yaml"},
		{"windows", "", `C:\ProgramData\`, `C:\ProgramData/pocketmcp/bridge.yaml`},
		{"windows", "", "", "C:/ProgramData/pocketmcp/bridge.yaml"},
		{"linux", "/home/dev", "", "/etc/pocketmcp/bridge.yaml"},
		{"freebsd", "/home/dev", "", "/etc/pocketmcp/bridge.yaml"},
	}
	for _, tc := range cases {
		got := ResolveConfigPath(tc.goos, tc.home, tc.programData, "bridge.yaml")
		if filepath.ToSlash(got) != filepath.ToSlash(tc.want) {
			t.Fatalf("%s: got %q want %q", tc.goos, got, tc.want)
		}
	}
}
