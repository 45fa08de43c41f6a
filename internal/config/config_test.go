package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ari/llm-ledger/internal/pricing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_MissingFile(t *testing.T) {
	nonExistentPath := filepath.Join(t.TempDir(), "non-existent.toml")

	// Should NOT return error, but use defaults
	cfg, err := LoadConfig(nonExistentPath)
	if err != nil {
		t.Fatalf("LoadConfig failed for missing file: %v", err)
	}

	if cfg == nil {
		t.Fatal("Expected config, got nil")
	}
	if cfg.Path() != "" {
		t.Errorf("Path() = %q; want empty when running on defaults", cfg.Path())
	}

	// Verify defaults
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v; want info/text", cfg.Logging)
	}
	if cfg.Server.Addr != ":8090" {
		t.Errorf("Server.Addr = %q; want :8090", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Server.ReadTimeout = %v; want 10s", cfg.Server.ReadTimeout)
	}

	table, err := cfg.PricingTable()
	if err != nil {
		t.Fatalf("PricingTable() error = %v", err)
	}
	if len(table.Rates) != len(pricing.DefaultTable().Rates) {
		t.Errorf("len(Rates) = %d; want default table", len(table.Rates))
	}
	if table.Fallback != pricing.DefaultFallback {
		t.Errorf("Fallback = %+v; want default", table.Fallback)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
archive = "/tmp/calls.db"

[logging]
level = "debug"
format = "json"

[server]
addr = "127.0.0.1:9999"
read_timeout = "3s"

[pricing.fallback]
prompt_per_1k = 0.02
completion_per_1k = 0.1

[[pricing.rates]]
prefix = "gpt-4o-mini"
prompt_per_1k = 0.00015
completion_per_1k = 0.0006

[[pricing.rates]]
prefix = "gpt-4o"
prompt_per_1k = 0.0025
completion_per_1k = 0.01
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Path() != path {
		t.Errorf("Path() = %q; want %q", cfg.Path(), path)
	}
	if cfg.Archive != "/tmp/calls.db" {
		t.Errorf("Archive = %q", cfg.Archive)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" || cfg.Server.ReadTimeout != 3*time.Second {
		t.Errorf("Server = %+v", cfg.Server)
	}
	// Unset keys keep their defaults
	if cfg.Server.WriteTimeout != 10*time.Second {
		t.Errorf("Server.WriteTimeout = %v; want default 10s", cfg.Server.WriteTimeout)
	}

	table, err := cfg.PricingTable()
	if err != nil {
		t.Fatalf("PricingTable() error = %v", err)
	}
	if len(table.Rates) != 2 || table.Rates[0].Prefix != "gpt-4o-mini" {
		t.Errorf("Rates = %+v; want configured order", table.Rates)
	}
	if table.Fallback.PromptPer1K != 0.02 || table.Fallback.CompletionPer1K != 0.1 {
		t.Errorf("Fallback = %+v", table.Fallback)
	}
	if got := table.EstimateCost("unknown", 1000, 0); got != 0.02 {
		t.Errorf("EstimateCost(unknown) = %v; want 0.02", got)
	}
}

func TestLoadConfig_InvalidPricing(t *testing.T) {
	path := writeConfig(t, `
[[pricing.rates]]
prefix = ""
prompt_per_1k = 0.001
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for empty pricing prefix")
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := writeConfig(t, "this is = = not toml")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("LLM_LEDGER_SERVER_ADDR", ":7777")
	t.Setenv("LLM_LEDGER_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("Server.Addr = %q; want :7777 from env", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q; want warn from env", cfg.Logging.Level)
	}
}

func TestGetArchivePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		archive  string
		expected string
	}{
		{"", ""},
		{"/var/lib/calls.db", "/var/lib/calls.db"},
		{"~/calls.db", filepath.Join(home, "calls.db")},
	}

	for _, tt := range tests {
		t.Run(tt.archive, func(t *testing.T) {
			cfg := &Config{Archive: tt.archive}
			if got := cfg.GetArchivePath(); got != tt.expected {
				t.Errorf("GetArchivePath() = %q; want %q", got, tt.expected)
			}
		})
	}
}

func TestOnChangeWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.OnChange(func(*Config) {}, nil); err == nil {
		t.Error("expected error watching a config that was not read from a file")
	}
}

func TestOnChangeReloadsPricing(t *testing.T) {
	path := writeConfig(t, `
[[pricing.rates]]
prefix = "gpt-4o"
prompt_per_1k = 0.0025
completion_per_1k = 0.01
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 4)
	if err := cfg.OnChange(func(c *Config) { changed <- c }, nil); err != nil {
		t.Fatalf("OnChange() error = %v", err)
	}

	// Give the watcher a moment to register before writing
	time.Sleep(100 * time.Millisecond)
	err = os.WriteFile(path, []byte(`
[[pricing.rates]]
prefix = "gpt-4o"
prompt_per_1k = 0.005
completion_per_1k = 0.02
`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case next := <-changed:
			table, err := next.PricingTable()
			if err != nil {
				t.Fatalf("PricingTable() error = %v", err)
			}
			if table.Rates[0].PromptPer1K == 0.005 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
