package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "larder.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv(configPathEnv, "")
		t.Setenv(tierEnv, "")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Tier != domain.TierCommunity {
			t.Errorf("expected community tier, got %s", cfg.Tier)
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
		}
		if len(cfg.Automation.Rules) == 0 {
			t.Error("expected default automation rules")
		}
	})

	t.Run("ProTierFromEnv", func(t *testing.T) {
		t.Setenv(tierEnv, "pro")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" {
			t.Errorf("expected pro stack, got %s/%s", cfg.Repository.Driver, cfg.EventBus.Type)
		}
	})

	t.Run("FileOverDefaults", func(t *testing.T) {
		t.Setenv(tierEnv, "")
		path := writeFile(t, `
server:
  port: 9090
automation:
  fulfillmentTimeout: 3s
  rules:
    - category: reorder
      condition: "cost_max > 900.0"
campaign:
  baseRates:
    sms: 0.1
domains:
  - name: catering
    intervention: call_client
`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected default host kept, got %q", cfg.Server.Host)
		}
		if cfg.Automation.FulfillmentTimeout != 3*time.Second {
			t.Errorf("expected 3s timeout, got %v", cfg.Automation.FulfillmentTimeout)
		}
		if len(cfg.Automation.Rules) != 1 || cfg.Automation.Rules[0].Condition != "cost_max > 900.0" {
			t.Errorf("expected file rules to replace defaults, got %+v", cfg.Automation.Rules)
		}
		if cfg.Campaign.BaseRates["sms"] != 0.1 || cfg.Campaign.BaseRates["email"] != 0.04 {
			t.Errorf("expected merged base rates, got %v", cfg.Campaign.BaseRates)
		}
		if cfg.Campaign.MaxSuccess != 0.6 {
			t.Errorf("expected default max success kept, got %f", cfg.Campaign.MaxSuccess)
		}
		if len(cfg.Domains) != 1 || cfg.Domains[0].Name != "catering" {
			t.Errorf("unexpected domains %+v", cfg.Domains)
		}
	})

	t.Run("TierFromFile", func(t *testing.T) {
		t.Setenv(tierEnv, "")
		cfg, err := Load(writeFile(t, "tier: pro\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Cache.Type != "redis" {
			t.Errorf("expected pro defaults from file tier, got cache %s", cfg.Cache.Type)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv(tierEnv, "")
		t.Setenv(portEnv, "7070")
		t.Setenv(dbPathEnv, "/tmp/other.db")
		t.Setenv(debugEnv, "true")
		t.Setenv(autoExecuteEnv, "true")

		cfg, err := Load(writeFile(t, "server:\n  port: 9090\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected env port to win, got %d", cfg.Server.Port)
		}
		if cfg.Repository.SQLitePath != "/tmp/other.db" {
			t.Errorf("unexpected db path %s", cfg.Repository.SQLitePath)
		}
		if cfg.Logging.Level != "debug" || !cfg.Automation.AutoExecute {
			t.Errorf("expected debug logging and auto execution, got %s/%v", cfg.Logging.Level, cfg.Automation.AutoExecute)
		}
	})

	t.Run("BadPortEnv", func(t *testing.T) {
		t.Setenv(tierEnv, "")
		t.Setenv(portEnv, "eighty")
		if _, err := Load(""); err == nil {
			t.Error("expected error for non-numeric port")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		if _, err := Load(writeFile(t, "server: [1, 2")); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"tier":      "tier: enterprise\n",
		"port":      "server:\n  port: 70000\n",
		"driver":    "repository:\n  driver: mysql\n",
		"log level": "logging:\n  level: loud\n",
		"rules": `
automation:
  rules:
    - category: reorder
    - category: reorder
`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestMergeDomains(t *testing.T) {
	builtin := []domain.DomainConfig{
		{Name: "churn", Intervention: "personal_outreach"},
		{Name: "inventory", Intervention: "emergency_reorder"},
	}
	overrides := []domain.DomainConfig{
		{Name: "inventory", Intervention: "call_supplier"},
		{Name: "catering", Intervention: "call_client"},
	}

	merged := MergeDomains(builtin, overrides)
	if len(merged) != 3 {
		t.Fatalf("expected 3 domains, got %d", len(merged))
	}
	if merged[0].Name != "churn" || merged[1].Intervention != "call_supplier" || merged[2].Name != "catering" {
		t.Errorf("unexpected merge result %+v", merged)
	}
	if builtin[1].Intervention != "emergency_reorder" {
		t.Error("builtin slice must not be modified")
	}
}
