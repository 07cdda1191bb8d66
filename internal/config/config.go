// Package config loads the Larder configuration from defaults, an
// optional YAML file and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/larder/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "LARDER_CONFIG"
	tierEnv         = "LARDER_TIER"
	debugEnv        = "LARDER_DEBUG"
	dbPathEnv       = "LARDER_DB_PATH"
	postgresHostEnv = "LARDER_POSTGRES_HOST"
	postgresPassEnv = "LARDER_POSTGRES_PASSWORD"
	redisAddrEnv    = "LARDER_REDIS_ADDR"
	natsURLEnv      = "LARDER_NATS_URL"
	portEnv         = "LARDER_PORT"
	autoExecuteEnv  = "LARDER_AUTO_EXECUTE"
)

// Load builds the configuration. The tier defaults are chosen by the
// file's tier or LARDER_TIER, the file at path (or LARDER_CONFIG) is laid
// over them and environment variables win last. An empty path with no
// LARDER_CONFIG yields the defaults.
func Load(path string) (*domain.Config, error) {
	if path == "" {
		path = os.Getenv(configPathEnv)
	}

	var raw []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
		}
		raw = b
	}

	tier := domain.Tier(os.Getenv(tierEnv))
	if len(raw) > 0 {
		var peek struct {
			Tier domain.Tier `yaml:"tier"`
		}
		if err := yaml.Unmarshal(raw, &peek); err != nil {
			return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
		}
		if peek.Tier != "" && tier == "" {
			tier = peek.Tier
		}
	}

	cfg := defaultsFor(tier)
	if len(raw) > 0 {
		// Fields absent from the file keep their defaults.
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
		}
		if tier != "" {
			cfg.Tier = tier
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the tier defaults without reading
// the environment.
func Parse(raw []byte) (*domain.Config, error) {
	var peek struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if err := yaml.Unmarshal(raw, &peek); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := defaultsFor(peek.Tier)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeDomains lays configured domains over the built-in ones. A
// configured domain replaces the built-in of the same name; new names are
// appended in file order.
func MergeDomains(builtin, overrides []domain.DomainConfig) []domain.DomainConfig {
	merged := make([]domain.DomainConfig, 0, len(builtin)+len(overrides))
	index := make(map[string]int, len(builtin))
	for _, d := range builtin {
		index[d.Name] = len(merged)
		merged = append(merged, d)
	}
	for _, d := range overrides {
		if i, ok := index[d.Name]; ok {
			merged[i] = d
			continue
		}
		index[d.Name] = len(merged)
		merged = append(merged, d)
	}
	return merged
}

func defaultsFor(tier domain.Tier) *domain.Config {
	if tier == domain.TierPro {
		return domain.ProConfig()
	}
	return domain.DefaultConfig()
}

func applyEnvOverrides(c *domain.Config) error {
	if os.Getenv(debugEnv) == "true" {
		c.Logging.Level = "debug"
	}

	if v := os.Getenv(dbPathEnv); v != "" {
		c.Repository.SQLitePath = v
	}
	if v := os.Getenv(postgresHostEnv); v != "" {
		c.Repository.PostgresHost = v
	}
	if v := os.Getenv(postgresPassEnv); v != "" {
		c.Repository.PostgresPassword = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv(natsURLEnv); v != "" {
		c.EventBus.NATSUrl = v
	}

	if v := os.Getenv(portEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be a number: %w", portEnv, err)
		}
		c.Server.Port = port
	}

	if v := os.Getenv(autoExecuteEnv); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s must be a boolean: %w", autoExecuteEnv, err)
		}
		c.Automation.AutoExecute = on
	}
	return nil
}

func validate(c *domain.Config) error {
	switch c.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidConfig, c.Tier)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", domain.ErrInvalidConfig, c.Server.Port)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", domain.ErrInvalidConfig, c.Repository.Driver)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, c.Logging.Level)
	}
	seen := make(map[string]bool, len(c.Automation.Rules))
	for _, r := range c.Automation.Rules {
		if r.Category == "" || seen[r.Category] {
			return fmt.Errorf("%w: automation rules need unique categories", domain.ErrInvalidConfig)
		}
		seen[r.Category] = true
	}
	return nil
}
