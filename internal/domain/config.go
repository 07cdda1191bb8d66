package domain

import "time"

// Config holds the complete Larder configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	Automation AutomationConfig `json:"automation" yaml:"automation"`
	Campaign   CampaignConfig   `json:"campaign" yaml:"campaign"`

	// Domains overrides or extends the built-in domain tables.
	Domains []DomainConfig `json:"domains,omitempty" yaml:"domains,omitempty"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// allows any origin without credentials.
	CORSOrigins []string `json:"corsOrigins,omitempty" yaml:"corsOrigins,omitempty"`
}

// AutomationConfig holds AutomationEngine settings.
type AutomationConfig struct {
	Rules []AutomationRule `json:"rules" yaml:"rules"`

	// FulfillmentTimeout bounds each external fulfillment call.
	FulfillmentTimeout time.Duration `json:"fulfillmentTimeout" yaml:"fulfillmentTimeout"`

	// AutoExecute lets the worker automate the top recommendation of
	// highest-tier evaluations.
	AutoExecute bool `json:"autoExecute" yaml:"autoExecute"`

	// LockTTL bounds distributed entity locks.
	LockTTL time.Duration `json:"lockTtl" yaml:"lockTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-memory cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultAutomationRules returns the default approval gates.
// Supplier orders auto-execute unless they are expensive; customer
// offers auto-execute; campaigns always need a manager's approval.
func DefaultAutomationRules() []AutomationRule {
	return []AutomationRule{
		{Category: "reorder", Condition: "cost_max > 1500.0 || quantity > 500.0"},
		{Category: "retention", Condition: "cost_max > 250.0"},
		{Category: "marketing", RequiresApproval: true},
		{Category: "operations", RequiresApproval: false},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./larder.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			EvaluationTTL: time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Automation: AutomationConfig{
			Rules:              DefaultAutomationRules(),
			FulfillmentTimeout: 10 * time.Second,
			LockTTL:            30 * time.Second,
		},
		Campaign: DefaultCampaignConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "larder",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "larder",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		EvaluationTTL:  time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "larder-workers",
	}
	cfg.Automation.AutoExecute = true
	cfg.Tracing.Enabled = true
	return cfg
}
