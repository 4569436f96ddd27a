package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Pipeline settings for the scoring core
	Pipeline PipelineConfig `json:"pipeline"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// SimilarityBackend selects how invoice numbers are compared.
type SimilarityBackend string

const (
	// BackendRuleBased scores edit-script similarity with decision rules.
	BackendRuleBased SimilarityBackend = "RULE_BASED"

	// BackendML scores similarity with a pretrained classifier.
	BackendML SimilarityBackend = "ML"
)

// PipelineConfig holds the scoring pipeline knobs.
type PipelineConfig struct {
	// ApprovalMode selects USER / APPROVAL / MIXED evaluation.
	ApprovalMode ApprovalMode `json:"approvalMode"`

	// OptimizerRoot is the directory holding per-rule pipeline artifacts:
	// <root>/<RuleName>/Pipeline/*.{bin,model,xgb,pkl}
	OptimizerRoot string `json:"optimizerRoot"`

	// SimilarityThreshold is a percentage; pairs scoring above it are
	// accepted as duplicates.
	SimilarityThreshold float64 `json:"similarityThreshold"`

	// SimilarityBackend selects RULE_BASED or ML comparison.
	SimilarityBackend SimilarityBackend `json:"similarityBackend"`

	// ExactMatchOnly restricts duplicate detection to identical invoice
	// numbers.
	ExactMatchOnly bool `json:"exactMatchOnly"`

	// PostedDateHorizonDays bounds how far back posted dates are screened.
	PostedDateHorizonDays int `json:"postedDateHorizonDays"`

	// SupplierFirst runs supplier-name blocking before invoice-number
	// blocking. Both wirings are supported.
	SupplierFirst bool `json:"supplierFirst"`

	// IncludeSupplierInKey extends the supplier-phase blocking tuple from
	// (|amount|, invoice date) with the supplier id.
	IncludeSupplierInKey bool `json:"includeSupplierInKey"`

	// MaxBlockSize caps duplicate blocks; larger blocks are dropped.
	MaxBlockSize int `json:"maxBlockSize"`

	// Weights is the ordered rule weight map used in blending.
	Weights RuleWeights `json:"weights"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

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
		Pipeline: PipelineConfig{
			ApprovalMode:          ModeApproval,
			OptimizerRoot:         "./optimizer",
			SimilarityThreshold:   60,
			SimilarityBackend:     BackendRuleBased,
			PostedDateHorizonDays: 365,
			SupplierFirst:         true,
			MaxBlockSize:          1000,
			Weights:               DefaultRuleWeights(),
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
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
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
