// Package config handles YAML configuration loading with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Queue     QueueConfig     `yaml:"queue"`
	Admission AdmissionConfig `yaml:"admission"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Streaming StreamingConfig `yaml:"streaming"`
	EventBus  EventBusConfig  `yaml:"event_bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Repository RepositoryConfig `yaml:"repository"`
	Billing    BillingConfig    `yaml:"billing"`
	Graphs    []GraphEntry    `yaml:"graphs"`
	SharedRepositories []SharedRepoEntry `yaml:"shared_repositories"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings. Credential validation is an
// external collaborator concern; this struct only configures the built-in
// static API key authenticator used when no other Authenticator is wired.
type AuthConfig struct {
	AdminToken string        `yaml:"admin_token"`
	APIKeys    []APIKeyEntry `yaml:"api_keys"`
}

// APIKeyEntry configures one statically-provisioned API key.
type APIKeyEntry struct {
	Name             string   `yaml:"name"`
	Key              string   `yaml:"key"`
	Role             string   `yaml:"role"` // admin, member, viewer, service_account
	OrgID            string   `yaml:"org_id"`
	AccessibleGraphs []string `yaml:"accessible_graphs"` // nil = all graphs
}

// QueueConfig mirrors QueryQueue's tunables.
type QueueConfig struct {
	MaxSize                 int           `yaml:"max_size"`
	MaxConcurrent           int           `yaml:"max_concurrent"`
	MaxPerUser              int           `yaml:"max_per_user"`
	DefaultExecutionTimeout time.Duration `yaml:"default_execution_timeout"`
	DefaultPriority         int           `yaml:"default_priority"`
	PriorityBoostPremium    int           `yaml:"priority_boost_premium"`
}

// AdmissionConfig mirrors AdmissionController's tunables.
type AdmissionConfig struct {
	MemoryThreshold     float64       `yaml:"memory_threshold"`
	CPUThreshold        float64       `yaml:"cpu_threshold"`
	QueueThreshold      float64       `yaml:"queue_threshold"`
	CheckInterval       time.Duration `yaml:"check_interval"`
	LoadSheddingEnabled bool          `yaml:"load_shedding_enabled"`
	ShedStartPressure   float64       `yaml:"shed_start_pressure"`
	ShedStopPressure    float64       `yaml:"shed_stop_pressure"`
}

// BreakerConfig mirrors the circuit breaker's tunables.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// StreamingConfig holds tier-dependent NDJSON/SSE chunk sizes.
type StreamingConfig struct {
	StandardChunkSize   int `yaml:"standard_chunk_size"`
	EnterpriseChunkSize int `yaml:"enterprise_chunk_size"`
	PremiumChunkSize    int `yaml:"premium_chunk_size"`
}

// EventBusConfig holds the SSE operation bus's tunables.
type EventBusConfig struct {
	Enabled               bool          `yaml:"enabled"`
	MaxConnectionsPerUser int           `yaml:"max_connections_per_user"`
	ConnectionRatePerMin  int           `yaml:"connection_rate_per_min"`
	MaxConsecutiveFailures int          `yaml:"max_consecutive_failures"`
	KeepaliveInterval     time.Duration `yaml:"keepalive_interval"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// RepositoryConfig points at the HTTP-backed graph-database service this
// gateway proxies queries to. Empty BaseURL means no Repository is wired: the
// query endpoints are still registered but cannot execute queries, and the
// storage-billing worker is not started (useful for running the
// credits/admin surface standalone, e.g. in tests).
type RepositoryConfig struct {
	BaseURL string `yaml:"base_url"`
}

// BillingConfig controls the recurring credit workers.
type BillingConfig struct {
	MonthlyAllocationSchedule string  `yaml:"monthly_allocation_schedule"` // cron expression
	StorageBillingSchedule    string  `yaml:"storage_billing_schedule"`    // cron expression
	PricePerGBDay             float64 `yaml:"price_per_gb_day"`
	BreakerEvictionInterval   time.Duration `yaml:"breaker_eviction_interval"`
	BreakerMaxIdle            time.Duration `yaml:"breaker_max_idle"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// GraphEntry seeds a graph's credit pool at bootstrap.
type GraphEntry struct {
	GraphID           string  `yaml:"graph_id"`
	Tier              string  `yaml:"tier"`
	MonthlyAllocation float64 `yaml:"monthly_allocation"`
	StorageLimitGB    float64 `yaml:"storage_limit_gb"`
}

// SharedRepoEntry seeds a shared repository's per-operation cost table.
type SharedRepoEntry struct {
	Name  string             `yaml:"name"`
	Costs map[string]float64 `yaml:"costs"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables
// and filling in documented defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns the documented configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{DSN: "cyphergate.db"},
		Queue: QueueConfig{
			MaxSize:                 1000,
			MaxConcurrent:           50,
			MaxPerUser:              10,
			DefaultExecutionTimeout: 300 * time.Second,
			DefaultPriority:         5,
			PriorityBoostPremium:    3,
		},
		Admission: AdmissionConfig{
			MemoryThreshold:     90,
			CPUThreshold:        90,
			QueueThreshold:      90,
			CheckInterval:       5 * time.Second,
			LoadSheddingEnabled: true,
			ShedStartPressure:   80,
			ShedStopPressure:    60,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenMaxCalls: 3,
		},
		Streaming: StreamingConfig{
			StandardChunkSize:   1000,
			EnterpriseChunkSize: 2000,
			PremiumChunkSize:    5000,
		},
		EventBus: EventBusConfig{
			Enabled:                true,
			MaxConnectionsPerUser:  5,
			ConnectionRatePerMin:   10,
			MaxConsecutiveFailures: 3,
			KeepaliveInterval:      20 * time.Second,
		},
		Billing: BillingConfig{
			MonthlyAllocationSchedule: "0 0 1 * *",
			StorageBillingSchedule:    "0 2 * * *",
			PricePerGBDay:             0.1,
			BreakerEvictionInterval:   10 * time.Minute,
			BreakerMaxIdle:            time.Hour,
		},
	}
}
