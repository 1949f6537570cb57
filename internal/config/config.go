// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig              `yaml:"app"`
	Storage   StorageConfig          `yaml:"storage"`
	Venues    map[string]VenueConfig `yaml:"venues"`
	Routing   RoutingConfig          `yaml:"routing"`
	Scoring   ScoringConfig          `yaml:"scoring"`
	Generator GeneratorConfig        `yaml:"generator"`
	Executor  ExecutorConfig         `yaml:"executor"`
	Monitor   MonitorConfig          `yaml:"monitor"`
	Health    HealthConfig           `yaml:"health"`
	Server    ServerConfig           `yaml:"server"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
	System    SystemConfig           `yaml:"system"`
	Alert     AlertConfig            `yaml:"alert"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `yaml:"name"`
	EngineType  string `yaml:"engine_type"`  // simple or dbos
	DatabaseURL Secret `yaml:"database_url"` // Required for DBOS
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver     string         `yaml:"driver"` // sqlite, postgres or memory
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   Secret `yaml:"password"`
	Database   string `yaml:"database"`
	SSLMode    string `yaml:"ssl_mode"`
	ConnString Secret `yaml:"conn_string"`
}

// VenueConfig contains venue adapter settings
type VenueConfig struct {
	Type            string        `yaml:"type"` // http or paper
	BaseURL         string        `yaml:"base_url"`
	APIKey          Secret        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	OrdersPerSecond float64       `yaml:"orders_per_second"`
	Paper           PaperConfig   `yaml:"paper"`
}

// PaperConfig seeds a simulated venue
type PaperConfig struct {
	Balance float64       `yaml:"balance"`
	Markets []PaperMarket `yaml:"markets"`
}

// PaperMarket is one market listed by a simulated venue
type PaperMarket struct {
	Token       string  `yaml:"token"`
	Price       float64 `yaml:"price"`
	QtyDecimals int32   `yaml:"qty_decimals"`
	MinQty      float64 `yaml:"min_qty"`
	Inactive    bool    `yaml:"inactive"`
}

// RoutingConfig contains the built-in routing fallback
type RoutingConfig struct {
	DefaultPriority     []string      `yaml:"default_priority"`
	FailoverEnabled     *bool         `yaml:"failover_enabled"`
	AvailabilityTimeout time.Duration `yaml:"availability_timeout"`
}

// Failover returns the effective failover flag
func (r RoutingConfig) Failover() bool {
	return r.FailoverEnabled == nil || *r.FailoverEnabled
}

// ScoringConfig contains the external metrics provider settings
type ScoringConfig struct {
	Enabled            bool          `yaml:"enabled"`
	BaseURL            string        `yaml:"base_url"`
	APIKey             Secret        `yaml:"api_key"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Timeout            time.Duration `yaml:"timeout"`
	DefaultSizePercent float64       `yaml:"default_size_percent"`
}

// GeneratorConfig contains signal generation settings
type GeneratorConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Interval            time.Duration `yaml:"interval"`
	BatchSize           int           `yaml:"batch_size"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	BucketDuration      time.Duration `yaml:"bucket_duration"`
	Lookback            time.Duration `yaml:"lookback"`
}

// ExecutorConfig contains trade execution settings
type ExecutorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxWorkers   int           `yaml:"max_workers"`
	OrderTimeout time.Duration `yaml:"order_timeout"`
}

// MonitorConfig contains position monitoring settings
type MonitorConfig struct {
	Enabled                   bool          `yaml:"enabled"`
	Interval                  time.Duration `yaml:"interval"`
	BatchSize                 int           `yaml:"batch_size"`
	HardStopLossPercent       float64       `yaml:"hard_stop_loss_percent"`
	TrailingActivationPercent float64       `yaml:"trailing_activation_percent"`
	PriceTimeout              time.Duration `yaml:"price_timeout"`
}

// HealthConfig contains pipeline health reporting settings
type HealthConfig struct {
	Interval      time.Duration `yaml:"interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	RoutingWindow time.Duration `yaml:"routing_window"`
	MinMarkets    int           `yaml:"min_markets"`
}

// ServerConfig contains HTTP and gRPC listener settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	GRPCPort       int      `yaml:"grpc_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Production rejects the "*" websocket origin
	Production     bool     `yaml:"production"`

	// AdminAPIKeys guard /api/admin; empty leaves it open
	AdminAPIKeys   []Secret `yaml:"admin_api_keys"`
	AdminRateLimit int      `yaml:"admin_rate_limit"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics    bool            `yaml:"enable_metrics"`
	ServiceName      string          `yaml:"service_name"`
	TraceSampleRatio float64         `yaml:"trace_sample_ratio"`
	StdoutExport     bool            `yaml:"stdout_export"`
	Profiling        ProfilingConfig `yaml:"profiling"`
}

// ProfilingConfig contains continuous profiling settings
type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel        string        `yaml:"log_level"`
	LogFile         string        `yaml:"log_file"`
	LogMaxSizeMB    int           `yaml:"log_max_size_mb"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AlertConfig contains alert channel credentials
type AlertConfig struct {
	SlackWebhookURL  Secret        `yaml:"slack_webhook_url"`
	TelegramBotToken Secret        `yaml:"telegram_bot_token"`
	TelegramChatID   string        `yaml:"telegram_chat_id"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML content, applies defaults and validates
func ParseConfig(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "signal_trader"
	}
	if c.App.EngineType == "" {
		c.App.EngineType = "simple"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "signal_trader.db"
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}

	normalized := make(map[string]VenueConfig, len(c.Venues))
	for name, v := range c.Venues {
		if v.Timeout == 0 {
			v.Timeout = 10 * time.Second
		}
		if v.OrdersPerSecond == 0 {
			v.OrdersPerSecond = 5
		}
		normalized[strings.ToUpper(name)] = v
	}
	c.Venues = normalized

	if len(c.Routing.DefaultPriority) == 0 {
		c.Routing.DefaultPriority = []string{"HYPERLIQUID", "OSTIUM"}
	}
	for i, v := range c.Routing.DefaultPriority {
		c.Routing.DefaultPriority[i] = strings.ToUpper(v)
	}
	if c.Routing.AvailabilityTimeout == 0 {
		c.Routing.AvailabilityTimeout = 5 * time.Second
	}

	if c.Scoring.RequestsPerSecond == 0 {
		c.Scoring.RequestsPerSecond = 5
	}
	if c.Scoring.Timeout == 0 {
		c.Scoring.Timeout = 10 * time.Second
	}
	if c.Scoring.DefaultSizePercent == 0 {
		c.Scoring.DefaultSizePercent = 5
	}

	if c.Generator.Interval == 0 {
		c.Generator.Interval = 5 * time.Minute
	}
	if c.Generator.BatchSize == 0 {
		c.Generator.BatchSize = 100
	}
	if c.Generator.ConfidenceThreshold == 0 {
		c.Generator.ConfidenceThreshold = 0.6
	}
	if c.Generator.BucketDuration == 0 {
		c.Generator.BucketDuration = 6 * time.Hour
	}
	if c.Generator.Lookback == 0 {
		c.Generator.Lookback = 24 * time.Hour
	}

	if c.Executor.Interval == 0 {
		c.Executor.Interval = 30 * time.Second
	}
	if c.Executor.BatchSize == 0 {
		c.Executor.BatchSize = 20
	}
	if c.Executor.MaxWorkers == 0 {
		c.Executor.MaxWorkers = 8
	}
	if c.Executor.OrderTimeout == 0 {
		c.Executor.OrderTimeout = 30 * time.Second
	}

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 30 * time.Second
	}
	if c.Monitor.BatchSize == 0 {
		c.Monitor.BatchSize = 500
	}
	if c.Monitor.HardStopLossPercent == 0 {
		c.Monitor.HardStopLossPercent = 10
	}
	if c.Monitor.TrailingActivationPercent == 0 {
		c.Monitor.TrailingActivationPercent = 3
	}
	if c.Monitor.PriceTimeout == 0 {
		c.Monitor.PriceTimeout = 10 * time.Second
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = 5 * time.Minute
	}
	if c.Health.StaleAfter == 0 {
		c.Health.StaleAfter = 15 * time.Minute
	}
	if c.Health.RoutingWindow == 0 {
		c.Health.RoutingWindow = 24 * time.Hour
	}
	if c.Health.MinMarkets == 0 {
		c.Health.MinMarkets = 5
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.App.Name
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.ShutdownTimeout == 0 {
		c.System.ShutdownTimeout = 30 * time.Second
	}
	if c.Alert.Cooldown == 0 {
		c.Alert.Cooldown = 5 * time.Minute
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	for _, check := range []func() error{
		c.validateAppConfig,
		c.validateStorageConfig,
		c.validateVenues,
		c.validateRoutingConfig,
		c.validateScoringConfig,
		c.validateGeneratorConfig,
		c.validateMonitorConfig,
		c.validateSystemConfig,
	} {
		if err := check(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if !contains([]string{"simple", "dbos"}, c.App.EngineType) {
		return ValidationError{Field: "app.engine_type", Value: c.App.EngineType, Message: "must be one of: simple, dbos"}
	}
	if c.App.EngineType == "dbos" && c.App.DatabaseURL == "" {
		return ValidationError{Field: "app.database_url", Message: "required when engine_type is dbos"}
	}
	return nil
}

func (c *Config) validateStorageConfig() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
		return nil
	case "postgres":
		pg := c.Storage.Postgres
		if pg.ConnString == "" && (pg.Host == "" || pg.Database == "") {
			return ValidationError{Field: "storage.postgres", Message: "host and database (or conn_string) are required"}
		}
		return nil
	default:
		return ValidationError{Field: "storage.driver", Value: c.Storage.Driver, Message: "must be one of: sqlite, postgres, memory"}
	}
}

func (c *Config) validateVenues() error {
	if len(c.Venues) == 0 {
		return ValidationError{Field: "venues", Message: "at least one venue must be configured"}
	}
	for name, v := range c.Venues {
		switch v.Type {
		case "http":
			if v.BaseURL == "" {
				return ValidationError{Field: "venues." + name + ".base_url", Message: "required for http venues"}
			}
		case "paper":
			for _, m := range v.Paper.Markets {
				if m.Token == "" || m.Price <= 0 {
					return ValidationError{Field: "venues." + name + ".paper.markets", Value: m.Token, Message: "token and positive price are required"}
				}
			}
		default:
			return ValidationError{Field: "venues." + name + ".type", Value: v.Type, Message: "must be one of: http, paper"}
		}
	}
	return nil
}

func (c *Config) validateRoutingConfig() error {
	for _, v := range c.Routing.DefaultPriority {
		if _, ok := c.Venues[v]; !ok {
			return ValidationError{Field: "routing.default_priority", Value: v, Message: "venue not configured in venues section"}
		}
	}
	return nil
}

func (c *Config) validateScoringConfig() error {
	if c.Scoring.Enabled && c.Scoring.BaseURL == "" {
		return ValidationError{Field: "scoring.base_url", Message: "required when scoring is enabled"}
	}
	if c.Scoring.DefaultSizePercent < 0 || c.Scoring.DefaultSizePercent > 10 {
		return ValidationError{Field: "scoring.default_size_percent", Value: c.Scoring.DefaultSizePercent, Message: "must be between 0 and 10"}
	}
	return nil
}

func (c *Config) validateGeneratorConfig() error {
	if c.Generator.ConfidenceThreshold <= 0 || c.Generator.ConfidenceThreshold > 1 {
		return ValidationError{Field: "generator.confidence_threshold", Value: c.Generator.ConfidenceThreshold, Message: "must be in (0, 1]"}
	}
	if c.Generator.BucketDuration < time.Minute {
		return ValidationError{Field: "generator.bucket_duration", Value: c.Generator.BucketDuration, Message: "must be at least 1m"}
	}
	return nil
}

func (c *Config) validateMonitorConfig() error {
	if c.Monitor.HardStopLossPercent <= 0 || c.Monitor.HardStopLossPercent >= 100 {
		return ValidationError{Field: "monitor.hard_stop_loss_percent", Value: c.Monitor.HardStopLossPercent, Message: "must be in (0, 100)"}
	}
	if c.Monitor.TrailingActivationPercent < 0 {
		return ValidationError{Field: "monitor.trailing_activation_percent", Value: c.Monitor.TrailingActivationPercent, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	if r := c.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		return ValidationError{Field: "telemetry.trace_sample_ratio", Value: r, Message: "must be between 0 and 1"}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
