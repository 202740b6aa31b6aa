package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Auth         AuthConfig         `yaml:"auth"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Storage      StorageConfig      `yaml:"storage"`
	Payment      PaymentConfig      `yaml:"payment"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Cache        CacheConfig        `yaml:"cache"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds principal token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ProvidersConfig holds provider registry and client settings
type ProvidersConfig struct {
	RegistryPath     string        `yaml:"registry_path"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ManifestTTL      time.Duration `yaml:"manifest_ttl"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// StorageConfig holds S3-compatible object storage settings for the file service
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// PaymentConfig holds accounting policy
type PaymentConfig struct {
	AutoExtend bool `yaml:"auto_extend"`
}

// OrchestratorConfig holds job lifecycle settings
type OrchestratorConfig struct {
	SubmitTimeout         time.Duration `yaml:"submit_timeout"`
	DuplicateCheckWindow  int           `yaml:"duplicate_check_window"`
	DefaultTimeAllocation time.Duration `yaml:"default_time_allocation"`
}

// MonitorConfig holds reconciliation loop settings
type MonitorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	CancelTimeout  time.Duration `yaml:"cancel_timeout"`
	BatchSize      int           `yaml:"batch_size"`
	Concurrency    int           `yaml:"concurrency"`
}

// CacheConfig holds TTLs for verification read caches
type CacheConfig struct {
	ApplicationTTL time.Duration `yaml:"application_ttl"`
	ProductTTL     time.Duration `yaml:"product_ttl"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

// applyEnv overrides secrets from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("ORCHESTRATOR_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("ORCHESTRATOR_RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("ORCHESTRATOR_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ORCHESTRATOR_S3_SECRET_KEY"); v != "" {
		c.Storage.SecretKey = v
	}
	if v := os.Getenv("ORCHESTRATOR_WORKER_ID"); v != "" {
		c.Worker.ID = v
	}
	if v, err := strconv.Atoi(os.Getenv("ORCHESTRATOR_SERVER_PORT")); err == nil && v > 0 {
		c.Server.Port = v
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 5 * time.Minute
	}
	if c.Providers.RequestTimeout <= 0 {
		c.Providers.RequestTimeout = 30 * time.Second
	}
	if c.Providers.ManifestTTL <= 0 {
		c.Providers.ManifestTTL = 5 * time.Minute
	}
	if c.Orchestrator.SubmitTimeout <= 0 {
		c.Orchestrator.SubmitTimeout = time.Minute
	}
	if c.Orchestrator.DuplicateCheckWindow <= 0 {
		c.Orchestrator.DuplicateCheckWindow = 10
	}
	if c.Orchestrator.DefaultTimeAllocation <= 0 {
		c.Orchestrator.DefaultTimeAllocation = time.Hour
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = 30 * time.Second
	}
	if c.Monitor.StaleAfter <= 0 {
		c.Monitor.StaleAfter = 2 * time.Minute
	}
	if c.Monitor.LeaseTTL <= 0 {
		c.Monitor.LeaseTTL = 3 * c.Monitor.Interval
	}
	if c.Monitor.MaxAttempts <= 0 {
		c.Monitor.MaxAttempts = 8
	}
	if c.Monitor.BackoffInitial <= 0 {
		c.Monitor.BackoffInitial = 30 * time.Second
	}
	if c.Monitor.BackoffMax <= 0 {
		c.Monitor.BackoffMax = 10 * time.Minute
	}
	if c.Monitor.CancelTimeout <= 0 {
		c.Monitor.CancelTimeout = 10 * time.Minute
	}
	if c.Monitor.BatchSize <= 0 {
		c.Monitor.BatchSize = 500
	}
	if c.Monitor.Concurrency <= 0 {
		c.Monitor.Concurrency = 4
	}
	if c.Cache.ApplicationTTL <= 0 {
		c.Cache.ApplicationTTL = time.Minute
	}
	if c.Cache.ProductTTL <= 0 {
		c.Cache.ProductTTL = time.Minute
	}
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres, "":
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// validateStorage requires object storage unless the whole service runs in memory.
func (c *Config) validateStorage() error {
	if c.Database.Driver == DriverMemory && c.Storage.Endpoint == "" {
		return nil
	}
	if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
		return fmt.Errorf("storage endpoint and bucket are required")
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth jwt_secret must be at least 32 bytes")
	}

	if c.Providers.RegistryPath == "" {
		return fmt.Errorf("providers registry_path is required")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Metrics.Enabled && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Providers.RegistryPath == "" {
		return fmt.Errorf("providers registry_path is required")
	}

	if c.Monitor.MaxAttempts <= 0 {
		return fmt.Errorf("monitor max_attempts must be greater than 0")
	}

	if c.Monitor.LeaseTTL <= c.Monitor.Interval {
		return fmt.Errorf("monitor lease_ttl must be longer than interval")
	}

	return nil
}
