package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "orchestrator", cfg.Database.Database)
			assert.Equal(t, "job_events", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "job-orchestrator", cfg.App.Name)
			assert.Equal(t, 2*time.Minute, cfg.Providers.ManifestTTL)
			assert.True(t, cfg.Payment.AutoExtend)
			assert.Equal(t, 15*time.Second, cfg.Monitor.Interval)
			assert.Equal(t, 5, cfg.Monitor.MaxAttempts)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Monitor.LeaseTTL, "lease ttl defaults to three intervals")
	assert.Equal(t, 2*time.Minute, cfg.Monitor.StaleAfter)
	assert.Equal(t, 30*time.Second, cfg.Monitor.BackoffInitial)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.BackoffMax)
	assert.Equal(t, 10, cfg.Orchestrator.DuplicateCheckWindow)
	assert.Equal(t, time.Minute, cfg.Cache.ApplicationTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ORCHESTRATOR_DB_PASSWORD", "from-env")
	t.Setenv("ORCHESTRATOR_JWT_SECRET", "env-secret-env-secret-env-secret-env")
	t.Setenv("ORCHESTRATOR_SERVER_PORT", "9999")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "env-secret-env-secret-env-secret-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func validAPIConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Port:     5432,
			Database: "orchestrator",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "job_events"},
			Queue:    QueueConfig{Name: "job_tasks"},
		},
		Auth:      AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef"},
		Providers: ProvidersConfig{RegistryPath: "providers.yaml"},
		Storage:   StorageConfig{Endpoint: "localhost:9000", Bucket: "files"},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:   "memory driver needs no host",
			mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} },
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			errString: "unknown database driver",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:   "rabbitmq disabled",
			mutate: func(c *Config) { c.RabbitMQ = RabbitMQConfig{} },
		},
		{
			name:      "empty exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "short jwt secret",
			mutate:    func(c *Config) { c.Auth.JWTSecret = "short" },
			errString: "jwt_secret",
		},
		{
			name:      "missing provider registry",
			mutate:    func(c *Config) { c.Providers.RegistryPath = "" },
			errString: "registry_path is required",
		},
		{
			name:      "missing storage bucket",
			mutate:    func(c *Config) { c.Storage.Bucket = "" },
			errString: "storage endpoint and bucket are required",
		},
		{
			name: "memory driver without object storage",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverMemory}
				c.Storage = StorageConfig{}
			},
		},
		{
			name:      "invalid metrics port",
			mutate:    func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Port: 0} },
			errString: "invalid metrics port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	base := func() *Config {
		cfg := validAPIConfig()
		cfg.Worker = WorkerConfig{Concurrency: 2, ShutdownTimeout: time.Second}
		cfg.Monitor = MonitorConfig{Interval: time.Second, LeaseTTL: 3 * time.Second, MaxAttempts: 3}
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "shutdown_timeout",
		},
		{
			name:      "lease shorter than interval",
			mutate:    func(c *Config) { c.Monitor.LeaseTTL = c.Monitor.Interval },
			errString: "lease_ttl",
		},
		{
			name:      "no attempts",
			mutate:    func(c *Config) { c.Monitor.MaxAttempts = 0 },
			errString: "max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
