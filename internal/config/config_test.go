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
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, "docjobs", cfg.App.Name)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "docjobs_db", cfg.Database.Database)
				assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, 4, cfg.Queue.Workers)
				assert.Equal(t, 3, cfg.Queue.MaxRetries)
				assert.Equal(t, 5*time.Second, cfg.Queue.RetryDelay)
				assert.Equal(t, StorePostgres, cfg.Queue.Store)
				assert.Equal(t, TransportRabbitMQ, cfg.Queue.Transport)
				assert.Equal(t, 10*time.Minute, cfg.Scheduler.StepTimeout)
				assert.Equal(t, 3, cfg.Webhook.MaxRetries)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "docjobs_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "jobs_exchange",
			},
			Queue: BrokerQueue{
				Name: "jobs_queue",
			},
		},
		Queue: QueueConfig{
			Workers:    4,
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
			Store:      StorePostgres,
			Transport:  TransportRabbitMQ,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "memory store needs no database",
			mutate: func(c *Config) {
				c.Queue.Store = StoreMemory
				c.Database = DatabaseConfig{}
			},
			wantErr: false,
		},
		{
			name: "local transport needs no broker",
			mutate: func(c *Config) {
				c.Queue.Transport = TransportLocal
				c.RabbitMQ = RabbitMQConfig{}
			},
			wantErr: false,
		},
		{
			name: "empty transport defaults to local",
			mutate: func(c *Config) {
				c.Queue.Transport = ""
				c.RabbitMQ = RabbitMQConfig{}
			},
			wantErr: false,
		},
		{
			name: "zero workers",
			mutate: func(c *Config) {
				c.Queue.Workers = 0
			},
			wantErr:   true,
			errString: "queue workers must be greater than 0",
		},
		{
			name: "zero max retries",
			mutate: func(c *Config) {
				c.Queue.MaxRetries = 0
			},
			wantErr:   true,
			errString: "queue max_retries must be greater than 0",
		},
		{
			name: "zero retry delay",
			mutate: func(c *Config) {
				c.Queue.RetryDelay = 0
			},
			wantErr:   true,
			errString: "queue retry_delay must be greater than 0",
		},
		{
			name: "unknown store",
			mutate: func(c *Config) {
				c.Queue.Store = "redis"
			},
			wantErr:   true,
			errString: "unknown queue store",
		},
		{
			name: "postgres store without database host",
			mutate: func(c *Config) {
				c.Database.Host = ""
			},
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "postgres store without database name",
			mutate: func(c *Config) {
				c.Database.Database = ""
			},
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "postgres store with bad port",
			mutate: func(c *Config) {
				c.Database.Port = 70000
			},
			wantErr:   true,
			errString: "invalid database port",
		},
		{
			name: "unknown transport",
			mutate: func(c *Config) {
				c.Queue.Transport = "kafka"
			},
			wantErr:   true,
			errString: "unknown queue transport",
		},
		{
			name: "rabbitmq transport without host",
			mutate: func(c *Config) {
				c.RabbitMQ.Host = ""
			},
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq transport without exchange",
			mutate: func(c *Config) {
				c.RabbitMQ.Exchange.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "rabbitmq transport without queue",
			mutate: func(c *Config) {
				c.RabbitMQ.Queue.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name: "negative webhook retries",
			mutate: func(c *Config) {
				c.Webhook.MaxRetries = -1
			},
			wantErr:   true,
			errString: "webhook max_retries cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
