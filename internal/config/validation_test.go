//nolint:goconst // Test files use repeated strings for clarity
package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getValidConfig returns a valid configuration for testing
func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "signalpipe",
			Version:     "1.0.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "secure_password",
			Database: "signalpipe",
			SSLMode:  "disable",
			PoolSize: 10,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "signals.",
		},
		Consensus: ConsensusConfig{
			StockWeights:    map[string]float64{"market_data": 0.4, "technical": 0.6},
			CryptoWeights:   map[string]float64{"market_data": 0.3, "technical": 0.45, "sentiment": 0.25},
			TargetMultiple:  2.0,
			StopMultiple:    1.0,
			StrategyVersion: "v1",
		},
		Regime: RegimeConfig{
			ShortWindow:               20,
			LongWindow:                60,
			BullBearMATrendThreshold:  0.02,
			CrisisVolatilityThreshold: 0.05,
			CrisisDrawdownThreshold:   0.15,
		},
		Risk: RiskConfig{
			DefaultMaxPositions:      3,
			DefaultMaxPositionPct:    0.1,
			DefaultDailyLossLimitPct: 0.02,
			DefaultMaxDrawdownPct:    0.1,
			SnapshotTTL:              15 * time.Second,
			MonitorInterval:          5 * time.Second,
		},
		Executors: map[string]ExecutorConfig{
			"binance-standard": {
				Kind:         "STANDARD",
				BrokerName:   "binance",
				APIKey:       "test_api_key",
				SecretKey:    "test_secret_key",
				Testnet:      true,
				MaxPositions: 3,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		Monitoring: MonitoringConfig{
			PrometheusPort: 9100,
			EnableMetrics:  true,
		},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := getValidConfig()
	err := cfg.Validate()
	assert.NoError(t, err, "Valid configuration should not produce errors")
}

func TestValidateApp(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing app name",
			modify: func(c *Config) {
				c.App.Name = ""
			},
			expectError: "app.name",
		},
		{
			name: "missing environment",
			modify: func(c *Config) {
				c.App.Environment = ""
			},
			expectError: "app.environment",
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.App.Environment = "invalid_env"
			},
			expectError: "Invalid environment",
		},
		{
			name: "missing log level",
			modify: func(c *Config) {
				c.App.LogLevel = ""
			},
			expectError: "app.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateDatabase(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing host",
			modify: func(c *Config) {
				c.Database.Host = ""
			},
			expectError: "database.host",
		},
		{
			name: "missing port",
			modify: func(c *Config) {
				c.Database.Port = 0
			},
			expectError: "database.port",
		},
		{
			name: "invalid port - too high",
			modify: func(c *Config) {
				c.Database.Port = 70000
			},
			expectError: "Invalid port",
		},
		{
			name: "invalid port - negative",
			modify: func(c *Config) {
				c.Database.Port = -1
			},
			expectError: "Invalid port",
		},
		{
			name: "missing user",
			modify: func(c *Config) {
				c.Database.User = ""
			},
			expectError: "database.user",
		},
		{
			name: "missing database name",
			modify: func(c *Config) {
				c.Database.Database = ""
			},
			expectError: "database.database",
		},
		{
			name: "missing password in production",
			modify: func(c *Config) {
				c.App.Environment = "production"
				c.Database.Password = ""
			},
			expectError: "password is required",
		},
		{
			name: "invalid pool size",
			modify: func(c *Config) {
				c.Database.PoolSize = 0
			},
			expectError: "pool size must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateRedis(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing host",
			modify: func(c *Config) {
				c.Redis.Host = ""
			},
			expectError: "redis.host",
		},
		{
			name: "missing port",
			modify: func(c *Config) {
				c.Redis.Port = 0
			},
			expectError: "redis.port",
		},
		{
			name: "invalid port",
			modify: func(c *Config) {
				c.Redis.Port = 70000
			},
			expectError: "Invalid port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateNATS(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing URL",
			modify: func(c *Config) {
				c.NATS.URL = ""
			},
			expectError: "nats.url",
		},
		{
			name: "invalid URL format",
			modify: func(c *Config) {
				c.NATS.URL = "http://localhost:4222"
			},
			expectError: "must start with 'nats://'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateConsensus(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "no weights configured",
			modify: func(c *Config) {
				c.Consensus.CryptoWeights = nil
				c.Consensus.StockWeights = nil
			},
			expectError: "At least one of crypto_weights or stock_weights must be configured",
		},
		{
			name: "invalid target_multiple",
			modify: func(c *Config) {
				c.Consensus.TargetMultiple = 0
			},
			expectError: "target_multiple must be greater than 0",
		},
		{
			name: "invalid stop_multiple",
			modify: func(c *Config) {
				c.Consensus.StopMultiple = -1
			},
			expectError: "stop_multiple must be greater than 0",
		},
		{
			name: "regime window inversion",
			modify: func(c *Config) {
				c.Regime.LongWindow = 10
				c.Regime.ShortWindow = 20
			},
			expectError: "regime.long_window must be greater than regime.short_window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateRisk(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "invalid default_max_position_pct - too low",
			modify: func(c *Config) {
				c.Risk.DefaultMaxPositionPct = 0
			},
			expectError: "Invalid default_max_position_pct",
		},
		{
			name: "invalid default_max_position_pct - too high",
			modify: func(c *Config) {
				c.Risk.DefaultMaxPositionPct = 1.5
			},
			expectError: "Invalid default_max_position_pct",
		},
		{
			name: "invalid default_daily_loss_limit_pct",
			modify: func(c *Config) {
				c.Risk.DefaultDailyLossLimitPct = 0
			},
			expectError: "Invalid default_daily_loss_limit_pct",
		},
		{
			name: "invalid default_max_drawdown_pct",
			modify: func(c *Config) {
				c.Risk.DefaultMaxDrawdownPct = 1.5
			},
			expectError: "Invalid default_max_drawdown_pct",
		},
		{
			name: "invalid snapshot_ttl",
			modify: func(c *Config) {
				c.Risk.SnapshotTTL = 0
			},
			expectError: "risk.snapshot_ttl must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateExecutors(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "invalid kind",
			modify: func(c *Config) {
				c.Executors["binance-standard"] = ExecutorConfig{
					Kind:         "BOGUS",
					Testnet:      true,
					MaxPositions: 3,
				}
			},
			expectError: "Invalid executor kind",
		},
		{
			name: "missing API key for non-testnet account",
			modify: func(c *Config) {
				c.Executors["binance-standard"] = ExecutorConfig{
					Kind:         "STANDARD",
					APIKey:       "",
					SecretKey:    "secret",
					Testnet:      false,
					MaxPositions: 3,
				}
			},
			expectError: "API key is required for a non-testnet executor",
		},
		{
			name: "missing secret key for non-testnet account",
			modify: func(c *Config) {
				c.Executors["binance-standard"] = ExecutorConfig{
					Kind:         "STANDARD",
					APIKey:       "key",
					SecretKey:    "",
					Testnet:      false,
					MaxPositions: 3,
				}
			},
			expectError: "Secret key is required for a non-testnet executor",
		},
		{
			name: "invalid max_positions",
			modify: func(c *Config) {
				c.Executors["binance-standard"] = ExecutorConfig{
					Kind:         "STANDARD",
					Testnet:      true,
					MaxPositions: 0,
				}
			},
			expectError: "max_positions must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateAPI(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing port",
			modify: func(c *Config) {
				c.API.Port = 0
			},
			expectError: "api.port",
		},
		{
			name: "invalid port - too high",
			modify: func(c *Config) {
				c.API.Port = 70000
			},
			expectError: "Invalid port",
		},
		{
			name: "invalid port - negative",
			modify: func(c *Config) {
				c.API.Port = -1
			},
			expectError: "Invalid port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateEnvironmentRequirements(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "testnet enabled in production",
			modify: func(c *Config) {
				c.App.Environment = "production"
				c.Executors["binance-standard"] = ExecutorConfig{
					Kind:         "STANDARD",
					APIKey:       "key",
					SecretKey:    "secret",
					Testnet:      true,
					MaxPositions: 3,
				}
			},
			expectError: "Testnet mode must be disabled in production",
		},
		{
			name: "SSL disabled in production",
			modify: func(c *Config) {
				c.App.Environment = "production"
				c.Database.SSLMode = "disable"
			},
			expectError: "SSL must be enabled for database in production",
		},
		{
			name: "DATABASE_URL missing in production with incomplete config",
			modify: func(c *Config) {
				c.App.Environment = "production"
				c.Database.Host = ""
				// DATABASE_URL not set
				_ = os.Unsetenv("DATABASE_URL") // Test env cleanup
			},
			expectError: "DATABASE_URL is required in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errors := ValidationErrors{
		{Field: "field1", Message: "error message 1"},
		{Field: "field2", Message: "error message 2"},
		{Field: "field3", Message: "error message 3"},
	}

	errMsg := errors.Error()

	// Check error message structure
	assert.Contains(t, errMsg, "Configuration validation failed with 3 error(s)")
	assert.Contains(t, errMsg, "1. field1: error message 1")
	assert.Contains(t, errMsg, "2. field2: error message 2")
	assert.Contains(t, errMsg, "3. field3: error message 3")
	assert.Contains(t, errMsg, "Please fix the above errors and try again")
}

func TestValidationErrors_Empty(t *testing.T) {
	errors := ValidationErrors{}
	assert.Equal(t, "", errors.Error())
}

func TestValidateAndLoad(t *testing.T) {
	// Create a temporary config file with invalid configuration
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer func() { _ = os.Remove(tmpfile.Name()) }() // Test cleanup

	// Write invalid config (missing required fields)
	invalidConfig := `
app:
  name: ""
  environment: "development"
  log_level: "info"
consensus:
  crypto_weights: {}
  stock_weights: {}
`
	_, err = tmpfile.WriteString(invalidConfig)
	require.NoError(t, err)
	_ = tmpfile.Close() // Test cleanup

	// Try to load - should fail validation
	_, err = Load(tmpfile.Name())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "app.name") || strings.Contains(err.Error(), "crypto_weights"))
}

func TestValidateExecutorKinds(t *testing.T) {
	tests := []struct {
		kind  string
		valid bool
	}{
		{"STANDARD", true},
		{"PROP_FIRM", true},
		{"standard", false}, // case sensitive, matches validateExecutors' exact comparison
		{"BOGUS", false},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := getValidConfig()
			cfg.Executors["binance-standard"] = ExecutorConfig{
				Kind:         tt.kind,
				Testnet:      true,
				MaxPositions: 3,
			}
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
