package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	// Validate App configuration
	errors = append(errors, c.validateApp()...)

	// Validate Database configuration
	errors = append(errors, c.validateDatabase()...)

	// Validate Redis configuration
	errors = append(errors, c.validateRedis()...)

	// Validate NATS configuration
	errors = append(errors, c.validateNATS()...)

	// Validate Consensus/Regime configuration
	errors = append(errors, c.validateConsensus()...)

	// Validate Risk configuration
	errors = append(errors, c.validateRisk()...)

	// Validate Executor account configuration
	errors = append(errors, c.validateExecutors()...)

	// Validate API configuration
	errors = append(errors, c.validateAPI()...)

	// Validate environment-specific requirements
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "Database port is required",
		})
	} else if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	// Warn about missing password in non-development environments
	if c.Database.Password == "" && c.App.Environment != "development" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in non-development environments",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if c.Redis.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: "Redis port is required",
		})
	} else if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateConsensus() ValidationErrors {
	var errors ValidationErrors

	if len(c.Consensus.CryptoWeights) == 0 && len(c.Consensus.StockWeights) == 0 {
		errors = append(errors, ValidationError{
			Field:   "consensus.crypto_weights",
			Message: "At least one of crypto_weights or stock_weights must be configured",
		})
	}

	if c.Consensus.TargetMultiple <= 0 {
		errors = append(errors, ValidationError{
			Field:   "consensus.target_multiple",
			Message: "target_multiple must be greater than 0",
		})
	}

	if c.Consensus.StopMultiple <= 0 {
		errors = append(errors, ValidationError{
			Field:   "consensus.stop_multiple",
			Message: "stop_multiple must be greater than 0",
		})
	}

	if c.Regime.LongWindow <= c.Regime.ShortWindow {
		errors = append(errors, ValidationError{
			Field:   "regime.long_window",
			Message: "regime.long_window must be greater than regime.short_window",
		})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	if c.Risk.DefaultMaxPositionPct <= 0 || c.Risk.DefaultMaxPositionPct > 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.default_max_position_pct",
			Message: fmt.Sprintf("Invalid default_max_position_pct %.2f. Must be between 0-1", c.Risk.DefaultMaxPositionPct),
		})
	}

	if c.Risk.DefaultDailyLossLimitPct <= 0 || c.Risk.DefaultDailyLossLimitPct > 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.default_daily_loss_limit_pct",
			Message: fmt.Sprintf("Invalid default_daily_loss_limit_pct %.2f. Must be between 0-1", c.Risk.DefaultDailyLossLimitPct),
		})
	}

	if c.Risk.DefaultMaxDrawdownPct <= 0 || c.Risk.DefaultMaxDrawdownPct > 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.default_max_drawdown_pct",
			Message: fmt.Sprintf("Invalid default_max_drawdown_pct %.2f. Must be between 0-1", c.Risk.DefaultMaxDrawdownPct),
		})
	}

	if c.Risk.SnapshotTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.snapshot_ttl",
			Message: "risk.snapshot_ttl must be greater than 0",
		})
	}

	return errors
}

func (c *Config) validateExecutors() ValidationErrors {
	var errors ValidationErrors

	for executorID, executorCfg := range c.Executors {
		if executorCfg.Kind != "STANDARD" && executorCfg.Kind != "PROP_FIRM" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("executors.%s.kind", executorID),
				Message: fmt.Sprintf("Invalid executor kind '%s'. Must be STANDARD or PROP_FIRM", executorCfg.Kind),
			})
		}

		if !executorCfg.Testnet && executorCfg.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("executors.%s.api_key", executorID),
				Message: "API key is required for a non-testnet executor",
			})
		}

		if !executorCfg.Testnet && executorCfg.SecretKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("executors.%s.secret_key", executorID),
				Message: "Secret key is required for a non-testnet executor",
			})
		}

		if executorCfg.MaxPositions < 1 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("executors.%s.max_positions", executorID),
				Message: "max_positions must be at least 1",
			})
		}
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: "API port is required",
		})
	} else if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	// Production-specific validations
	if c.App.Environment == "production" {
		// Validate production secrets strength
		secretErrors := ValidateProductionSecrets(c)
		errors = append(errors, secretErrors...)

		// Ensure no testnet in production
		for executorID, executorCfg := range c.Executors {
			if executorCfg.Testnet {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("executors.%s.testnet", executorID),
					Message: "Testnet mode must be disabled in production",
				})
			}
		}

		// Ensure SSL for database in production
		if c.Database.SSLMode == "disable" {
			errors = append(errors, ValidationError{
				Field:   "database.ssl_mode",
				Message: "SSL must be enabled for database in production",
			})
		}
	}

	// Check critical environment variables
	criticalEnvVars := []string{
		"DATABASE_URL", // Can be constructed from config, but should be set
	}

	for _, envVar := range criticalEnvVars {
		if os.Getenv(envVar) == "" && c.App.Environment == "production" {
			// DATABASE_URL is optional if database config is complete
			if envVar == "DATABASE_URL" {
				// Check if database config is complete
				if c.Database.Host != "" && c.Database.Database != "" {
					continue // Config is complete, no need for DATABASE_URL
				}
			}

			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("env.%s", envVar),
				Message: fmt.Sprintf("Environment variable %s is required in production", envVar),
			})
		}
	}

	return errors
}

// ValidateAndLoad loads and validates configuration
// Returns the loaded config and any validation errors
// configPath can be empty to use default config locations
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validation is already called within Load(), but we can call it again
	// for explicit validation if Load() is modified in the future
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
