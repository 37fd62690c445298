package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration for the signal pipeline.
// Generalizes the teacher's Config struct (App, Database, Redis, NATS,
// Trading, Risk, Exchanges, API, Monitoring) onto this domain's nouns:
// Trading/Exchanges becomes Adapters/Consensus/Regime/Calibration/
// Executors, LLM/MCP are dropped entirely (see DESIGN.md).
type Config struct {
	App         AppConfig                   `mapstructure:"app"`
	Database    DatabaseConfig              `mapstructure:"database"`
	Redis       RedisConfig                 `mapstructure:"redis"`
	NATS        NATSConfig                  `mapstructure:"nats"`
	Adapters    AdaptersConfig              `mapstructure:"adapters"`
	Consensus   ConsensusConfig             `mapstructure:"consensus"`
	Regime      RegimeConfig                `mapstructure:"regime"`
	Calibration CalibrationConfig           `mapstructure:"calibration"`
	Executors   map[string]ExecutorConfig   `mapstructure:"executors"`
	Risk        RiskConfig                  `mapstructure:"risk"`
	Backtest    BacktestConfig              `mapstructure:"backtest"`
	API         APIConfig                   `mapstructure:"api"`
	Monitoring  MonitoringConfig            `mapstructure:"monitoring"`
	Alerts      AlertConfig                 `mapstructure:"alerts"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL/TimescaleDB settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the distributor's cursor cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings for signal distribution.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// AdaptersConfig contains opinion-source settings for the Generation
// Scheduler — generalizes the teacher's per-agent viper sections
// (sentiment-agent, technical-agent) into one struct per source.
type AdaptersConfig struct {
	CoinGeckoAPIKey    string        `mapstructure:"coingecko_api_key"`
	CryptoPanicAPIKey  string        `mapstructure:"cryptopanic_api_key"`
	SentimentLookback  time.Duration `mapstructure:"sentiment_lookback"`
	MarketDataRateHz   float64       `mapstructure:"market_data_rate_hz"`
	TechnicalRateHz    float64       `mapstructure:"technical_rate_hz"`
	SentimentRateHz    float64       `mapstructure:"sentiment_rate_hz"`
}

// ConsensusConfig mirrors consensus.Config's fields for the generator's
// and backtester's Weighted Consensus Engine instances.
type ConsensusConfig struct {
	StockWeights    map[string]float64 `mapstructure:"stock_weights"`
	CryptoWeights   map[string]float64 `mapstructure:"crypto_weights"`
	TargetMultiple  float64            `mapstructure:"target_multiple"`
	StopMultiple    float64            `mapstructure:"stop_multiple"`
	StrategyVersion string             `mapstructure:"strategy_version"`
}

// RegimeConfig mirrors regime.Config's fields for the Volatility/Regime
// Estimator shared by generation and backtest.
type RegimeConfig struct {
	ShortWindow               int     `mapstructure:"short_window"`
	LongWindow                int     `mapstructure:"long_window"`
	BullBearMATrendThreshold  float64 `mapstructure:"bull_bear_ma_trend_threshold"`
	CrisisVolatilityThreshold float64 `mapstructure:"crisis_volatility_threshold"`
	CrisisDrawdownThreshold   float64 `mapstructure:"crisis_drawdown_threshold"`
}

// CalibrationConfig controls how the reliability calibrator is refit.
type CalibrationConfig struct {
	NumBuckets      int           `mapstructure:"num_buckets"`
	MinSamples      int           `mapstructure:"min_samples"`
	RefitInterval   time.Duration `mapstructure:"refit_interval"`
}

// ExecutorConfig is one ExecutorAccount's static policy, keyed by
// executor_id in Config.Executors — generalizes the teacher's
// per-exchange ExchangeConfig into a per-account executor policy.
type ExecutorConfig struct {
	Kind              string  `mapstructure:"kind"` // STANDARD or PROP_FIRM
	BrokerName        string  `mapstructure:"broker"`
	APIKey            string  `mapstructure:"api_key"`
	SecretKey         string  `mapstructure:"secret_key"`
	Testnet           bool    `mapstructure:"testnet"`
	MaxPositions      int     `mapstructure:"max_positions"`
	MaxPositionPct    float64 `mapstructure:"max_position_pct"`
	DailyLossLimitPct float64 `mapstructure:"daily_loss_limit_pct"`
	MaxDrawdownPct    float64 `mapstructure:"max_drawdown_pct"`
	AllowShort        bool    `mapstructure:"allow_short"`
}

// RiskConfig contains the default limits applied when an executor
// account omits its own (see ExecutorConfig) and the Guard's operating
// parameters.
type RiskConfig struct {
	DefaultMaxPositions      int           `mapstructure:"default_max_positions"`
	DefaultMaxPositionPct    float64       `mapstructure:"default_max_position_pct"`
	DefaultDailyLossLimitPct float64       `mapstructure:"default_daily_loss_limit_pct"`
	DefaultMaxDrawdownPct    float64       `mapstructure:"default_max_drawdown_pct"`
	SnapshotTTL              time.Duration `mapstructure:"snapshot_ttl"`
	MonitorInterval          time.Duration `mapstructure:"monitor_interval"`
}

// BacktestConfig contains the Backtester's cost model defaults.
type BacktestConfig struct {
	SlippagePct   float64 `mapstructure:"slippage_pct"`
	HalfSpreadPct float64 `mapstructure:"half_spread_pct"`
	CommissionPct float64 `mapstructure:"commission_pct"`

	// ReportDir, if set, makes the Runner write an HTML performance
	// report for every completed run alongside its persisted metrics.
	// Empty skips report generation entirely.
	ReportDir string `mapstructure:"report_dir"`
}

// APIConfig contains REST API settings, including the feature flags
// spec.md §6 names.
type APIConfig struct {
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	BearerToken        string   `mapstructure:"bearer_token"`
	AdminToken         string   `mapstructure:"admin_token"`
	Force24x7Mode      bool     `mapstructure:"force_24_7_mode"`
	AutoExecute        bool     `mapstructure:"auto_execute"`
	SimulationFallback bool     `mapstructure:"simulation_fallback"`
}

// MonitoringConfig contains monitoring settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// AlertConfig controls which out-of-band channels the risk Guard pushes
// pause/near-limit notifications to, on top of the always-on log/console
// alerters. Telegram is optional: a blank bot token leaves the Guard on
// log+console alerting only.
type AlertConfig struct {
	TelegramBotToken string  `mapstructure:"telegram_bot_token"`
	TelegramChatIDs  []int64 `mapstructure:"telegram_chat_ids"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SIGNALPIPE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "signalpipe")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "signalpipe")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "signals.")

	v.SetDefault("adapters.sentiment_lookback", 6*time.Hour)
	v.SetDefault("adapters.market_data_rate_hz", 1.0)
	v.SetDefault("adapters.technical_rate_hz", 1.0)
	v.SetDefault("adapters.sentiment_rate_hz", 0.5)

	v.SetDefault("consensus.stock_weights", map[string]float64{"market_data": 0.4, "technical": 0.6})
	v.SetDefault("consensus.crypto_weights", map[string]float64{"market_data": 0.3, "technical": 0.45, "sentiment": 0.25})
	v.SetDefault("consensus.target_multiple", 2.0)
	v.SetDefault("consensus.stop_multiple", 1.0)
	v.SetDefault("consensus.strategy_version", "v1")

	v.SetDefault("regime.short_window", 20)
	v.SetDefault("regime.long_window", 60)
	v.SetDefault("regime.bull_bear_ma_trend_threshold", 0.02)
	v.SetDefault("regime.crisis_volatility_threshold", 0.05)
	v.SetDefault("regime.crisis_drawdown_threshold", 0.15)

	v.SetDefault("calibration.num_buckets", 10)
	v.SetDefault("calibration.min_samples", 50)
	v.SetDefault("calibration.refit_interval", 24*time.Hour)

	v.SetDefault("risk.default_max_positions", 3)
	v.SetDefault("risk.default_max_position_pct", 0.1)
	v.SetDefault("risk.default_daily_loss_limit_pct", 0.02)
	v.SetDefault("risk.default_max_drawdown_pct", 0.1)
	v.SetDefault("risk.snapshot_ttl", 15*time.Second)
	v.SetDefault("risk.monitor_interval", 5*time.Second)

	v.SetDefault("backtest.slippage_pct", 0.0005)
	v.SetDefault("backtest.half_spread_pct", 0.0001)
	v.SetDefault("backtest.commission_pct", 0.001)
	v.SetDefault("backtest.report_dir", "")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.force_24_7_mode", false)
	v.SetDefault("api.auto_execute", false)
	v.SetDefault("api.simulation_fallback", true)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	v.SetDefault("alerts.telegram_bot_token", "")
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server's listen address.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
