package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"collateralwatch/internal/logging"
)

// Collateral kinds understood by the factory.
const (
	KindFiat   = "fiat"
	KindYield  = "yield"
	KindLPPair = "lp-pair"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Logging     logging.Config     `mapstructure:"logging"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Ethereum    EthereumConfig     `mapstructure:"ethereum"`
	Alerting    AlertingConfig     `mapstructure:"alerting"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	Export      ExportConfig       `mapstructure:"export"`
	Collaterals []CollateralConfig `mapstructure:"collaterals"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert routing for status transitions.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// FeedConfig names one price feed contract.
type FeedConfig struct {
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// VaultConfig names an ERC-4626 wrapper and its decimal layout.
type VaultConfig struct {
	Address       string `mapstructure:"address"`
	ShareDecimals uint8  `mapstructure:"share_decimals"`
	AssetDecimals uint8  `mapstructure:"asset_decimals"`
}

// PairConfig names a constant-product pair and its decimal layout.
type PairConfig struct {
	Address        string `mapstructure:"address"`
	Token0Decimals uint8  `mapstructure:"token0_decimals"`
	Token1Decimals uint8  `mapstructure:"token1_decimals"`
}

// RewardConfig names a wrapped token's reward program.
type RewardConfig struct {
	Program string `mapstructure:"program"`
	Token   string `mapstructure:"token"`
	Holder  string `mapstructure:"holder"`
}

// CollateralConfig describes one basket member.
type CollateralConfig struct {
	Name              string        `mapstructure:"name"`
	Kind              string        `mapstructure:"kind"`
	TargetName        string        `mapstructure:"target_name"`
	MaxTradeVolume    float64       `mapstructure:"max_trade_volume"`
	OracleTimeout     time.Duration `mapstructure:"oracle_timeout"`
	OracleError       float64       `mapstructure:"oracle_error"`
	DefaultThreshold  float64       `mapstructure:"default_threshold"`
	DelayUntilDefault time.Duration `mapstructure:"delay_until_default"`

	// Feed is the primary feed for fiat and yield kinds; TargetFeed is
	// the optional unit-of-account conversion for the yield kind.
	Feed       FeedConfig `mapstructure:"feed"`
	TargetFeed FeedConfig `mapstructure:"target_feed"`

	// Vault parameterises the yield kind.
	Vault VaultConfig `mapstructure:"vault"`

	// Pair, Feed0, Feed1, and Pegged parameterise the lp-pair kind.
	// Pegged is a bitmap: bit 0 for token0, bit 1 for token1.
	Pair   PairConfig `mapstructure:"pair"`
	Feed0  FeedConfig `mapstructure:"feed0"`
	Feed1  FeedConfig `mapstructure:"feed1"`
	Pegged uint8      `mapstructure:"pegged"`

	Rewards RewardConfig `mapstructure:"rewards"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLATERALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "collateralwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f6c77))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr must be set when metrics are enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}

	seen := make(map[string]struct{}, len(c.Collaterals))
	for i := range c.Collaterals {
		cc := &c.Collaterals[i]
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("collaterals[%d]: %w", i, err)
		}
		if _, dup := seen[cc.Name]; dup {
			return fmt.Errorf("collaterals[%d]: duplicate name %q", i, cc.Name)
		}
		seen[cc.Name] = struct{}{}
	}
	return nil
}

// Validate checks one collateral block, including per-kind requirements.
func (c *CollateralConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must be set")
	}
	if c.TargetName == "" {
		return fmt.Errorf("target_name must be set")
	}
	if c.DelayUntilDefault <= 0 {
		return fmt.Errorf("delay_until_default must be greater than zero")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be greater than zero")
	}
	if c.OracleError < 0 || c.OracleError >= 1 {
		return fmt.Errorf("oracle_error must be in [0, 1)")
	}
	if c.DefaultThreshold < 0 || c.DefaultThreshold >= 1 {
		return fmt.Errorf("default_threshold must be in [0, 1)")
	}

	switch c.Kind {
	case KindFiat:
		if c.Feed.Address == "" {
			return fmt.Errorf("fiat collateral requires feed.address")
		}
	case KindYield:
		if c.Feed.Address == "" {
			return fmt.Errorf("yield collateral requires feed.address")
		}
		if c.Vault.Address == "" {
			return fmt.Errorf("yield collateral requires vault.address")
		}
	case KindLPPair:
		if c.Feed0.Address == "" || c.Feed1.Address == "" {
			return fmt.Errorf("lp-pair collateral requires feed0.address and feed1.address")
		}
		if c.Pair.Address == "" {
			return fmt.Errorf("lp-pair collateral requires pair.address")
		}
		if c.Pegged > 3 {
			return fmt.Errorf("pegged bitmap %#x out of range", c.Pegged)
		}
	default:
		return fmt.Errorf("unknown collateral kind %q", c.Kind)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
