// Package config loads wallet configuration from YAML, .env and WALLET_* environment variables
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the root wallet configuration
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Fraud     FraudConfig     `mapstructure:"fraud"`
	Bonus     BonusConfig     `mapstructure:"bonus"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Operators OperatorsConfig `mapstructure:"operators"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type KafkaConfig struct {
	Brokers             []string      `mapstructure:"brokers"`
	ConsumerGroupPrefix string        `mapstructure:"consumer_group_prefix"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	AlertPartitions     int           `mapstructure:"alert_partitions"`
}

// TransferConfig holds money-movement rules. Amounts are decimal strings.
type TransferConfig struct {
	FeePercent   string        `mapstructure:"fee_percent"`
	MinFee       string        `mapstructure:"min_fee"`
	DailyLimit   string        `mapstructure:"daily_limit"`
	CancelWindow time.Duration `mapstructure:"cancel_window"`
}

// FraudConfig mirrors the scoring thresholds of the fraud rules
type FraudConfig struct {
	ScoreThresholdMedium int `mapstructure:"score_threshold_medium"`
	ScoreThresholdHigh   int `mapstructure:"score_threshold_high"`
	VelocityTimeMinutes  int `mapstructure:"velocity_time_minutes"`
	VelocityLimitCount   int `mapstructure:"velocity_limit_count"`
	HighAmountThreshold  int `mapstructure:"high_amount_threshold"`
	MidAmountThreshold   int `mapstructure:"mid_amount_threshold"`
}

type BonusConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type PublisherConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type OperatorsConfig struct {
	Count        int           `mapstructure:"count"`
	CallDuration time.Duration `mapstructure:"call_duration"`
	SMSDelay     time.Duration `mapstructure:"sms_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "host=localhost user=wallet password=wallet dbname=wallet port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dedup_ttl", 24*time.Hour)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group_prefix", "")
	v.SetDefault("kafka.write_timeout", 5*time.Second)
	v.SetDefault("kafka.alert_partitions", 5)

	v.SetDefault("transfer.fee_percent", "0.01")
	v.SetDefault("transfer.min_fee", "0.01")
	v.SetDefault("transfer.daily_limit", "500000")
	v.SetDefault("transfer.cancel_window", 5*time.Minute)

	v.SetDefault("fraud.score_threshold_medium", 30)
	v.SetDefault("fraud.score_threshold_high", 70)
	v.SetDefault("fraud.velocity_time_minutes", 10)
	v.SetDefault("fraud.velocity_limit_count", 5)
	v.SetDefault("fraud.high_amount_threshold", 100000)
	v.SetDefault("fraud.mid_amount_threshold", 10000)

	v.SetDefault("bonus.max_attempts", 3)
	v.SetDefault("bonus.backoff", time.Second)

	v.SetDefault("publisher.max_attempts", 10)
	v.SetDefault("publisher.base_delay", time.Second)
	v.SetDefault("publisher.max_delay", time.Minute)

	v.SetDefault("operators.count", 5)
	v.SetDefault("operators.call_duration", 10*time.Minute)
	v.SetDefault("operators.sms_delay", 3*time.Second)
}

// Load reads configuration. configPath may be empty, in which case ./config.yaml is tried.
func Load(configPath string) (*Config, error) {
	// .env is optional; real deployments pass plain environment variables
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("WALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = "./config.yaml"
	}
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"transfer.fee_percent": c.Transfer.FeePercent,
		"transfer.min_fee":     c.Transfer.MinFee,
		"transfer.daily_limit": c.Transfer.DailyLimit,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Fraud.ScoreThresholdMedium > c.Fraud.ScoreThresholdHigh {
		return fmt.Errorf("fraud.score_threshold_medium (%d) exceeds fraud.score_threshold_high (%d)",
			c.Fraud.ScoreThresholdMedium, c.Fraud.ScoreThresholdHigh)
	}
	if c.Fraud.MidAmountThreshold > c.Fraud.HighAmountThreshold {
		return fmt.Errorf("fraud.mid_amount_threshold exceeds fraud.high_amount_threshold")
	}
	if c.Bonus.MaxAttempts < 1 {
		return fmt.Errorf("bonus.max_attempts must be at least 1")
	}
	if c.Publisher.MaxAttempts < 1 {
		return fmt.Errorf("publisher.max_attempts must be at least 1")
	}
	if c.Operators.Count < 1 {
		return fmt.Errorf("operators.count must be at least 1")
	}
	return nil
}

// MustDecimal parses a validated decimal setting.
func MustDecimal(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
