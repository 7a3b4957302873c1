package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "0.01", cfg.Transfer.FeePercent)
	assert.Equal(t, "500000", cfg.Transfer.DailyLimit)
	assert.Equal(t, 5*time.Minute, cfg.Transfer.CancelWindow)
	assert.Equal(t, 30, cfg.Fraud.ScoreThresholdMedium)
	assert.Equal(t, 70, cfg.Fraud.ScoreThresholdHigh)
	assert.Equal(t, 10, cfg.Fraud.VelocityTimeMinutes)
	assert.Equal(t, 5, cfg.Fraud.VelocityLimitCount)
	assert.Equal(t, 3, cfg.Bonus.MaxAttempts)
	assert.Equal(t, 10, cfg.Publisher.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Publisher.MaxDelay)
	assert.Equal(t, 5, cfg.Operators.Count)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Redis.DedupTTL)
	assert.Equal(t, "500000", MustDecimal(cfg.Transfer.DailyLimit).String())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WALLET_TRANSFER_DAILY_LIMIT", "1000")
	t.Setenv("WALLET_FRAUD_VELOCITY_LIMIT_COUNT", "7")
	t.Setenv("WALLET_OPERATORS_CALL_DURATION", "30s")

	cfg, err := Load(missingFile(t))
	require.NoError(t, err)
	assert.Equal(t, "1000", cfg.Transfer.DailyLimit)
	assert.Equal(t, 7, cfg.Fraud.VelocityLimitCount)
	assert.Equal(t, 30*time.Second, cfg.Operators.CallDuration)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
transfer:
  cancel_window: 10m
kafka:
  consumer_group_prefix: staging
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Transfer.CancelWindow)
	assert.Equal(t, "staging", cfg.Kafka.ConsumerGroupPrefix)
	assert.Equal(t, "0.01", cfg.Transfer.MinFee)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"WALLET_TRANSFER_FEE_PERCENT":         "abc",
		"WALLET_TRANSFER_MIN_FEE":             "-1",
		"WALLET_FRAUD_SCORE_THRESHOLD_MEDIUM": "80",
		"WALLET_BONUS_MAX_ATTEMPTS":           "0",
		"WALLET_OPERATORS_COUNT":              "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(missingFile(t))
			assert.Error(t, err)
		})
	}
}
