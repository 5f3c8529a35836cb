package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "review")
	t.Setenv("DB_NAME", "review")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("EVENT_BUS", "")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv(ConfigFileEnv, "")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ReviewPerPage)
	assert.Equal(t, "log", cfg.EventBus)
	assert.Equal(t, 30*time.Second, cfg.TopicStatsTTL)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, "host=localhost port=5432 user=review password= dbname=review sslmode=disable", cfg.DSN())
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadYAMLBeneathEnvironment(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
review_per_page: 25
review_min_score_default: 1.5
review_allow_reopen: true
event_bus: kafka
kafka_brokers: [broker-1:9092, broker-2:9092]
topic_stats_ttl: 1m
`), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("EVENT_BUS", "rabbitmq")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.ReviewPerPage)
	assert.InDelta(t, 1.5, cfg.ReviewMinScoreDefault, 1e-9)
	assert.True(t, cfg.ReviewAllowReopen)
	assert.Equal(t, "rabbitmq", cfg.EventBus)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Minute, cfg.TopicStatsTTL)
}

func TestLoadInvalidNumbers(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"REVIEW_PER_PAGE", "ten"},
		{"REVIEW_PER_PAGE", "0"},
		{"REVIEW_MIN_SCORE_DEFAULT", "low"},
		{"REVIEW_ALLOW_REOPEN", "maybe"},
		{"TOPIC_STATS_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
