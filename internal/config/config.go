package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names a YAML file whose values sit beneath the environment.
const ConfigFileEnv = "REVIEWQUEUE_CONFIG"

type Config struct {
	AppEnv  string `yaml:"app_env"`
	AppName string `yaml:"app_name"`

	DBHost                   string `yaml:"db_host"`
	DBPort                   string `yaml:"db_port"`
	DBUser                   string `yaml:"db_user"`
	DBPassword               string `yaml:"db_password"`
	DBName                   string `yaml:"db_name"`
	DBSSLMode                string `yaml:"db_ssl_mode"`
	DBMaxOpenConns           int    `yaml:"db_max_open_conns"`
	DBMaxIdleConns           int    `yaml:"db_max_idle_conns"`
	DBConnMaxLifetimeMinutes int    `yaml:"db_conn_max_lifetime_minutes"`

	RedisHost         string `yaml:"redis_host"`
	RedisPort         string `yaml:"redis_port"`
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
	RedisPoolSize     int    `yaml:"redis_pool_size"`
	RedisMinIdleConns int    `yaml:"redis_min_idle_conns"`
	RedisMaxRetries   int    `yaml:"redis_max_retries"`

	AppPort     string `yaml:"app_port"`
	MetricsPort string `yaml:"metrics_port"`
	JWTSecret   string `yaml:"jwt_secret"`
	LogLevel    string `yaml:"log_level"`

	OtelEndpoint string `yaml:"otel_endpoint"`
	OtelDisabled bool   `yaml:"otel_disabled"`

	EventBus     string   `yaml:"event_bus"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	AMQPURL      string   `yaml:"amqp_url"`
	AMQPExchange string   `yaml:"amqp_exchange"`
	RedisChannel string   `yaml:"redis_channel"`

	ReviewPerPage         int           `yaml:"review_per_page"`
	ReviewMinScoreDefault float64       `yaml:"review_min_score_default"`
	ReviewAllowReopen     bool          `yaml:"review_allow_reopen"`
	TopicStatsTTL         time.Duration `yaml:"topic_stats_ttl"`
	OutboxSchedule        string        `yaml:"outbox_schedule"`
	OutboxBatchSize       int           `yaml:"outbox_batch_size"`

	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
}

func defaults() *Config {
	return &Config{
		AppEnv:                   "development",
		AppName:                  "reviewqueue",
		DBSSLMode:                "disable",
		DBMaxOpenConns:           20,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 30,
		RedisPort:                "6379",
		RedisPoolSize:            10,
		AppPort:                  "8080",
		MetricsPort:              "9090",
		LogLevel:                 "info",
		EventBus:                 "log",
		KafkaTopic:               "reviewable.notifications",
		AMQPExchange:             "reviewable",
		RedisChannel:             "reviewable:notifications",
		ReviewPerPage:            10,
		TopicStatsTTL:            30 * time.Second,
		OutboxSchedule:           "@every 5s",
		OutboxBatchSize:          100,
		HealthCheckTimeout:       2 * time.Second,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// REVIEWQUEUE_CONFIG, and the environment, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("APP_ENV", &cfg.AppEnv)
	str("APP_NAME", &cfg.AppName)
	str("DB_HOST", &cfg.DBHost)
	str("DB_PORT", &cfg.DBPort)
	str("DB_USER", &cfg.DBUser)
	str("DB_PASSWORD", &cfg.DBPassword)
	str("DB_NAME", &cfg.DBName)
	str("DB_SSL_MODE", &cfg.DBSSLMode)
	str("REDIS_HOST", &cfg.RedisHost)
	str("REDIS_PORT", &cfg.RedisPort)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("APP_PORT", &cfg.AppPort)
	str("METRICS_PORT", &cfg.MetricsPort)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OtelEndpoint)
	str("EVENT_BUS", &cfg.EventBus)
	str("KAFKA_TOPIC", &cfg.KafkaTopic)
	str("AMQP_URL", &cfg.AMQPURL)
	str("AMQP_EXCHANGE", &cfg.AMQPExchange)
	str("REDIS_CHANNEL", &cfg.RedisChannel)
	str("OUTBOX_SCHEDULE", &cfg.OutboxSchedule)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}

	ints := map[string]*int{
		"DB_MAX_OPEN_CONNS":            &cfg.DBMaxOpenConns,
		"DB_MAX_IDLE_CONNS":            &cfg.DBMaxIdleConns,
		"DB_CONN_MAX_LIFETIME_MINUTES": &cfg.DBConnMaxLifetimeMinutes,
		"REDIS_DB":                     &cfg.RedisDB,
		"REDIS_POOL_SIZE":              &cfg.RedisPoolSize,
		"REDIS_MIN_IDLE_CONNS":         &cfg.RedisMinIdleConns,
		"REDIS_MAX_RETRIES":            &cfg.RedisMaxRetries,
		"REVIEW_PER_PAGE":              &cfg.ReviewPerPage,
		"OUTBOX_BATCH_SIZE":            &cfg.OutboxBatchSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	var err error
	if v := os.Getenv("REVIEW_MIN_SCORE_DEFAULT"); v != "" {
		if cfg.ReviewMinScoreDefault, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid REVIEW_MIN_SCORE_DEFAULT: %w", err)
		}
	}
	if v := os.Getenv("REVIEW_ALLOW_REOPEN"); v != "" {
		if cfg.ReviewAllowReopen, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid REVIEW_ALLOW_REOPEN: %w", err)
		}
	}
	if v := os.Getenv("OTEL_SDK_DISABLED"); v != "" {
		if cfg.OtelDisabled, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
	}
	if v := os.Getenv("TOPIC_STATS_TTL"); v != "" {
		if cfg.TopicStatsTTL, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid TOPIC_STATS_TTL: %w", err)
		}
	}
	if v := os.Getenv("HEALTH_CHECK_TIMEOUT"); v != "" {
		if cfg.HealthCheckTimeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid HEALTH_CHECK_TIMEOUT: %w", err)
		}
	}

	if cfg.DBHost == "" || cfg.DBPort == "" || cfg.DBUser == "" || cfg.DBName == "" || cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}
	if cfg.ReviewPerPage <= 0 {
		return nil, fmt.Errorf("REVIEW_PER_PAGE must be positive")
	}
	return cfg, nil
}

// DSN renders the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// RedisEnabled reports whether a Redis host is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}
