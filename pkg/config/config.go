package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source kinds
const (
	SourceMongo = "mongo"
	SourceKafka = "kafka"
)

// Checkpoint backends
const (
	CheckpointFile     = "file"
	CheckpointRedis    = "redis"
	CheckpointPostgres = "postgres"
)

// AppConfig holds the complete configuration for the application
type AppConfig struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	ServiceName string           `mapstructure:"service_name"`
	Source      SourceConfig     `mapstructure:"source"`
	Tunnels     TunnelsConfig    `mapstructure:"tunnels"`
	MongoDB     MongoConfig      `mapstructure:"mongodb"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Checkpoint  CheckpointConfig `mapstructure:"checkpoint"`
	Callback    CallbackConfig   `mapstructure:"callback"`
	Server      ServerConfig     `mapstructure:"server"`
}

type SourceConfig struct {
	Kind string `mapstructure:"kind"`
}

// TunnelsConfig names the session and event tables (collections or topics)
type TunnelsConfig struct {
	Sessions string `mapstructure:"sessions"`
	Events   string `mapstructure:"events"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxBatch       int           `mapstructure:"max_batch"`
}

type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	GroupID       string        `mapstructure:"group_id"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type CheckpointConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresURI   string `mapstructure:"postgres_uri"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type CallbackConfig struct {
	BaseURL                  string        `mapstructure:"base_url"`
	ConnectTimeout           time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout             time.Duration `mapstructure:"write_timeout"`
	ReadTimeout              time.Duration `mapstructure:"read_timeout"`
	Workers                  int           `mapstructure:"workers"`
	QueueSize                int           `mapstructure:"queue_size"`
	RetryOnConnectionFailure bool          `mapstructure:"retry_on_connection_failure"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from file and environment variables
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	// Default values
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "tunnel-bridge")
	v.SetDefault("source.kind", SourceMongo)
	v.SetDefault("tunnels.sessions", "game_sessions")
	v.SetDefault("tunnels.events", "game_events")
	v.SetDefault("mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("mongodb.max_batch", 100)
	v.SetDefault("kafka.group_id", "tunnel-bridge")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.flush_interval", 500*time.Millisecond)
	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.dir", "checkpoints")
	v.SetDefault("checkpoint.redis_db", 0)
	v.SetDefault("checkpoint.key_prefix", "tunnel:checkpoint:")
	v.SetDefault("callback.connect_timeout", 5*time.Second)
	v.SetDefault("callback.write_timeout", 5*time.Second)
	v.SetDefault("callback.read_timeout", 5*time.Second)
	v.SetDefault("callback.workers", 16)
	v.SetDefault("callback.queue_size", 1024)
	v.SetDefault("callback.retry_on_connection_failure", true)
	v.SetDefault("server.addr", ":8080")

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// Bind environment variables explicitly for nested structs to ensure Unmarshal picks them up
	v.BindEnv("service_name", "SERVICE_NAME")
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("source.kind", "SOURCE_KIND")
	v.BindEnv("tunnels.sessions", "TUNNELS_SESSIONS")
	v.BindEnv("tunnels.events", "TUNNELS_EVENTS")
	v.BindEnv("mongodb.uri", "MONGODB_URI")
	v.BindEnv("mongodb.database", "MONGODB_DATABASE")
	v.BindEnv("mongodb.max_batch", "MONGODB_MAX_BATCH")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("kafka.batch_size", "KAFKA_BATCH_SIZE")
	v.BindEnv("kafka.flush_interval", "KAFKA_FLUSH_INTERVAL")
	v.BindEnv("checkpoint.backend", "CHECKPOINT_BACKEND")
	v.BindEnv("checkpoint.dir", "CHECKPOINT_DIR")
	v.BindEnv("checkpoint.redis_addr", "CHECKPOINT_REDIS_ADDR")
	v.BindEnv("checkpoint.redis_password", "CHECKPOINT_REDIS_PASSWORD")
	v.BindEnv("checkpoint.redis_db", "CHECKPOINT_REDIS_DB")
	v.BindEnv("checkpoint.postgres_uri", "CHECKPOINT_POSTGRES_URI")
	v.BindEnv("checkpoint.key_prefix", "CHECKPOINT_KEY_PREFIX")
	v.BindEnv("callback.base_url", "CALLBACK_BASE_URL")
	v.BindEnv("callback.connect_timeout", "CALLBACK_CONNECT_TIMEOUT")
	v.BindEnv("callback.write_timeout", "CALLBACK_WRITE_TIMEOUT")
	v.BindEnv("callback.read_timeout", "CALLBACK_READ_TIMEOUT")
	v.BindEnv("callback.workers", "CALLBACK_WORKERS")
	v.BindEnv("callback.queue_size", "CALLBACK_QUEUE_SIZE")
	v.BindEnv("callback.retry_on_connection_failure", "CALLBACK_RETRY_ON_CONNECTION_FAILURE")
	v.BindEnv("server.addr", "SERVER_ADDR")

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Manual check for Kafka brokers if they came as a single string from env
	brokers := v.GetString("kafka.brokers")
	if brokers != "" && len(config.Kafka.Brokers) == 0 {
		config.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.Callback.BaseURL == "" {
		return errors.New("callback.base_url is required")
	}
	if c.Tunnels.Sessions == "" || c.Tunnels.Events == "" {
		return errors.New("tunnels.sessions and tunnels.events are required")
	}
	if c.Tunnels.Sessions == c.Tunnels.Events {
		return errors.New("tunnels.sessions and tunnels.events must differ")
	}

	for name, d := range map[string]time.Duration{
		"callback.connect_timeout": c.Callback.ConnectTimeout,
		"callback.write_timeout":   c.Callback.WriteTimeout,
		"callback.read_timeout":    c.Callback.ReadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	switch c.Source.Kind {
	case SourceMongo:
		if c.MongoDB.ConnectTimeout <= 0 {
			return fmt.Errorf("mongodb.connect_timeout must be positive, got %s", c.MongoDB.ConnectTimeout)
		}
		if c.MongoDB.URI == "" {
			return errors.New("mongodb.uri is required")
		}
		if c.MongoDB.Database == "" {
			return errors.New("mongodb.database is required")
		}
	case SourceKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required")
		}
		if c.Kafka.GroupID == "" {
			return errors.New("kafka.group_id is required")
		}
		if c.Kafka.FlushInterval <= 0 {
			return fmt.Errorf("kafka.flush_interval must be positive, got %s", c.Kafka.FlushInterval)
		}
	default:
		return fmt.Errorf("unknown source.kind %q", c.Source.Kind)
	}

	switch c.Checkpoint.Backend {
	case CheckpointFile:
		if c.Checkpoint.Dir == "" {
			return errors.New("checkpoint.dir is required")
		}
	case CheckpointRedis:
		if c.Checkpoint.RedisAddr == "" {
			return errors.New("checkpoint.redis_addr is required")
		}
	case CheckpointPostgres:
		if c.Checkpoint.PostgresURI == "" {
			return errors.New("checkpoint.postgres_uri is required")
		}
	default:
		return fmt.Errorf("unknown checkpoint.backend %q", c.Checkpoint.Backend)
	}

	if c.Callback.Workers < 1 {
		return errors.New("callback.workers must be positive")
	}
	if c.Callback.QueueSize < 0 {
		return errors.New("callback.queue_size must not be negative")
	}
	return nil
}
