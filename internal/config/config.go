package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Leader   LeaderConfig   `mapstructure:"leader"`
	Instance InstanceConfig `mapstructure:"instance"`
	Log      LogConfig      `mapstructure:"log"`
	Bidding  BiddingConfig  `mapstructure:"bidding"`
	Events   EventsConfig   `mapstructure:"events"`
	Feed     FeedConfig     `mapstructure:"feed"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NATSConfig is optional. An empty URL disables the JetStream publisher.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Stream         string        `mapstructure:"stream"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	Durable        string        `mapstructure:"durable"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
	Key string        `mapstructure:"key"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type BiddingConfig struct {
	Ledger            string        `mapstructure:"ledger"`
	IdempotencyStore  string        `mapstructure:"idempotency_store"`
	MaxCommitAttempts int           `mapstructure:"max_commit_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	RetractWindow     time.Duration `mapstructure:"retract_window"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
	MaintenanceSpec   string        `mapstructure:"maintenance_spec"`
}

type EventsConfig struct {
	BidChannel      string `mapstructure:"bid_channel"`
	FinishedChannel string `mapstructure:"finished_channel"`
}

type FeedConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "bidding_user:bidding_pass@tcp(localhost:3306)/bidding_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "BID_EVENTS")
	v.SetDefault("nats.subject_prefix", "bid.events")
	v.SetDefault("nats.durable", "bid-archiver")
	v.SetDefault("nats.publish_timeout", 5*time.Second)
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("leader.key", "bid_archiver_leader")
	v.SetDefault("instance.id", "bidding-core-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("bidding.ledger", "redis")
	v.SetDefault("bidding.idempotency_store", "redis")
	v.SetDefault("bidding.max_commit_attempts", 5)
	v.SetDefault("bidding.retry_base_delay", 5*time.Millisecond)
	v.SetDefault("bidding.retry_max_delay", 50*time.Millisecond)
	v.SetDefault("bidding.retract_window", 5*time.Minute)
	v.SetDefault("bidding.idempotency_ttl", 24*time.Hour)
	v.SetDefault("bidding.maintenance_spec", "@every 1m")
	v.SetDefault("events.bid_channel", "bid.events")
	v.SetDefault("events.finished_channel", "auction.finished")
	v.SetDefault("feed.allowed_origins", []string{"*"})
}

var envBindings = map[string]string{
	"server.port":                 "SERVER_PORT",
	"server.host":                 "SERVER_HOST",
	"redis.address":               "REDIS_ADDRESS",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"mysql.dsn":                   "MYSQL_DSN",
	"mysql.max_open_conns":        "MYSQL_MAX_OPEN_CONNS",
	"mysql.max_idle_conns":        "MYSQL_MAX_IDLE_CONNS",
	"mysql.conn_max_lifetime":     "MYSQL_CONN_MAX_LIFETIME",
	"nats.url":                    "NATS_URL",
	"nats.stream":                 "NATS_STREAM",
	"leader.ttl":                  "LEADER_TTL",
	"instance.id":                 "INSTANCE_ID",
	"log.level":                   "LOG_LEVEL",
	"bidding.ledger":              "BIDDING_LEDGER",
	"bidding.idempotency_store":   "BIDDING_IDEMPOTENCY_STORE",
	"bidding.max_commit_attempts": "BIDDING_MAX_COMMIT_ATTEMPTS",
	"bidding.retract_window":      "BIDDING_RETRACT_WINDOW",
	"bidding.idempotency_ttl":     "BIDDING_IDEMPOTENCY_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bidding-core/")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path on top of the defaults.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Bidding.Ledger {
	case "memory", "redis", "mysql":
	default:
		return fmt.Errorf("bidding.ledger: unsupported driver %q", c.Bidding.Ledger)
	}
	switch c.Bidding.IdempotencyStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("bidding.idempotency_store: unsupported driver %q", c.Bidding.IdempotencyStore)
	}
	if c.Bidding.MaxCommitAttempts < 1 {
		return fmt.Errorf("bidding.max_commit_attempts must be at least 1, got %d", c.Bidding.MaxCommitAttempts)
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, Ledger: %s, Idempotency: %s, NATS: %q, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.Bidding.Ledger,
		c.Bidding.IdempotencyStore,
		c.NATS.URL,
		c.Instance.ID,
	)
}
