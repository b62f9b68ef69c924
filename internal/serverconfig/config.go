// Package serverconfig loads the authcore-server configuration from a YAML
// or JSON file plus AUTHCORE_* environment variables.
package serverconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pantrychef/authcore"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type JWTConfig struct {
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	SigningMethod string        `mapstructure:"signing_method"`
	KeyID         string        `mapstructure:"key_id"`
	// Secret is the hs256 master secret.
	Secret                string `mapstructure:"secret"`
	PrivateKeyFile        string `mapstructure:"private_key_file"`
	PublicKeyFile         string `mapstructure:"public_key_file"`
	RefreshPrivateKeyFile string `mapstructure:"refresh_private_key_file"`
	RefreshPublicKeyFile  string `mapstructure:"refresh_public_key_file"`
}

type IdentityConfig struct {
	ProjectID   string        `mapstructure:"project_id"`
	KeySource   string        `mapstructure:"key_source"`
	KeysURL     string        `mapstructure:"keys_url"`
	KeyCacheTTL time.Duration `mapstructure:"key_cache_ttl"`
	ClockSkew   time.Duration `mapstructure:"clock_skew"`
}

type StoreConfig struct {
	Backend          string        `mapstructure:"backend"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Retention        time.Duration `mapstructure:"retention"`
	PruneInterval    time.Duration `mapstructure:"prune_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Source  string   `mapstructure:"source"`
}

type AuditConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BufferSize  int           `mapstructure:"buffer_size"`
	DropIfFull  bool          `mapstructure:"drop_if_full"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
	// Log mirrors audit events into the service log.
	Log bool `mapstructure:"log"`
}

type MetricsConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	LatencyHistograms bool `mapstructure:"latency_histograms"`
}

type RateLimitConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	PerMinute float64 `mapstructure:"per_minute"`
	Burst     int     `mapstructure:"burst"`
	// Shared keeps the per-IP budget in Redis so it holds across replicas.
	// Needs the redis backend.
	Shared bool `mapstructure:"shared"`
}

// Load reads path (when non-empty) and applies AUTHCORE_* overrides, e.g.
// AUTHCORE_STORE_BACKEND=redis or AUTHCORE_JWT_SECRET=... A missing file is
// an error only when path is given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("authcore")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/authcore")
	}

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the file.
func setDefaults(v *viper.Viper) {
	def := authcore.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", def.JWT.RefreshTTL)
	v.SetDefault("jwt.signing_method", def.JWT.SigningMethod)
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.refresh_private_key_file", "")
	v.SetDefault("jwt.refresh_public_key_file", "")

	v.SetDefault("identity.project_id", "")
	v.SetDefault("identity.key_source", def.Identity.KeySource)
	v.SetDefault("identity.keys_url", "")
	v.SetDefault("identity.key_cache_ttl", def.Identity.KeyCacheTTL)
	v.SetDefault("identity.clock_skew", def.Identity.ClockSkew)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.operation_timeout", def.Store.OperationTimeout)
	v.SetDefault("store.retention", def.Store.Retention)
	v.SetDefault("store.prune_interval", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "authcore")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "authcore.audit")
	v.SetDefault("kafka.source", "authcore")

	v.SetDefault("audit.enabled", def.Audit.Enabled)
	v.SetDefault("audit.buffer_size", def.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", def.Audit.DropIfFull)
	v.SetDefault("audit.sink_timeout", def.Audit.SinkTimeout)
	v.SetDefault("audit.log", false)

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.latency_histograms", true)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.per_minute", 30.0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.shared", false)
}

// Validate checks the service-level settings. Engine settings are validated
// again by authcore.Config.Validate when the engine is built.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.PruneInterval <= 0 {
		return errors.New("store.prune_interval must be > 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit.per_minute and rate_limit.burst must be > 0")
	}
	if c.RateLimit.Shared && c.Store.Backend != BackendRedis {
		return errors.New("rate_limit.shared needs the redis backend")
	}
	if c.Audit.Enabled && len(c.Kafka.Brokers) == 0 && !c.Audit.Log {
		return errors.New("audit.enabled needs kafka.brokers or audit.log")
	}
	return nil
}

// KafkaEnabled reports whether audit events should be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return c.Audit.Enabled && len(c.Kafka.Brokers) > 0
}

// EngineConfig converts the file settings into an authcore.Config, reading
// key files from disk.
func (c *Config) EngineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.JWT.SigningMethod = c.JWT.SigningMethod
	cfg.JWT.KeyID = c.JWT.KeyID
	if c.JWT.Secret != "" {
		cfg.JWT.Secret = []byte(c.JWT.Secret)
	}

	var err error
	if cfg.JWT.PrivateKey, err = readOptional(c.JWT.PrivateKeyFile); err != nil {
		return authcore.Config{}, err
	}
	if cfg.JWT.PublicKey, err = readOptional(c.JWT.PublicKeyFile); err != nil {
		return authcore.Config{}, err
	}
	if cfg.JWT.RefreshPrivateKey, err = readOptional(c.JWT.RefreshPrivateKeyFile); err != nil {
		return authcore.Config{}, err
	}
	if cfg.JWT.RefreshPublicKey, err = readOptional(c.JWT.RefreshPublicKeyFile); err != nil {
		return authcore.Config{}, err
	}

	cfg.Identity = authcore.IdentityConfig{
		ProjectID:   c.Identity.ProjectID,
		KeySource:   c.Identity.KeySource,
		KeysURL:     c.Identity.KeysURL,
		KeyCacheTTL: c.Identity.KeyCacheTTL,
		ClockSkew:   c.Identity.ClockSkew,
	}
	cfg.Store = authcore.StoreConfig{
		OperationTimeout: c.Store.OperationTimeout,
		Retention:        c.Store.Retention,
	}
	cfg.Audit = authcore.AuditConfig{
		Enabled:     c.Audit.Enabled,
		BufferSize:  c.Audit.BufferSize,
		DropIfFull:  c.Audit.DropIfFull,
		SinkTimeout: c.Audit.SinkTimeout,
	}
	cfg.Metrics = authcore.MetricsConfig{
		Enabled:                 c.Metrics.Enabled,
		EnableLatencyHistograms: c.Metrics.LatencyHistograms,
	}
	return cfg, nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return b, nil
}

// splitList accepts both YAML lists and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
