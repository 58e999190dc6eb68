package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the CRM gateway service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Portal        PortalConfig        `mapstructure:"portal"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	// URL is optional; when empty the limiter and cache fall back to their
	// in-process stores, which are only correct for single-instance deployments.
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type IdentityConfig struct {
	Session SessionProviderConfig `mapstructure:"session"`
	Legacy  LegacyAuthConfig      `mapstructure:"legacy"`
	// OwnerSubject is the one subject granted the admin role on first login.
	OwnerSubject string `mapstructure:"owner_subject"`
}

type SessionProviderConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Issuer      string        `mapstructure:"issuer"`
	ClientID    string        `mapstructure:"client_id"`
	CookieName  string        `mapstructure:"cookie_name"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type LegacyAuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	CookieName string `mapstructure:"cookie_name"`
}

// BucketConfig tunes one rate-limit bucket.
type BucketConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	SweepInterval time.Duration           `mapstructure:"sweep_interval"`
	Buckets       map[string]BucketConfig `mapstructure:"buckets"`
}

// Bucket returns the configuration for a named bucket, falling back to the
// general api bucket when the name is unknown.
func (r RateLimitConfig) Bucket(name string) BucketConfig {
	if cfg, ok := r.Buckets[name]; ok {
		return cfg
	}
	if cfg, ok := r.Buckets["api"]; ok {
		return cfg
	}
	return BucketConfig{MaxRequests: 100, Window: time.Minute}
}

// BucketNames returns the configured bucket names in stable order.
func (r RateLimitConfig) BucketNames() []string {
	names := make([]string, 0, len(r.Buckets))
	for name := range r.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
}

type PortalConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("CRMGATE_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("crmgate")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CRMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("missing required configuration: CRMGATE_DATABASE_URL")
	}
	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	if err := c.Identity.validate(); err != nil {
		return err
	}
	if err := c.RateLimits.validate(); err != nil {
		return err
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if strings.TrimSpace(c.Cache.KeyPrefix) == "" {
		c.Cache.KeyPrefix = "trpc"
	}
	if c.Portal.Enabled && c.Portal.TokenTTL <= 0 {
		c.Portal.TokenTTL = 720 * time.Hour
	}
	return nil
}

func (i *IdentityConfig) validate() error {
	if !i.Session.Enabled && !i.Legacy.Enabled {
		return fmt.Errorf("at least one identity verifier must be enabled (session or legacy)")
	}
	if i.Session.Enabled {
		if i.Session.Issuer == "" {
			return fmt.Errorf("identity.session.issuer must be provided when the session provider is enabled")
		}
		if i.Session.ClientID == "" {
			return fmt.Errorf("identity.session.client_id must be provided when the session provider is enabled")
		}
		if i.Session.HTTPTimeout <= 0 {
			i.Session.HTTPTimeout = 5 * time.Second
		}
		if i.Session.CookieName == "" {
			i.Session.CookieName = "__session"
		}
	}
	if i.Legacy.Enabled {
		if i.Legacy.JWTSecret == "" {
			return fmt.Errorf("identity.legacy.jwt_secret must be provided when legacy auth is enabled")
		}
		if i.Legacy.CookieName == "" {
			i.Legacy.CookieName = "session"
		}
	}
	return nil
}

func (r *RateLimitConfig) validate() error {
	if r.SweepInterval <= 0 {
		r.SweepInterval = 5 * time.Minute
	}
	for name, bucket := range r.Buckets {
		if bucket.MaxRequests <= 0 {
			return fmt.Errorf("rate_limits.buckets.%s.max_requests must be > 0", name)
		}
		if bucket.Window <= 0 {
			return fmt.Errorf("rate_limits.buckets.%s.window must be > 0", name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 10)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "75s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	// Env-only keys need a registered default for AutomaticEnv to feed Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("identity.owner_subject", "")
	v.SetDefault("identity.session.issuer", "")
	v.SetDefault("identity.session.client_id", "")
	v.SetDefault("identity.legacy.jwt_secret", "")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "./migrations")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("identity.session.enabled", false)
	v.SetDefault("identity.session.cookie_name", "__session")
	v.SetDefault("identity.session.http_timeout", "5s")
	v.SetDefault("identity.legacy.enabled", true)
	v.SetDefault("identity.legacy.cookie_name", "session")

	v.SetDefault("rate_limits.sweep_interval", "5m")
	v.SetDefault("rate_limits.buckets.api.max_requests", 100)
	v.SetDefault("rate_limits.buckets.api.window", "60s")
	v.SetDefault("rate_limits.buckets.auth.max_requests", 10)
	v.SetDefault("rate_limits.buckets.auth.window", "60s")
	v.SetDefault("rate_limits.buckets.write.max_requests", 20)
	v.SetDefault("rate_limits.buckets.write.window", "60s")
	v.SetDefault("rate_limits.buckets.portal.max_requests", 20)
	v.SetDefault("rate_limits.buckets.portal.window", "60s")
	v.SetDefault("rate_limits.buckets.expensive.max_requests", 10)
	v.SetDefault("rate_limits.buckets.expensive.window", "60s")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.key_prefix", "trpc")

	v.SetDefault("portal.enabled", true)
	v.SetDefault("portal.token_ttl", "720h")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		if f.Kind() == reflect.String {
			return time.ParseDuration(data.(string))
		}
		return data, nil
	}
}
