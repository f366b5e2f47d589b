package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Overpass  OverpassConfig  `mapstructure:"overpass"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	BodyLimit    int `mapstructure:"body_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Enabled      bool   `mapstructure:"enabled"`
}

type OverpassConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

// SyncConfig tunes region sync for API sessions and the probe client.
type SyncConfig struct {
	MaxRecords int           `mapstructure:"max_records"`
	Debounce   time.Duration `mapstructure:"debounce"`
	Tolerance  float64       `mapstructure:"tolerance"`
}

type CacheConfig struct {
	BBoxTTL time.Duration `mapstructure:"bbox_ttl"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type SeedConfig struct {
	Slices   int           `mapstructure:"slices"`
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.body_limit", 4*1024*1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bikebuddy")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "bikebuddy")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_endpoint", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout", "180s")
	v.SetDefault("overpass.interval", "3s")
	v.SetDefault("sync.max_records", 2000)
	v.SetDefault("sync.debounce", "300ms")
	v.SetDefault("sync.tolerance", 200.0)
	v.SetDefault("cache.bbox_ttl", "60s")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "bikebuddy-seed")
	v.SetDefault("seed.slices", 7)
	v.SetDefault("seed.attempts", 3)
	v.SetDefault("seed.backoff", "5s")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: BIKEBUDDY_DATABASE_HOST → database.host
	v.SetEnvPrefix("BIKEBUDDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Sync.MaxRecords <= 0 {
		errs = append(errs, "sync.max_records must be positive")
	}
	if c.Sync.Debounce < 0 {
		errs = append(errs, "sync.debounce must not be negative")
	}
	if c.Sync.Tolerance <= 0 {
		errs = append(errs, "sync.tolerance must be positive")
	}
	if c.Overpass.Endpoint == "" {
		errs = append(errs, "overpass.endpoint is required")
	}
	if c.Seed.Slices <= 0 {
		errs = append(errs, "seed.slices must be positive")
	}
	if c.Seed.Attempts <= 0 {
		errs = append(errs, "seed.attempts must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
