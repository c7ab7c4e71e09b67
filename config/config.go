package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP server and process settings
	App AppConfig `mapstructure:"app"`

	// Relational storage (postgres, mysql or sqlite)
	Database DatabaseConfig `mapstructure:"database"`

	// Redis (entry cache and rate-limit counters)
	Redis RedisConfig `mapstructure:"redis"`

	// NATS (lookup event stream)
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Lookup, cache and import behaviour
	SpeedDial SpeedDialConfig `mapstructure:"speeddial"`

	// Admin API access
	Admin AdminConfig `mapstructure:"admin"`

	// Lookup event persistence
	Events EventsConfig `mapstructure:"events"`
}

type AppConfig struct {
	Env             string        `mapstructure:"env"`
	Addr            string        `mapstructure:"addr"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BodyLimit       int           `mapstructure:"body_limit"`
	CORSOrigins     string        `mapstructure:"cors_origins"`
	// IPRateLimit caps public API requests per client IP per minute. Zero disables it.
	IPRateLimit int `mapstructure:"ip_rate_limit"`
}

// IsProduction reports whether the service runs with production defaults.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Port     int    `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	Charset  string `mapstructure:"charset"`
	// Path is the sqlite file; ":memory:" keeps the database in process.
	Path string `mapstructure:"path"`

	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MaxNumberWidth is the widest number the entries table can hold.
const MaxNumberWidth = 32

type SpeedDialConfig struct {
	MaxDigits      int           `mapstructure:"max_digits"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	NegativeFilter bool          `mapstructure:"negative_filter"`

	RateLimitEnabled bool          `mapstructure:"rate_limit_enabled"`
	RateLimitMax     int           `mapstructure:"rate_limit_max"`
	RateLimitWindow  time.Duration `mapstructure:"rate_limit_window"`

	NotFoundText   string        `mapstructure:"not_found_text"`
	ConnectingText string        `mapstructure:"connecting_text"`
	VisitText      string        `mapstructure:"visit_text"`
	AutoRedirect   bool          `mapstructure:"auto_redirect"`
	RedirectDelay  time.Duration `mapstructure:"redirect_delay"`

	ImportMaxRows int `mapstructure:"import_max_rows"`
}

// WithDefaults fills zero values with the stock settings.
func (c SpeedDialConfig) WithDefaults() SpeedDialConfig {
	if c.MaxDigits <= 0 {
		c.MaxDigits = 16
	}
	if c.MaxDigits > MaxNumberWidth {
		c.MaxDigits = MaxNumberWidth
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = 30
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.NotFoundText == "" {
		c.NotFoundText = "Number not assigned"
	}
	if c.ConnectingText == "" {
		c.ConnectingText = "Connecting you to the site..."
	}
	if c.VisitText == "" {
		c.VisitText = "Visit"
	}
	if c.RedirectDelay < 0 {
		c.RedirectDelay = 0
	}
	if c.ImportMaxRows <= 0 {
		c.ImportMaxRows = 5000
	}
	return c
}

type AdminConfig struct {
	Token       string        `mapstructure:"token"`
	NonceSecret string        `mapstructure:"nonce_secret"`
	NonceTTL    time.Duration `mapstructure:"nonce_ttl"`
}

type EventsConfig struct {
	Persist       bool          `mapstructure:"persist"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SpeedDial = cfg.SpeedDial.WithDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Events.Persist && !c.NATS.Enabled {
		return fmt.Errorf("config: events.persist requires nats.enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.shutdown_timeout", 10*time.Second)
	v.SetDefault("app.body_limit", 10*1024*1024)
	v.SetDefault("app.cors_origins", "*")
	v.SetDefault("app.ip_rate_limit", 600)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "speeddial")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.path", "speeddial.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "speeddial:")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.host", "localhost")
	v.SetDefault("nats.port", 4222)

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("speeddial.max_digits", 16)
	v.SetDefault("speeddial.cache_ttl", time.Hour)
	v.SetDefault("speeddial.negative_filter", false)
	v.SetDefault("speeddial.rate_limit_enabled", true)
	v.SetDefault("speeddial.rate_limit_max", 30)
	v.SetDefault("speeddial.rate_limit_window", time.Minute)
	v.SetDefault("speeddial.not_found_text", "Number not assigned")
	v.SetDefault("speeddial.connecting_text", "Connecting you to the site...")
	v.SetDefault("speeddial.visit_text", "Visit")
	v.SetDefault("speeddial.auto_redirect", false)
	v.SetDefault("speeddial.redirect_delay", 1200*time.Millisecond)
	v.SetDefault("speeddial.import_max_rows", 5000)

	v.SetDefault("admin.token", "")
	v.SetDefault("admin.nonce_secret", "")
	v.SetDefault("admin.nonce_ttl", 12*time.Hour)

	v.SetDefault("events.persist", false)
	v.SetDefault("events.retention", 30*24*time.Hour)
	v.SetDefault("events.prune_schedule", "@every 1h")
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.env", "APP_ENV")
	v.BindEnv("app.addr", "APP_ADDR")
	v.BindEnv("app.log_level", "LOG_LEVEL")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "PG_HOST", "DB_HOST")
	v.BindEnv("database.user", "PG_USER", "DB_USER")
	v.BindEnv("database.password", "PG_PASSWORD", "DB_PASSWORD")
	v.BindEnv("database.database", "PG_DB", "DB_NAME")
	v.BindEnv("database.port", "PG_PORT", "DB_PORT")
	v.BindEnv("database.sslmode", "PG_SSLMODE")
	v.BindEnv("database.path", "SQLITE_PATH")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.enabled", "NATS_ENABLED")
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Speed dial
	v.BindEnv("speeddial.max_digits", "SD_MAX_DIGITS")
	v.BindEnv("speeddial.rate_limit_max", "SD_RATE_LIMIT_MAX")
	v.BindEnv("speeddial.rate_limit_window", "SD_RATE_LIMIT_WINDOW")

	// Admin
	v.BindEnv("admin.token", "SD_ADMIN_TOKEN")
	v.BindEnv("admin.nonce_secret", "SD_NONCE_SECRET")
}
