package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Order        OrderConfig
	Outbox       OutboxConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	SMTP         SMTPConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// OrderConfig tunes order placement.
type OrderConfig struct {
	TxTimeout time.Duration `default:"5s" usage:"Upper bound for one order transaction" flag:"order-tx-timeout"`
}

// OutboxConfig tunes the order event relay.
type OutboxConfig struct {
	Interval    time.Duration `default:"5s" usage:"Outbox poll interval"`
	BatchSize   int           `default:"50" usage:"Events claimed per poll"`
	MaxAttempts int           `default:"8"  usage:"Deliveries before an event is abandoned"`
	// MaxBacklog fails readiness above this many pending events. Zero disables.
	MaxBacklog int64 `default:"0" usage:"Pending events that fail readiness (0 disables)"`
}

// RedisConfig enables the settings cache and the shared rate limiter.
// Both are off when Addr is empty.
type RedisConfig struct {
	Addr        string        `default:"" usage:"Redis address or redis:// URL (STOREFRONT_REDIS_ADDR or REDIS_URL)"`
	Password    string        `default:"" usage:"Redis password"`
	DB          int           `default:"0" usage:"Redis database"`
	SettingsTTL time.Duration `default:"30s" usage:"Settings cache TTL" flag:"redis-settings-ttl"`
}

// KafkaConfig enables order event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers"`
	Topic   string   `default:"storefront.orders" usage:"Order event topic"`
}

// SMTPConfig configures order email delivery. Mail is only logged when Host
// is empty.
type SMTPConfig struct {
	Host     string `default:"" usage:"SMTP host"`
	Port     int    `default:"587" usage:"SMTP port"`
	Username string `default:"" usage:"SMTP username"`
	Password string `default:"" usage:"SMTP password"`
	SSL      bool   `default:"false" usage:"Use implicit TLS"`
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set STOREFRONT_API_KEY_PEPPER")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided variables such as
// DATABASE_URL, REDIS_URL and PORT onto the configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.DatabaseURL == "" {
		c.DatabaseURL = getenv("DATABASE_URL")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = getenv("REDIS_URL")
	}
	if port := getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
