package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultTokenTTL     = 7 * 24 * time.Hour
	DefaultGeoIPTimeout = 3 * time.Second
	DefaultMailTimeout  = 10 * time.Second
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// storage
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	PostgresUser   string `toml:"postgres_user"`
	RedisHost      string `toml:"redis_host"`
	RedisPort      string `toml:"redis_port"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// auth
	TokenTTL                    Duration `toml:"token_ttl"`
	TokenLeeway                 Duration `toml:"token_leeway"`
	TokenIssuer                 string   `toml:"token_issuer"`
	LoginRateLimitAllowedPerMin int      `toml:"login_rate_limit_allowed_per_min"`
	AllowedOrigins              []string `toml:"allowed_origins"`
	// read the client ip from X-Real-Ip / X-Forwarded-For, only safe behind a proxy that sets them
	TrustProxyHeaders           bool     `toml:"trust_proxy_headers"`

	// admin seed, used only when the admin record does not exist yet
	AdminName     string `toml:"admin_name"`
	AdminSlogan   string `toml:"admin_slogan"`
	AdminGravatar string `toml:"admin_gravatar"`

	// login notifications
	NotifyEmail      string   `toml:"notify_email"`
	GeoIPTimeout     Duration `toml:"geo_ip_timeout"`
	SMTPHost         string   `toml:"smtp_host"`
	SMTPPort         int      `toml:"smtp_port"`
	SMTPUsername     string   `toml:"smtp_username"`
	SMTPFrom         string   `toml:"smtp_from"`
	MailTimeout      Duration `toml:"mail_timeout"`
	NotifyMailEnable bool     `toml:"notify_mail_enabled"`
}

// Duration lets durations be written as "168h" / "3s" in the TOML file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] missing", env)
	}
	return cfg, nil
}

func Load(env, path string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(path, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode toml config [%s]: %w", path, err)
	}

	cfg, err := tomlConfig.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg.Environment == "" {
		cfg.Environment = strings.ToLower(env)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.TokenTTL.Duration == 0 {
		c.TokenTTL.Duration = DefaultTokenTTL
	}
	if c.TokenIssuer == "" {
		c.TokenIssuer = "pressauth"
	}
	if c.GeoIPTimeout.Duration == 0 {
		c.GeoIPTimeout.Duration = DefaultGeoIPTimeout
	}
	if c.MailTimeout.Duration == 0 {
		c.MailTimeout.Duration = DefaultMailTimeout
	}
	if c.LoginRateLimitAllowedPerMin == 0 {
		c.LoginRateLimitAllowedPerMin = 10
	}
	if c.PostgresUser == "" {
		c.PostgresUser = "postgres"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.AdminName == "" {
		c.AdminName = "admin"
	}
}

func (c *Config) Validate() error {
	if c.Port <= 0 {
		return errors.New("port not set")
	}
	if c.TokenTTL.Duration < time.Second {
		return errors.New("token ttl must be at least 1s")
	}
	if c.TokenLeeway.Duration < 0 {
		return errors.New("token leeway must not be negative")
	}
	if c.NotifyMailEnable {
		if c.NotifyEmail == "" {
			return errors.New("notify email not set")
		}
		if c.SMTPHost == "" {
			return errors.New("smtp host not set")
		}
	}
	return nil
}
