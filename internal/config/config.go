// Package config loads runtime settings from .env, an optional YAML file named by JOBHUB_CONFIG
// and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DB struct {
	Driver     string // postgres|sqlite
	User       string
	Password   string
	Host       string
	Port       string
	Name       string
	SSLMode    string
	SQLitePath string
}

type Mail struct {
	Provider     string // smtp|plunk, empty picks plunk when PLUNK_API_KEY is set
	ReplyTo      string
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	PlunkAPIKey  string
	PlunkFrom    string
	PlunkAPIURL  string
}

type Payment struct {
	Provider      string // http|sandbox
	APIURL        string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	MaxAttempts   int
	Backoff       time.Duration
	Currency      string
	FeeBPS        int64
}

type Config struct {
	Port              string
	JWTSecret         string
	RedisAddr         string
	AdminEmail        string
	RateLimit         float64
	ReconcileInterval time.Duration

	DB      DB
	Mail    Mail
	Payment Payment
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("sqlite_path", "jobhub.db")
	v.SetDefault("payment_provider", "sandbox")
	v.SetDefault("payment_timeout", "10s")
	v.SetDefault("payment_max_attempts", 3)
	v.SetDefault("payment_backoff", "200ms")
	v.SetDefault("payment_currency", "USD")
	v.SetDefault("platform_fee_bps", 0)
	v.SetDefault("rate_limit", 20)
	v.SetDefault("reconcile_interval", "5m")
}

// Load reads .env if present, then the YAML file named by JOBHUB_CONFIG, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path := os.Getenv("JOBHUB_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Port:              v.GetString("port"),
		JWTSecret:         v.GetString("jwt_secret"),
		RedisAddr:         redisAddr(v),
		AdminEmail:        v.GetString("admin_email"),
		RateLimit:         v.GetFloat64("rate_limit"),
		ReconcileInterval: v.GetDuration("reconcile_interval"),
		DB: DB{
			Driver:     v.GetString("db_driver"),
			User:       v.GetString("db_user"),
			Password:   v.GetString("db_password"),
			Host:       v.GetString("db_host"),
			Port:       v.GetString("db_port"),
			Name:       v.GetString("db_name"),
			SSLMode:    v.GetString("db_sslmode"),
			SQLitePath: v.GetString("sqlite_path"),
		},
		Mail: Mail{
			Provider:     v.GetString("mail_provider"),
			ReplyTo:      v.GetString("mail_reply_to"),
			SMTPHost:     v.GetString("smtp_host"),
			SMTPPort:     v.GetString("smtp_port"),
			SMTPUsername: v.GetString("smtp_username"),
			SMTPPassword: v.GetString("smtp_password"),
			SMTPFrom:     v.GetString("smtp_from"),
			PlunkAPIKey:  v.GetString("plunk_api_key"),
			PlunkFrom:    v.GetString("plunk_from"),
			PlunkAPIURL:  v.GetString("plunk_api_url"),
		},
		Payment: Payment{
			Provider:      v.GetString("payment_provider"),
			APIURL:        v.GetString("payment_api_url"),
			APIKey:        v.GetString("payment_api_key"),
			WebhookSecret: v.GetString("payment_webhook_secret"),
			Timeout:       v.GetDuration("payment_timeout"),
			MaxAttempts:   v.GetInt("payment_max_attempts"),
			Backoff:       v.GetDuration("payment_backoff"),
			Currency:      v.GetString("payment_currency"),
			FeeBPS:        v.GetInt64("platform_fee_bps"),
		},
	}
	return cfg, cfg.Validate()
}

// redisAddr prefers REDIS_ADDR, then REDIS_HOST/REDIS_PORT, then the compose service name.
func redisAddr(v *viper.Viper) string {
	if addr := v.GetString("redis_addr"); addr != "" {
		return addr
	}
	if host := v.GetString("redis_host"); host != "" {
		port := v.GetString("redis_port")
		if port == "" {
			port = "6379"
		}
		return host + ":" + port
	}
	if v.GetBool("run_local") {
		return "127.0.0.1:6379"
	}
	return "redis:6379"
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver)
	}
	switch c.Payment.Provider {
	case "sandbox":
	case "http":
		if c.Payment.APIURL == "" || c.Payment.APIKey == "" {
			return fmt.Errorf("config: PAYMENT_PROVIDER=http needs PAYMENT_API_URL and PAYMENT_API_KEY")
		}
	default:
		return fmt.Errorf("config: PAYMENT_PROVIDER must be http or sandbox, got %q", c.Payment.Provider)
	}
	if c.Payment.FeeBPS < 0 || c.Payment.FeeBPS > 10_000 {
		return fmt.Errorf("config: PLATFORM_FEE_BPS must be within 0..10000")
	}
	if c.Payment.MaxAttempts < 1 {
		return fmt.Errorf("config: PAYMENT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("config: PAYMENT_TIMEOUT must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("config: RECONCILE_INTERVAL must be positive")
	}
	return nil
}
