package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JOBHUB_CONFIG", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("PAYMENT_PROVIDER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DB.Driver != "postgres" || cfg.Payment.Provider != "sandbox" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Payment.Timeout != 10*time.Second || cfg.Payment.MaxAttempts != 3 || cfg.ReconcileInterval != 5*time.Minute {
		t.Fatalf("payment = %+v interval=%s", cfg.Payment, cfg.ReconcileInterval)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("redis = %s", cfg.RedisAddr)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobhub.yaml")
	yaml := "db_driver: sqlite\nsqlite_path: /tmp/x.db\nplatform_fee_bps: 500\npayment_timeout: 3s\nport: \"9000\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JOBHUB_CONFIG", path)
	t.Setenv("PORT", "7000")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("PAYMENT_PROVIDER", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.SQLitePath != "/tmp/x.db" || cfg.Payment.FeeBPS != 500 || cfg.Payment.Timeout != 3*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Port != "7000" {
		t.Fatalf("env should win over file, port = %s", cfg.Port)
	}
	if cfg.RedisAddr != "cache:6379" {
		t.Fatalf("redis = %s", cfg.RedisAddr)
	}
}

func TestValidate(t *testing.T) {
	good := Config{
		ReconcileInterval: time.Minute,
		DB:                DB{Driver: "sqlite"},
		Payment:           Payment{Provider: "sandbox", Timeout: time.Second, MaxAttempts: 1},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	bad := map[string]func(*Config){
		"driver":   func(c *Config) { c.DB.Driver = "mysql" },
		"provider": func(c *Config) { c.Payment.Provider = "paypal" },
		"http":     func(c *Config) { c.Payment.Provider = "http" },
		"fee":      func(c *Config) { c.Payment.FeeBPS = 10_001 },
		"attempts": func(c *Config) { c.Payment.MaxAttempts = 0 },
		"timeout":  func(c *Config) { c.Payment.Timeout = 0 },
		"interval": func(c *Config) { c.ReconcileInterval = 0 },
	}
	for name, mutate := range bad {
		c := good
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
