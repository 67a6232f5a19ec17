package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	JWT          JWTConfig          `yaml:"jwt"`
	Firebase     FirebaseConfig     `yaml:"firebase"`
	Payment      PaymentConfig      `yaml:"payment"`
	Relationship RelationshipConfig `yaml:"relationship"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	Env          string        `yaml:"env"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RateLimit    int           `yaml:"rate_limit"` // requests per minute per IP
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type JWTConfig struct {
	AccessSecret string        `yaml:"access_secret"`
	AccessExpiry time.Duration `yaml:"access_expiry"`
	Issuer       string        `yaml:"issuer"`
}

type FirebaseConfig struct {
	ServiceAccountPath string `yaml:"service_account_path"`
}

type PaymentConfig struct {
	WebhookSecret        string `yaml:"webhook_secret"`
	ConnectionPriceCents int64  `yaml:"connection_price_cents"`
	// GatewayURL empty selects the development stub gateway.
	GatewayURL    string `yaml:"gateway_url"`
	GatewaySecret string `yaml:"gateway_secret"`
}

// RelationshipConfig tunes the connection lifecycle and its background sweeps.
type RelationshipConfig struct {
	RequestTTL         time.Duration `yaml:"request_ttl"`
	MaxTickets         int           `yaml:"max_tickets"`
	ConflictRetries    int           `yaml:"conflict_retries"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	SweepWorkers       int           `yaml:"sweep_workers"`
	ExpirySweepEnabled bool          `yaml:"expiry_sweep_enabled"`
}

type RealtimeConfig struct {
	PushTimeout time.Duration `yaml:"push_timeout"`
}

// Load returns defaults, overlaid by the YAML file named in SPARK_CONFIG and
// then by environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("SPARK_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()
	return cfg, nil
}

const defaultAccessSecret = "change-me-in-production"

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8099",
			Env:          "development",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			RateLimit:    100,
		},
		Database: DatabaseConfig{
			DSN:             "spark:spark@tcp(localhost:3306)/spark?charset=utf8mb4&parseTime=True&loc=Local",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: defaultAccessSecret,
			AccessExpiry: 15 * time.Minute,
			Issuer:       "spark",
		},
		Payment: PaymentConfig{
			ConnectionPriceCents: 50000,
		},
		Relationship: RelationshipConfig{
			RequestTTL:         24 * time.Hour,
			MaxTickets:         3,
			ConflictRetries:    3,
			SweepInterval:      15 * time.Minute,
			SweepWorkers:       4,
			ExpirySweepEnabled: true,
		},
		Realtime: RealtimeConfig{
			PushTimeout: 5 * time.Second,
		},
	}
}

// Validate rejects production settings that would let clients create
// balance: the stub gateway, unsigned webhooks and the default JWT secret.
func (c *Config) Validate() error {
	if c.Server.Env != "production" {
		return nil
	}
	var missing []string
	if c.Payment.GatewayURL == "" {
		missing = append(missing, "PAYMENT_GATEWAY_URL")
	}
	if c.Payment.WebhookSecret == "" {
		missing = append(missing, "PAYMENT_WEBHOOK_SECRET")
	}
	if c.JWT.AccessSecret == "" || c.JWT.AccessSecret == defaultAccessSecret {
		missing = append(missing, "JWT_ACCESS_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("production config incomplete: set %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) overlayFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JWT_ACCESS_SECRET"); v != "" {
		c.JWT.AccessSecret = v
	}
	if v := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"); v != "" {
		c.Firebase.ServiceAccountPath = v
	}
	if v := os.Getenv("PAYMENT_WEBHOOK_SECRET"); v != "" {
		c.Payment.WebhookSecret = v
	}
	if v := os.Getenv("PAYMENT_GATEWAY_URL"); v != "" {
		c.Payment.GatewayURL = v
	}
	if v := os.Getenv("PAYMENT_GATEWAY_SECRET"); v != "" {
		c.Payment.GatewaySecret = v
	}
}
