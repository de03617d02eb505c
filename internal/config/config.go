package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Queue & alerting thresholds. Alerts fire when a patient has been
	// ready-for-doctor (or waiting) longer than the configured duration.
	ReadyForDoctorWarnAfter time.Duration `mapstructure:"READY_WARN_AFTER"`
	WaitingWarnAfter        time.Duration `mapstructure:"WAIT_WARN_AFTER"`
	AlertPollInterval       time.Duration `mapstructure:"ALERT_POLL_INTERVAL"`

	// Outbound collaborator endpoints. Empty values switch the engine to
	// in-memory directories, which is only acceptable in development.
	AppointmentServiceURL string `mapstructure:"APPOINTMENT_SERVICE_URL"`
	StaffServiceURL       string `mapstructure:"STAFF_SERVICE_URL"`

	FloorPlanHistoryLimit int `mapstructure:"FLOORPLAN_HISTORY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("READY_WARN_AFTER", "15m")
	v.SetDefault("WAIT_WARN_AFTER", "30m")
	v.SetDefault("ALERT_POLL_INTERVAL", "30s")
	v.SetDefault("FLOORPLAN_HISTORY_LIMIT", 50)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("READY_WARN_AFTER")
	v.BindEnv("WAIT_WARN_AFTER")
	v.BindEnv("ALERT_POLL_INTERVAL")
	v.BindEnv("APPOINTMENT_SERVICE_URL")
	v.BindEnv("STAFF_SERVICE_URL")
	v.BindEnv("FLOORPLAN_HISTORY_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT verification source (issuer/JWKS or a shared signing key) must be
// configured, and the alerting thresholds must be positive so the queue
// poller cannot spin.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.ReadyForDoctorWarnAfter <= 0 {
		return fmt.Errorf("READY_WARN_AFTER must be positive, got %s", c.ReadyForDoctorWarnAfter)
	}
	if c.WaitingWarnAfter <= 0 {
		return fmt.Errorf("WAIT_WARN_AFTER must be positive, got %s", c.WaitingWarnAfter)
	}
	if c.AlertPollInterval < time.Second {
		return fmt.Errorf("ALERT_POLL_INTERVAL must be at least 1s, got %s", c.AlertPollInterval)
	}
	if c.FloorPlanHistoryLimit <= 0 {
		return fmt.Errorf("FLOORPLAN_HISTORY_LIMIT must be positive, got %d", c.FloorPlanHistoryLimit)
	}
	if c.IsProduction() {
		if c.AppointmentServiceURL == "" {
			return fmt.Errorf("APPOINTMENT_SERVICE_URL is required in production")
		}
		if c.StaffServiceURL == "" {
			return fmt.Errorf("STAFF_SERVICE_URL is required in production")
		}
	}
	return nil
}
