package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// GatewayURL is the base URL of the exchange gateway. Session, cert,
	// and protocol paths are derived from it unless overridden.
	GatewayURL          string `mapstructure:"GATEWAY_URL"`
	GatewayClientID     string `mapstructure:"GATEWAY_CLIENT_ID"`
	GatewayClientSecret string `mapstructure:"GATEWAY_CLIENT_SECRET"`
	GatewayCMID         string `mapstructure:"GATEWAY_CM_ID"`
	GatewayJWKSURL      string `mapstructure:"GATEWAY_JWKS_URL"`

	// BackendURL is this deployment's externally reachable base URL; the
	// data push callback for HIU-side transfers is derived from it.
	BackendURL    string `mapstructure:"BACKEND_URL"`
	CurrentDomain string `mapstructure:"CURRENT_DOMAIN"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("GATEWAY_URL")
	v.BindEnv("GATEWAY_CLIENT_ID")
	v.BindEnv("GATEWAY_CLIENT_SECRET")
	v.BindEnv("GATEWAY_CM_ID")
	v.BindEnv("GATEWAY_JWKS_URL")
	v.BindEnv("BACKEND_URL")
	v.BindEnv("CURRENT_DOMAIN")
	v.BindEnv("CORS_ORIGINS")

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

// SessionURL is the gateway's credential-exchange endpoint.
func (c *Config) SessionURL() string {
	return c.GatewayURL + "/v0.5/sessions"
}

// CertsURL is the JWKS endpoint used to verify inbound callback tokens.
// GATEWAY_JWKS_URL overrides the derived default.
func (c *Config) CertsURL() string {
	if c.GatewayJWKSURL != "" {
		return c.GatewayJWKSURL
	}
	return c.GatewayURL + "/v0.5/certs"
}

// DataPushURL is the callback URL handed to counterparts for pushing
// encrypted health-information entries back to this deployment.
func (c *Config) DataPushURL() string {
	return c.BackendURL + "/api/v3/hiu/health-information/transfer"
}

// Validate checks that the configuration is safe to run. Outside development
// the gateway credentials must be present, since every protocol step needs a
// session token.
func (c *Config) Validate() error {
	if c.IsDev() {
		return nil
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.GatewayClientID == "" || c.GatewayClientSecret == "" {
		return fmt.Errorf("GATEWAY_CLIENT_ID and GATEWAY_CLIENT_SECRET are required")
	}
	if c.GatewayCMID == "" {
		return fmt.Errorf("GATEWAY_CM_ID is required")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	return nil
}
