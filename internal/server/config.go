package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/elskow/memorial-auth/internal/config"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

const envPrefix = "MEMORIAL"

func LoadConfig() (*config.AppConfig, error) {
	return loadConfig(viper.New(), "./config/server")
}

func loadConfig(v *viper.Viper, paths ...string) (*config.AppConfig, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}

	setDefaults(v)
	v.Set("env", env)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Load environment-specific configurations
	if envSettings := v.GetStringMap(fmt.Sprintf("auth.%s", env)); len(envSettings) > 0 {
		if err := v.UnmarshalKey(fmt.Sprintf("auth.%s", env), &cfg.Auth); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.frontend_url", "http://localhost:3000")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "memorial")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.secure_cookies", false)
	v.SetDefault("auth.issuer", "memorial-auth")
	v.SetDefault("auth.access_token_duration", time.Hour)
	v.SetDefault("auth.refresh_token_duration", 7*24*time.Hour)
	v.SetDefault("auth.remember_refresh_duration", 90*24*time.Hour)
	v.SetDefault("auth.remember_access_cookie_ttl", 30*24*time.Hour)
	v.SetDefault("auth.refresh_cookie_path", "/auth")
	v.SetDefault("auth.magic_link_ttl", 15*time.Minute)
	v.SetDefault("auth.reset_token_ttl", 15*time.Minute)
	v.SetDefault("auth.invitation_ttl", 7*24*time.Hour)
	v.SetDefault("auth.reset_min_response_time", 500*time.Millisecond)
	v.SetDefault("auth.provider_request_timeout", 5*time.Second)
	v.SetDefault("auth.min_password_length", 8)
	v.SetDefault("auth.default_tier", "free")
	v.SetDefault("auth.trial_duration", 14*24*time.Hour)

	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.origin_multiplier", 3)
	v.SetDefault("lockout.window", 15*time.Minute)
	v.SetDefault("lockout.duration", 15*time.Minute)

	v.SetDefault("breach.enabled", true)
	v.SetDefault("breach.base_url", "https://api.pwnedpasswords.com")
	v.SetDefault("breach.timeout", 3*time.Second)

	v.SetDefault("oauth_state.backend", "memory")
	v.SetDefault("oauth_state.ttl", 10*time.Minute)
	v.SetDefault("oauth_state.sweep_interval", 5*time.Minute)
	v.SetDefault("oauth_state.key_prefix", "oauth_state")
	v.SetDefault("oauth_state.strict_origin", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("federation.callback_base_url", "http://localhost:8080/auth/sso/callback")
	v.SetDefault("federation.timeout", 10*time.Second)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "no-reply@localhost")
	v.SetDefault("email.timeout", 10*time.Second)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.initial_delay", 30*time.Second)
	v.SetDefault("sweep.interval", 6*time.Hour)
	v.SetDefault("sweep.used_token_retention", 24*time.Hour)
	v.SetDefault("sweep.attempt_retention", 30*24*time.Hour)
	v.SetDefault("sweep.revoked_session_retention", 24*time.Hour)
}

func validate(cfg *config.AppConfig) error {
	if cfg.Auth.JWTSecret == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("auth.jwt_secret must be set in production")
		}
		cfg.Auth.JWTSecret = "development-only-secret"
	}
	if cfg.IsProduction() {
		cfg.Auth.SecureCookies = true
	}
	switch cfg.OAuthState.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown oauth_state.backend %q", cfg.OAuthState.Backend)
	}
	return nil
}
