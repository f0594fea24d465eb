package config

import "time"

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	FrontendURL     string        `mapstructure:"frontend_url"`
	PublicURL       string        `mapstructure:"public_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// MigrationsDir overrides the migrations directory found next to go.mod.
	MigrationsDir string `mapstructure:"migrations_dir"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
}

// AuthConfig covers the embedded identity provider and the session cookies it
// hands out.
type AuthConfig struct {
	JWTSecret               string        `mapstructure:"jwt_secret"`
	Issuer                  string        `mapstructure:"issuer"`
	AccessTokenDuration     time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration    time.Duration `mapstructure:"refresh_token_duration"`
	RememberRefreshDuration time.Duration `mapstructure:"remember_refresh_duration"`
	RememberAccessCookieTTL time.Duration `mapstructure:"remember_access_cookie_ttl"`
	SecureCookies           bool          `mapstructure:"secure_cookies"`
	RefreshCookiePath       string        `mapstructure:"refresh_cookie_path"`
	MagicLinkTTL            time.Duration `mapstructure:"magic_link_ttl"`
	ResetTokenTTL           time.Duration `mapstructure:"reset_token_ttl"`
	InvitationTTL           time.Duration `mapstructure:"invitation_ttl"`
	ResetMinResponseTime    time.Duration `mapstructure:"reset_min_response_time"`
	ProviderRequestTimeout  time.Duration `mapstructure:"provider_request_timeout"`
	MinPasswordLength       int           `mapstructure:"min_password_length"`
	DefaultTier             string        `mapstructure:"default_tier"`
	TrialDuration           time.Duration `mapstructure:"trial_duration"`
}

type LockoutConfig struct {
	Threshold        int           `mapstructure:"threshold"`
	OriginMultiplier int           `mapstructure:"origin_multiplier"`
	Window           time.Duration `mapstructure:"window"`
	Duration         time.Duration `mapstructure:"duration"`
}

type BreachConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OAuthStateConfig struct {
	// Backend is "memory" for single-instance deployments or "redis" when
	// callbacks may land on another replica.
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StrictOrigin  bool          `mapstructure:"strict_origin"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type FederationProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
}

type FederationConfig struct {
	// CallbackBaseURL is joined with the provider name to form the redirect URI.
	CallbackBaseURL string                              `mapstructure:"callback_base_url"`
	Timeout         time.Duration                       `mapstructure:"timeout"`
	Providers       map[string]FederationProviderConfig `mapstructure:"providers"`
}

type EmailConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	SMTPHost string        `mapstructure:"smtp_host"`
	SMTPPort int           `mapstructure:"smtp_port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SweepConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	InitialDelay            time.Duration `mapstructure:"initial_delay"`
	Interval                time.Duration `mapstructure:"interval"`
	UsedTokenRetention      time.Duration `mapstructure:"used_token_retention"`
	AttemptRetention        time.Duration `mapstructure:"attempt_retention"`
	RevokedSessionRetention time.Duration `mapstructure:"revoked_session_retention"`
}

type AppConfig struct {
	Env        string           `mapstructure:"env"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Lockout    LockoutConfig    `mapstructure:"lockout"`
	Breach     BreachConfig     `mapstructure:"breach"`
	OAuthState OAuthStateConfig `mapstructure:"oauth_state"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Federation FederationConfig `mapstructure:"federation"`
	Email      EmailConfig      `mapstructure:"email"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
}

// IsProduction reports whether the service runs with production settings.
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
