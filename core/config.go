package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAudience               = "authenticated"
	DefaultPlaceholderEmailDomain = "example.com"
	DefaultSignatureHeader        = "Stripe-Signature"
	DefaultJWKSPath               = "/auth/v1/jwks"
)

var DefaultAllowedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

type AuthConfig struct {
	ProviderURL            string        `koanf:"provider_url" mapstructure:"provider_url"`
	JWKSURL                string        `koanf:"jwks_url" mapstructure:"jwks_url"`
	Audience               string        `koanf:"audience" mapstructure:"audience"`
	Issuer                 string        `koanf:"issuer" mapstructure:"issuer"`
	AllowedAlgorithms      []string      `koanf:"allowed_algorithms" mapstructure:"allowed_algorithms"`
	KeyCacheTTL            time.Duration `koanf:"key_cache_ttl" mapstructure:"key_cache_ttl"`
	KeyFetchTimeout        time.Duration `koanf:"key_fetch_timeout" mapstructure:"key_fetch_timeout"`
	MinRefreshInterval     time.Duration `koanf:"min_refresh_interval" mapstructure:"min_refresh_interval"`
	Leeway                 time.Duration `koanf:"leeway" mapstructure:"leeway"`
	PlaceholderEmailDomain string        `koanf:"placeholder_email_domain" mapstructure:"placeholder_email_domain"`
}

// ResolvedAudience falls back to the provider's default audience.
func (c AuthConfig) ResolvedAudience() string {
	if value := strings.TrimSpace(c.Audience); value != "" {
		return value
	}
	return DefaultAudience
}

// ResolvedJWKSURL returns the explicit JWKS url or derives it from the
// provider base url.
func (c AuthConfig) ResolvedJWKSURL() string {
	if value := strings.TrimSpace(c.JWKSURL); value != "" {
		return value
	}
	base := strings.TrimRight(strings.TrimSpace(c.ProviderURL), "/")
	if base == "" {
		return ""
	}
	return base + DefaultJWKSPath
}

type WebhookConfig struct {
	Secret          string        `koanf:"secret" mapstructure:"secret"`
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
	Tolerance       time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type NotifyConfig struct {
	Provider  string            `koanf:"provider" mapstructure:"provider"`
	APIKey    string            `koanf:"api_key" mapstructure:"api_key"`
	BaseURL   string            `koanf:"base_url" mapstructure:"base_url"`
	FromEmail string            `koanf:"from_email" mapstructure:"from_email"`
	FromName  string            `koanf:"from_name" mapstructure:"from_name"`
	Templates map[string]string `koanf:"templates" mapstructure:"templates"`
	Timeout   time.Duration     `koanf:"timeout" mapstructure:"timeout"`
	// Async routes notifications through the job queue instead of sending
	// them inline.
	Async bool `koanf:"async" mapstructure:"async"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

func (c DatabaseConfig) GetDebug() bool { return c.Debug }

func (c DatabaseConfig) GetDriver() string { return strings.TrimSpace(c.Driver) }

func (c DatabaseConfig) GetServer() string { return strings.TrimSpace(c.DSN) }

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c DatabaseConfig) GetOtelIdentifier() string { return "go-gatekeeper" }

type HTTPConfig struct {
	Addr            string        `koanf:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// OpsToken guards the operator review routes. Empty disables them.
	OpsToken string `koanf:"ops_token" mapstructure:"ops_token"`
}

type CacheConfig struct {
	IdentityTTL time.Duration `koanf:"identity_ttl" mapstructure:"identity_ttl"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Auth        AuthConfig     `koanf:"auth" mapstructure:"auth"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook"`
	Notify      NotifyConfig   `koanf:"notify" mapstructure:"notify"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
	Cache       CacheConfig    `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "gatekeeper",
		Auth: AuthConfig{
			Audience:               DefaultAudience,
			AllowedAlgorithms:      append([]string(nil), DefaultAllowedAlgorithms...),
			KeyCacheTTL:            10 * time.Minute,
			KeyFetchTimeout:        5 * time.Second,
			MinRefreshInterval:     30 * time.Second,
			PlaceholderEmailDomain: DefaultPlaceholderEmailDomain,
		},
		Webhook: WebhookConfig{
			SignatureHeader: DefaultSignatureHeader,
			Tolerance:       5 * time.Minute,
			MaxBodyBytes:    1 << 20,
		},
		Notify: NotifyConfig{
			Provider: "log",
			BaseURL:  "https://api.sendgrid.com",
			FromName: "Courses",
			Timeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:      "postgres",
			PingTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			IdentityTTL: time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	for _, rawURL := range []string{c.Auth.ProviderURL, c.Auth.JWKSURL, c.Notify.BaseURL} {
		if strings.TrimSpace(rawURL) == "" {
			continue
		}
		parsed, err := url.Parse(strings.TrimSpace(rawURL))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: invalid url %q", rawURL)
		}
	}
	for _, alg := range c.Auth.AllowedAlgorithms {
		if !IsAsymmetricAlgorithm(alg) {
			return fmt.Errorf("core: auth.allowed_algorithms contains non asymmetric algorithm %q", alg)
		}
	}
	durations := map[string]time.Duration{
		"auth.key_cache_ttl":        c.Auth.KeyCacheTTL,
		"auth.key_fetch_timeout":    c.Auth.KeyFetchTimeout,
		"auth.min_refresh_interval": c.Auth.MinRefreshInterval,
		"auth.leeway":               c.Auth.Leeway,
		"webhook.tolerance":         c.Webhook.Tolerance,
		"notify.timeout":            c.Notify.Timeout,
		"cache.identity_ttl":        c.Cache.IdentityTTL,
	}
	for name, value := range durations {
		if value < 0 {
			return fmt.Errorf("core: %s must not be negative", name)
		}
	}
	if c.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Notify.Provider)) {
	case "", "log", "none", "sendgrid":
	default:
		return fmt.Errorf("core: unsupported notify.provider %q", c.Notify.Provider)
	}
	return nil
}

// IsAsymmetricAlgorithm reports whether alg is a public-key JWS algorithm.
func IsAsymmetricAlgorithm(alg string) bool {
	for _, candidate := range DefaultAllowedAlgorithms {
		if candidate == strings.TrimSpace(alg) {
			return true
		}
	}
	return false
}
