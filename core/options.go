package core

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	maps.Copy(out, l.Values)
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded < runtime and rebuilds the
// merged map through cfgx so the result is validated once.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString(layer, "service_name", cfg.ServiceName, includeZero)

	auth := map[string]any{}
	setString(auth, "provider_url", cfg.Auth.ProviderURL, includeZero)
	setString(auth, "jwks_url", cfg.Auth.JWKSURL, includeZero)
	setString(auth, "audience", cfg.Auth.Audience, includeZero)
	setString(auth, "issuer", cfg.Auth.Issuer, includeZero)
	setString(auth, "placeholder_email_domain", cfg.Auth.PlaceholderEmailDomain, includeZero)
	if includeZero || len(cfg.Auth.AllowedAlgorithms) > 0 {
		auth["allowed_algorithms"] = append([]string(nil), cfg.Auth.AllowedAlgorithms...)
	}
	setValue(auth, "key_cache_ttl", cfg.Auth.KeyCacheTTL, includeZero || cfg.Auth.KeyCacheTTL != 0)
	setValue(auth, "key_fetch_timeout", cfg.Auth.KeyFetchTimeout, includeZero || cfg.Auth.KeyFetchTimeout != 0)
	setValue(auth, "min_refresh_interval", cfg.Auth.MinRefreshInterval, includeZero || cfg.Auth.MinRefreshInterval != 0)
	setValue(auth, "leeway", cfg.Auth.Leeway, includeZero || cfg.Auth.Leeway != 0)
	setSection(layer, "auth", auth)

	webhook := map[string]any{}
	setString(webhook, "secret", cfg.Webhook.Secret, includeZero)
	setString(webhook, "signature_header", cfg.Webhook.SignatureHeader, includeZero)
	setValue(webhook, "tolerance", cfg.Webhook.Tolerance, includeZero || cfg.Webhook.Tolerance != 0)
	setValue(webhook, "max_body_bytes", cfg.Webhook.MaxBodyBytes, includeZero || cfg.Webhook.MaxBodyBytes != 0)
	setSection(layer, "webhook", webhook)

	notify := map[string]any{}
	setString(notify, "provider", cfg.Notify.Provider, includeZero)
	setString(notify, "api_key", cfg.Notify.APIKey, includeZero)
	setString(notify, "base_url", cfg.Notify.BaseURL, includeZero)
	setString(notify, "from_email", cfg.Notify.FromEmail, includeZero)
	setString(notify, "from_name", cfg.Notify.FromName, includeZero)
	if includeZero || len(cfg.Notify.Templates) > 0 {
		templates := make(map[string]any, len(cfg.Notify.Templates))
		for key, value := range cfg.Notify.Templates {
			templates[key] = value
		}
		notify["templates"] = templates
	}
	setValue(notify, "timeout", cfg.Notify.Timeout, includeZero || cfg.Notify.Timeout != 0)
	setValue(notify, "async", cfg.Notify.Async, includeZero || cfg.Notify.Async)
	setSection(layer, "notify", notify)

	database := map[string]any{}
	setString(database, "driver", cfg.Database.Driver, includeZero)
	setString(database, "dsn", cfg.Database.DSN, includeZero)
	setValue(database, "debug", cfg.Database.Debug, includeZero || cfg.Database.Debug)
	setValue(database, "ping_timeout", cfg.Database.PingTimeout, includeZero || cfg.Database.PingTimeout != 0)
	setSection(layer, "database", database)

	httpSection := map[string]any{}
	setString(httpSection, "addr", cfg.HTTP.Addr, includeZero)
	setValue(httpSection, "read_timeout", cfg.HTTP.ReadTimeout, includeZero || cfg.HTTP.ReadTimeout != 0)
	setValue(httpSection, "write_timeout", cfg.HTTP.WriteTimeout, includeZero || cfg.HTTP.WriteTimeout != 0)
	setValue(httpSection, "shutdown_timeout", cfg.HTTP.ShutdownTimeout, includeZero || cfg.HTTP.ShutdownTimeout != 0)
	setString(httpSection, "ops_token", cfg.HTTP.OpsToken, includeZero)
	setSection(layer, "http", httpSection)

	cache := map[string]any{}
	setValue(cache, "identity_ttl", cfg.Cache.IdentityTTL, includeZero || cfg.Cache.IdentityTTL != 0)
	setSection(layer, "cache", cache)

	return layer
}

func setString(target map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		target[key] = value
	}
}

func setValue(target map[string]any, key string, value any, include bool) {
	if include {
		target[key] = value
	}
}

func setSection(target map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		target[key] = section
	}
}
