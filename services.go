package gatekeeper

import (
	"context"

	"github.com/goliatone/go-gatekeeper/core"
)

type Config = core.Config

type AuthConfig = core.AuthConfig
type WebhookConfig = core.WebhookConfig
type NotifyConfig = core.NotifyConfig
type DatabaseConfig = core.DatabaseConfig
type HTTPConfig = core.HTTPConfig
type CacheConfig = core.CacheConfig

type LocalIdentity = core.LocalIdentity
type InboundRequest = core.InboundRequest
type InboundResult = core.InboundResult

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig resolves defaults < loader values < runtime overrides. A nil
// loader reads nothing; a zero runtime Config overrides nothing.
func LoadConfig(ctx context.Context, loader core.RawConfigLoader, runtime Config) (Config, error) {
	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return core.GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}
