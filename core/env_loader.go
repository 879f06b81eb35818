package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type envValueKind int

const (
	envString envValueKind = iota
	envDuration
	envBool
	envInt
	envList
)

type envBinding struct {
	path    string
	kind    envValueKind
	aliases []string
}

var envBindings = map[string]envBinding{
	"SERVICE_NAME":                    {path: "service_name"},
	"AUTH_PROVIDER_URL":               {path: "auth.provider_url", aliases: []string{"SUPABASE_URL"}},
	"AUTH_JWKS_URL":                   {path: "auth.jwks_url"},
	"AUTH_AUDIENCE":                   {path: "auth.audience"},
	"AUTH_ISSUER":                     {path: "auth.issuer"},
	"AUTH_ALLOWED_ALGORITHMS":         {path: "auth.allowed_algorithms", kind: envList},
	"AUTH_KEY_CACHE_TTL":              {path: "auth.key_cache_ttl", kind: envDuration},
	"AUTH_KEY_FETCH_TIMEOUT":          {path: "auth.key_fetch_timeout", kind: envDuration},
	"AUTH_MIN_REFRESH_INTERVAL":       {path: "auth.min_refresh_interval", kind: envDuration},
	"AUTH_LEEWAY":                     {path: "auth.leeway", kind: envDuration},
	"AUTH_PLACEHOLDER_EMAIL_DOMAIN":   {path: "auth.placeholder_email_domain"},
	"WEBHOOK_SECRET":                  {path: "webhook.secret", aliases: []string{"STRIPE_WEBHOOK_SECRET"}},
	"WEBHOOK_SIGNATURE_HEADER":        {path: "webhook.signature_header"},
	"WEBHOOK_TOLERANCE":               {path: "webhook.tolerance", kind: envDuration},
	"WEBHOOK_MAX_BODY_BYTES":          {path: "webhook.max_body_bytes", kind: envInt},
	"NOTIFY_PROVIDER":                 {path: "notify.provider"},
	"NOTIFY_API_KEY":                  {path: "notify.api_key", aliases: []string{"SENDGRID_API_KEY"}},
	"NOTIFY_BASE_URL":                 {path: "notify.base_url"},
	"NOTIFY_FROM_EMAIL":               {path: "notify.from_email", aliases: []string{"DEFAULT_FROM_EMAIL"}},
	"NOTIFY_FROM_NAME":                {path: "notify.from_name"},
	"NOTIFY_TIMEOUT":                  {path: "notify.timeout", kind: envDuration},
	"NOTIFY_ASYNC":                    {path: "notify.async", kind: envBool},
	"NOTIFY_TEMPLATE_WELCOME":         {path: "notify.templates.welcome"},
	"NOTIFY_TEMPLATE_CONFIRMATION":    {path: "notify.templates.enrollment_confirmation"},
	"NOTIFY_TEMPLATE_PAYMENT_RECEIPT": {path: "notify.templates.payment_receipt"},
	"DATABASE_DRIVER":                 {path: "database.driver"},
	"DATABASE_DSN":                    {path: "database.dsn", aliases: []string{"DATABASE_URL"}},
	"DATABASE_DEBUG":                  {path: "database.debug", kind: envBool},
	"DATABASE_PING_TIMEOUT":           {path: "database.ping_timeout", kind: envDuration},
	"HTTP_ADDR":                       {path: "http.addr"},
	"HTTP_READ_TIMEOUT":               {path: "http.read_timeout", kind: envDuration},
	"HTTP_WRITE_TIMEOUT":              {path: "http.write_timeout", kind: envDuration},
	"HTTP_SHUTDOWN_TIMEOUT":           {path: "http.shutdown_timeout", kind: envDuration},
	"HTTP_OPS_TOKEN":                  {path: "http.ops_token"},
	"CACHE_IDENTITY_TTL":              {path: "cache.identity_ttl", kind: envDuration},
}

// EnvRawConfigLoader reads PREFIX_* environment variables (plus a few
// unprefixed legacy names) into the nested raw map consumed by cfgx.
type EnvRawConfigLoader struct {
	Prefix string
	Lookup func(key string) (string, bool)
}

func NewEnvRawConfigLoader(prefix string) EnvRawConfigLoader {
	return EnvRawConfigLoader{Prefix: prefix, Lookup: os.LookupEnv}
}

func (l EnvRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	prefix := strings.TrimSpace(l.Prefix)
	if prefix == "" {
		prefix = "GATEKEEPER_"
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	raw := map[string]any{}
	for suffix, binding := range envBindings {
		value, ok := lookup(prefix + suffix)
		if !ok || strings.TrimSpace(value) == "" {
			for _, alias := range binding.aliases {
				if aliased, found := lookup(alias); found && strings.TrimSpace(aliased) != "" {
					value, ok = aliased, true
					break
				}
			}
		}
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		parsed, err := parseEnvValue(binding.kind, strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("core: env %s%s: %w", prefix, suffix, err)
		}
		setPath(raw, binding.path, parsed)
	}
	return raw, nil
}

func parseEnvValue(kind envValueKind, value string) (any, error) {
	switch kind {
	case envDuration:
		return time.ParseDuration(value)
	case envBool:
		return strconv.ParseBool(value)
	case envInt:
		return strconv.ParseInt(value, 10, 64)
	case envList:
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	default:
		return value, nil
	}
}

func setPath(target map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := target
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}
