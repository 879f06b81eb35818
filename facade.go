package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gkcommand "github.com/goliatone/go-gatekeeper/command"
	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/fulfillment"
	"github.com/goliatone/go-gatekeeper/identity"
	"github.com/goliatone/go-gatekeeper/inbound"
	"github.com/goliatone/go-gatekeeper/keyset"
	gkquery "github.com/goliatone/go-gatekeeper/query"
	"github.com/goliatone/go-gatekeeper/token"
	"github.com/goliatone/go-gatekeeper/webhooks"
)

// Stores groups the persistence collaborators. Identities and Fulfillment
// are required; the readers back the command/query bundle when set.
type Stores struct {
	Identities    core.IdentityStore
	Fulfillment   core.FulfillmentStore
	Ledger        core.PaymentEventLedger
	Enrollments   gkquery.EnrollmentReader
	FlaggedEvents gkquery.FlaggedEventReader
}

type Commands struct {
	ProcessWebhook  *gkcommand.ProcessWebhookCommand
	ResolveIdentity *gkcommand.ResolveIdentityCommand
}

type Queries struct {
	GetEnrollment     *gkquery.GetEnrollmentQuery
	ListFlaggedEvents *gkquery.ListFlaggedEventsQuery
}

type Option func(*options)

type options struct {
	stores     Stores
	notifier   core.Notifier
	observer   core.Observer
	httpClient keyset.HTTPDoer
	keySource  core.KeySource
	now        func() time.Time
	hooks      *ExtensionHooks
}

func WithStores(stores Stores) Option {
	return func(o *options) {
		o.stores = stores
	}
}

func WithNotifier(notifier core.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

func WithObserver(observer core.Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithHTTPClient sets the client used to fetch the provider key set.
func WithHTTPClient(client keyset.HTTPDoer) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithKeySource replaces the JWKS cache, mainly for tests and for callers
// that share one key cache between services.
func WithKeySource(keys core.KeySource) Option {
	return func(o *options) {
		o.keySource = keys
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// Gatekeeper wires the authentication gate and the payment fulfillment
// pipeline from one configuration.
type Gatekeeper struct {
	cfg        core.Config
	keys       *keyset.Cache
	verifier   core.TokenVerifier
	resolver   *identity.Resolver
	dispatcher *inbound.Dispatcher
	engine     *fulfillment.Engine
	webhooks   *webhooks.Processor
	stores     Stores
	observer   core.Observer
	commands   Commands
	queries    Queries
}

func New(cfg core.Config, opts ...Option) (*Gatekeeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolved := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	if resolved.stores.Identities == nil {
		return nil, fmt.Errorf("gatekeeper: identity store is required")
	}
	if resolved.stores.Fulfillment == nil {
		return nil, fmt.Errorf("gatekeeper: fulfillment store is required")
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return nil, fmt.Errorf("gatekeeper: webhook.secret is required")
	}
	now := resolved.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	notifier := resolved.notifier
	if notifier == nil {
		notifier = core.NopNotifier{}
	}

	g := &Gatekeeper{
		cfg:      cfg,
		stores:   resolved.stores,
		observer: resolved.observer,
	}

	keys := resolved.keySource
	if keys == nil {
		cache, err := keyset.New(keyset.Config{
			URL:                cfg.Auth.ResolvedJWKSURL(),
			TTL:                cfg.Auth.KeyCacheTTL,
			FetchTimeout:       cfg.Auth.KeyFetchTimeout,
			MinRefreshInterval: cfg.Auth.MinRefreshInterval,
		}, keyset.WithHTTPClient(resolved.httpClient), keyset.WithObserver(resolved.observer))
		if err != nil {
			return nil, err
		}
		g.keys = cache
		keys = cache
	}

	verifier, err := token.New(keys, token.Config{
		Audience:          cfg.Auth.ResolvedAudience(),
		Issuer:            cfg.Auth.Issuer,
		AllowedAlgorithms: cfg.Auth.AllowedAlgorithms,
		Leeway:            cfg.Auth.Leeway,
	}, token.WithClock(now), token.WithObserver(resolved.observer))
	if err != nil {
		return nil, err
	}
	g.verifier = verifier

	g.resolver, err = identity.NewResolver(identity.Config{
		Store:             resolved.stores.Identities,
		Notifier:          notifier,
		PlaceholderDomain: cfg.Auth.PlaceholderEmailDomain,
		Observer:          resolved.observer,
	})
	if err != nil {
		return nil, err
	}

	g.dispatcher = inbound.NewDispatcher(resolved.stores.Fulfillment)
	g.dispatcher.Observer = resolved.observer
	g.engine, err = fulfillment.NewEngine(fulfillment.Config{
		Store:             resolved.stores.Fulfillment,
		Notifier:          notifier,
		Observer:          resolved.observer,
		PlaceholderDomain: cfg.Auth.PlaceholderEmailDomain,
		Now:               now,
	})
	if err != nil {
		return nil, err
	}
	if err := g.engine.Register(g.dispatcher); err != nil {
		return nil, err
	}
	if err := resolved.hooks.ApplyHandlerPacks(g.dispatcher); err != nil {
		return nil, err
	}

	processor := webhooks.NewProcessor(webhooks.SignatureVerifier{
		Secret:    cfg.Webhook.Secret,
		Tolerance: cfg.Webhook.Tolerance,
		Header:    cfg.Webhook.SignatureHeader,
		Now:       now,
	}, resolved.stores.Ledger, g.dispatcher)
	processor.Observer = resolved.observer
	processor.Now = now
	g.webhooks = processor

	g.commands = Commands{
		ProcessWebhook:  gkcommand.NewProcessWebhookCommand(processor),
		ResolveIdentity: gkcommand.NewResolveIdentityCommand(g.resolver),
	}
	if resolved.stores.Enrollments != nil {
		g.queries.GetEnrollment = gkquery.NewGetEnrollmentQuery(resolved.stores.Enrollments)
	}
	if resolved.stores.FlaggedEvents != nil {
		g.queries.ListFlaggedEvents = gkquery.NewListFlaggedEventsQuery(resolved.stores.FlaggedEvents)
	}
	return g, nil
}

// Authenticate turns an Authorization header value into a local identity.
// Credential failures are reported as core.ErrAuthenticationFailed; store
// failures while resolving the identity are returned unchanged.
func (g *Gatekeeper) Authenticate(ctx context.Context, authorization string) (identity core.LocalIdentity, err error) {
	if g == nil {
		return core.LocalIdentity{}, fmt.Errorf("gatekeeper: not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	defer func() {
		g.observer.Observe(ctx, startedAt, "authenticate", err, nil)
	}()

	raw, err := token.ParseBearer(authorization)
	if err != nil {
		return core.LocalIdentity{}, err
	}
	claims, err := g.verifier.Verify(ctx, raw, g.cfg.Auth.ResolvedAudience())
	if err != nil {
		if !errors.Is(err, core.ErrAuthenticationFailed) {
			err = core.AuthenticationFailed(err)
		}
		return core.LocalIdentity{}, err
	}
	return g.resolver.Resolve(ctx, claims)
}

// HandleWebhook verifies and applies one payment processor callback.
func (g *Gatekeeper) HandleWebhook(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if g == nil {
		return core.InboundResult{}, fmt.Errorf("gatekeeper: not configured")
	}
	return g.webhooks.Process(ctx, req)
}

// Process satisfies the webhook processor contract used by transports.
func (g *Gatekeeper) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	return g.HandleWebhook(ctx, req)
}

// WarmUp fetches the provider key set once so the first request does not
// pay for it. It is a no-op when an external key source was injected.
func (g *Gatekeeper) WarmUp(ctx context.Context) error {
	if g == nil || g.keys == nil {
		return nil
	}
	return g.keys.Refresh(ctx)
}

func (g *Gatekeeper) Resolver() core.IdentityResolver {
	if g == nil {
		return nil
	}
	return g.resolver
}

func (g *Gatekeeper) Dispatcher() *inbound.Dispatcher {
	if g == nil {
		return nil
	}
	return g.dispatcher
}

func (g *Gatekeeper) Config() core.Config {
	if g == nil {
		return core.Config{}
	}
	return g.cfg
}

func (g *Gatekeeper) Stores() Stores {
	if g == nil {
		return Stores{}
	}
	return g.stores
}

func (g *Gatekeeper) Commands() Commands {
	if g == nil {
		return Commands{}
	}
	return g.commands
}

func (g *Gatekeeper) Queries() Queries {
	if g == nil {
		return Queries{}
	}
	return g.queries
}
