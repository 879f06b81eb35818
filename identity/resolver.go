package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
)

const defaultMaxCreateAttempts = 3

type Config struct {
	Store             core.IdentityStore
	Notifier          core.Notifier
	PlaceholderDomain string
	MaxCreateAttempts int
	Observer          core.Observer
}

// Resolver maps verified provider subjects onto local identities, creating
// them on first sight. Concurrent first requests for one subject race on the
// store's uniqueness constraint; the loser re-reads the winner's row.
type Resolver struct {
	store             core.IdentityStore
	notifier          core.Notifier
	placeholderDomain string
	maxCreateAttempts int
	observer          core.Observer
}

func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("identity: store is required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = core.NopNotifier{}
	}
	domain := strings.TrimSpace(cfg.PlaceholderDomain)
	if domain == "" {
		domain = core.DefaultPlaceholderEmailDomain
	}
	attempts := cfg.MaxCreateAttempts
	if attempts <= 0 {
		attempts = defaultMaxCreateAttempts
	}
	return &Resolver{
		store:             cfg.Store,
		notifier:          notifier,
		placeholderDomain: domain,
		maxCreateAttempts: attempts,
		observer:          cfg.Observer,
	}, nil
}

func (r *Resolver) Resolve(ctx context.Context, claims core.VerifiedClaims) (identity core.LocalIdentity, err error) {
	if r == nil {
		return core.LocalIdentity{}, fmt.Errorf("identity: resolver is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return core.LocalIdentity{}, core.BadInput("identity subject is required", nil)
	}

	startedAt := time.Now()
	status := "existing"
	defer func() {
		fields := map[string]any{"subject": subject}
		if err == nil {
			fields["status"] = status
		}
		r.observer.Observe(ctx, startedAt, "identity.resolve", err, fields)
	}()

	email := strings.TrimSpace(claims.Email)
	for attempt := 1; attempt <= r.maxCreateAttempts; attempt++ {
		existing, getErr := r.store.GetBySubject(ctx, subject)
		if getErr == nil {
			updated, changed, syncErr := r.syncEmail(ctx, existing, email)
			if changed {
				status = "email_updated"
			}
			return updated, syncErr
		}
		if !errors.Is(getErr, core.ErrIdentityNotFound) {
			return core.LocalIdentity{}, getErr
		}

		createEmail := email
		if createEmail == "" {
			createEmail = PlaceholderEmail(subject, r.placeholderDomain)
		}
		created, createErr := r.store.Create(ctx, core.CreateIdentityInput{
			ExternalSubject: subject,
			Email:           createEmail,
		})
		if createErr == nil {
			status = "created"
			r.welcome(ctx, created)
			return created, nil
		}
		if !errors.Is(createErr, core.ErrIdentityConflict) {
			return core.LocalIdentity{}, createErr
		}
		r.observer.Debug(ctx, "identity: lost create race, re-reading", map[string]any{
			"subject": subject,
			"attempt": attempt,
		})
	}
	return core.LocalIdentity{}, fmt.Errorf("identity: subject %q unresolved after %d attempts: %w",
		subject, r.maxCreateAttempts, core.ErrIdentityConflict)
}

// syncEmail stores the provider's address whenever it differs from the stored
// one, including case-only changes. Placeholder addresses never overwrite.
func (r *Resolver) syncEmail(ctx context.Context, existing core.LocalIdentity, email string) (core.LocalIdentity, bool, error) {
	if email == "" || IsPlaceholderEmail(email, r.placeholderDomain) || email == existing.Email {
		return existing, false, nil
	}
	updated, err := r.store.UpdateEmail(ctx, existing.ID, email)
	if err != nil {
		return core.LocalIdentity{}, false, err
	}
	return updated, true, nil
}

func (r *Resolver) welcome(ctx context.Context, created core.LocalIdentity) {
	if IsPlaceholderEmail(created.Email, r.placeholderDomain) {
		return
	}
	sent := r.notifier.Send(ctx, core.NotificationWelcome, created.Email, map[string]any{
		"identity_id": created.ID,
		"email":       created.Email,
	})
	if !sent {
		r.observer.Warn(ctx, "identity: welcome notification not delivered", map[string]any{
			"identity_id": created.ID,
		})
	}
}

// PlaceholderEmail builds the stand-in address stored for subjects whose
// token carries no email.
func PlaceholderEmail(subject string, domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = core.DefaultPlaceholderEmailDomain
	}
	return strings.TrimSpace(subject) + "@" + domain
}

func IsPlaceholderEmail(email string, domain string) bool {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = core.DefaultPlaceholderEmailDomain
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(email)), "@"+strings.ToLower(domain))
}

var _ core.IdentityResolver = (*Resolver)(nil)
