package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-gatekeeper/core"
)

type Config struct {
	Audience          string
	Issuer            string
	AllowedAlgorithms []string
	Leeway            time.Duration
}

type Option func(*Verifier)

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(v *Verifier) {
		v.observer = observer
	}
}

// Verifier checks bearer tokens against keys published by the identity
// provider. It holds no per-request state.
type Verifier struct {
	keys     core.KeySource
	audience string
	issuer   string
	allowed  map[string]struct{}
	leeway   time.Duration
	now      func() time.Time
	observer core.Observer
}

func New(keys core.KeySource, cfg Config, opts ...Option) (*Verifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("token: key source is required")
	}
	algorithms := cfg.AllowedAlgorithms
	if len(algorithms) == 0 {
		algorithms = core.DefaultAllowedAlgorithms
	}
	allowed := make(map[string]struct{}, len(algorithms))
	for _, alg := range algorithms {
		alg = strings.TrimSpace(alg)
		if !core.IsAsymmetricAlgorithm(alg) {
			return nil, fmt.Errorf("token: algorithm %q is not allowed", alg)
		}
		allowed[alg] = struct{}{}
	}
	if cfg.Leeway < 0 {
		return nil, fmt.Errorf("token: leeway must be >= 0")
	}

	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = core.DefaultAudience
	}
	verifier := &Verifier{
		keys:     keys,
		audience: audience,
		issuer:   strings.TrimSpace(cfg.Issuer),
		allowed:  allowed,
		leeway:   cfg.Leeway,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

type providerClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Verify validates raw and returns its claims. Every failure is reported as
// core.ErrAuthenticationFailed; the underlying reason is only logged.
// An empty expectedAudience uses the configured audience.
func (v *Verifier) Verify(ctx context.Context, raw string, expectedAudience string) (claims core.VerifiedClaims, err error) {
	if v == nil {
		return core.VerifiedClaims{}, core.AuthenticationFailed(errors.New("verifier is not configured"))
	}
	startedAt := time.Now()
	reason := ""
	defer func() {
		fields := map[string]any{}
		if reason != "" {
			fields["reason"] = reason
		}
		v.observer.Observe(ctx, startedAt, "token.verify", err, fields)
	}()

	fail := func(r string, cause error) (core.VerifiedClaims, error) {
		reason = r
		return core.VerifiedClaims{}, core.AuthenticationFailed(cause)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fail("missing_token", errors.New("empty token"))
	}
	audience := strings.TrimSpace(expectedAudience)
	if audience == "" {
		audience = v.audience
	}

	header, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return fail("malformed", err)
	}
	alg, _ := header.Header["alg"].(string)
	kid, _ := header.Header["kid"].(string)
	if _, ok := v.allowed[alg]; !ok {
		return fail("algorithm_not_allowed", fmt.Errorf("algorithm %q is not allowed", alg))
	}

	key, err := v.keys.GetKey(ctx, kid)
	if err != nil {
		return fail("key_unavailable", err)
	}
	if key.Algorithm != "" && key.Algorithm != alg {
		return fail("key_mismatch", fmt.Errorf("key %q is published for %s, token uses %s", kid, key.Algorithm, alg))
	}
	if !keyMatchesAlgorithm(key, alg) {
		return fail("key_mismatch", fmt.Errorf("key %q of type %T cannot verify %s", kid, key.PublicKey, alg))
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}

	parsed := &providerClaims{}
	tok, err := jwt.ParseWithClaims(raw, parsed, func(*jwt.Token) (any, error) {
		return key.PublicKey, nil
	}, parserOpts...)
	if err != nil {
		return fail(parseFailureReason(err), err)
	}
	if !tok.Valid {
		return fail("invalid_token", errors.New("token is not valid"))
	}

	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		return fail("missing_subject", errors.New("token has no subject"))
	}

	claims = core.VerifiedClaims{
		Subject:  subject,
		Audience: append([]string(nil), parsed.Audience...),
		Issuer:   parsed.Issuer,
		Email:    strings.TrimSpace(parsed.Email),
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

func keyMatchesAlgorithm(key core.SigningKey, alg string) bool {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		_, ok := key.PublicKey.(*rsa.PublicKey)
		return ok
	case strings.HasPrefix(alg, "ES"):
		_, ok := key.PublicKey.(*ecdsa.PublicKey)
		return ok
	case alg == "EdDSA":
		_, ok := key.PublicKey.(ed25519.PublicKey)
		return ok
	default:
		return false
	}
}

func parseFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience_mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer_mismatch"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "not_valid_yet"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid_token"
	}
}

var _ core.TokenVerifier = (*Verifier)(nil)
