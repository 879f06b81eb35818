package keyset

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/goliatone/go-gatekeeper/core"
)

type keySetDocument struct {
	Keys []json.RawMessage `json:"keys"`
}

// ParseKeySet decodes a JWKS document into signing keys indexed by kid.
// Entries that are not public signature keys are skipped and reported by
// position (or kid when available).
func ParseKeySet(body []byte, fetchedAt time.Time) (map[string]core.SigningKey, []string, error) {
	var doc keySetDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode jwks: %w", err)
	}
	if doc.Keys == nil {
		return nil, nil, errors.New("jwks document has no keys member")
	}

	keys := make(map[string]core.SigningKey, len(doc.Keys))
	skipped := []string{}
	for index, raw := range doc.Keys {
		key, err := parseSigningKey(raw, fetchedAt)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%d: %v", index, err))
			continue
		}
		keys[key.KeyID] = key
	}
	if len(keys) == 0 {
		return nil, skipped, errors.New("jwks document has no usable signature keys")
	}
	return keys, skipped, nil
}

func parseSigningKey(raw json.RawMessage, fetchedAt time.Time) (core.SigningKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return core.SigningKey{}, err
	}
	kid := strings.TrimSpace(jwk.KeyID)
	if kid == "" {
		return core.SigningKey{}, errors.New("missing kid")
	}
	if use := strings.TrimSpace(jwk.Use); use != "" && use != "sig" {
		return core.SigningKey{}, fmt.Errorf("kid %q: use %q is not sig", kid, use)
	}
	if !jwk.IsPublic() {
		jwk = jwk.Public()
	}
	if !jwk.Valid() {
		return core.SigningKey{}, fmt.Errorf("kid %q: not a public key", kid)
	}

	switch jwk.Key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
	default:
		return core.SigningKey{}, fmt.Errorf("kid %q: unsupported key type %T", kid, jwk.Key)
	}

	alg := strings.TrimSpace(jwk.Algorithm)
	if alg != "" && !core.IsAsymmetricAlgorithm(alg) {
		return core.SigningKey{}, fmt.Errorf("kid %q: algorithm %q is not allowed", kid, alg)
	}

	return core.SigningKey{
		KeyID:     kid,
		Algorithm: alg,
		PublicKey: jwk.Key,
		FetchedAt: fetchedAt,
	}, nil
}
