package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const identityCacheKeyPrefix = "gatekeeper::identity::v1"

// CachedIdentityStore serves subject lookups from a read-through cache. Only
// found identities are cached; writes invalidate the subject's entry.
type CachedIdentityStore struct {
	base  core.IdentityStore
	cache repositorycache.CacheService
}

func NewCachedIdentityStore(base core.IdentityStore, cacheService repositorycache.CacheService) (*CachedIdentityStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base identity store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: identity cache service is required")
	}
	return &CachedIdentityStore{base: base, cache: cacheService}, nil
}

// IdentityCacheKey returns gatekeeper::identity::v1::<escaped subject>.
func IdentityCacheKey(subject string) string {
	return identityCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(subject))
}

func (s *CachedIdentityStore) GetBySubject(ctx context.Context, subject string) (core.LocalIdentity, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: cached identity store is not configured")
	}
	subject = strings.TrimSpace(subject)
	return repositorycache.GetOrFetch(ctx, s.cache, IdentityCacheKey(subject), func(ctx context.Context) (core.LocalIdentity, error) {
		return s.base.GetBySubject(ctx, subject)
	})
}

func (s *CachedIdentityStore) Create(ctx context.Context, in core.CreateIdentityInput) (core.LocalIdentity, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: cached identity store is not configured")
	}
	created, err := s.base.Create(ctx, in)
	if err != nil {
		return core.LocalIdentity{}, err
	}
	return created, s.cache.Delete(ctx, IdentityCacheKey(created.ExternalSubject))
}

func (s *CachedIdentityStore) UpdateEmail(ctx context.Context, id string, email string) (core.LocalIdentity, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: cached identity store is not configured")
	}
	updated, err := s.base.UpdateEmail(ctx, id, email)
	if err != nil {
		return core.LocalIdentity{}, err
	}
	return updated, s.cache.Delete(ctx, IdentityCacheKey(updated.ExternalSubject))
}
