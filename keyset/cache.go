package keyset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL              = 10 * time.Minute
	defaultFetchTimeout     = 5 * time.Second
	defaultMaxResponseBytes = 1 << 20
	refreshFlightKey        = "jwks"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	URL          string
	TTL          time.Duration
	FetchTimeout time.Duration
	// MinRefreshInterval throttles refreshes caused by unknown key ids while
	// the cached set is still fresh. Zero disables the throttle.
	MinRefreshInterval time.Duration
	MaxResponseBytes   int64
}

type Option func(*Cache)

func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(c *Cache) {
		c.observer = observer
	}
}

type Cache struct {
	url                string
	ttl                time.Duration
	fetchTimeout       time.Duration
	minRefreshInterval time.Duration
	maxResponseBytes   int64
	client             HTTPDoer
	now                func() time.Time
	observer           core.Observer

	group singleflight.Group

	mu            sync.RWMutex
	keys          map[string]core.SigningKey
	fetchedAt     time.Time
	lastAttemptAt time.Time
}

func New(cfg Config, opts ...Option) (*Cache, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("keyset: jwks url is required")
	}
	cache := &Cache{
		url:                rawURL,
		ttl:                cfg.TTL,
		fetchTimeout:       cfg.FetchTimeout,
		minRefreshInterval: cfg.MinRefreshInterval,
		maxResponseBytes:   cfg.MaxResponseBytes,
		client:             http.DefaultClient,
		now:                time.Now,
		keys:               map[string]core.SigningKey{},
	}
	if cache.ttl <= 0 {
		cache.ttl = defaultTTL
	}
	if cache.fetchTimeout <= 0 {
		cache.fetchTimeout = defaultFetchTimeout
	}
	if cache.maxResponseBytes <= 0 {
		cache.maxResponseBytes = defaultMaxResponseBytes
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache, nil
}

// GetKey returns the key identified by kid. A miss (or an expired set)
// triggers at most one refresh per call. A kid that is still absent after a
// successful refresh yields core.ErrKeyNotFound; a failed refresh yields a
// *core.KeyFetchError.
func (c *Cache) GetKey(ctx context.Context, kid string) (core.SigningKey, error) {
	if c == nil {
		return core.SigningKey{}, fmt.Errorf("keyset: cache is not configured")
	}
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return core.SigningKey{}, fmt.Errorf("%w: empty key id", core.ErrKeyNotFound)
	}

	key, found, fresh, throttled := c.lookup(kid)
	if found && fresh {
		return key, nil
	}
	if fresh && throttled {
		c.observer.Count(ctx, "keyset.refresh_throttled", nil)
		return core.SigningKey{}, fmt.Errorf("%w: %q", core.ErrKeyNotFound, kid)
	}

	if err := c.refresh(ctx); err != nil {
		return core.SigningKey{}, err
	}

	key, found, _, _ = c.lookup(kid)
	if !found {
		return core.SigningKey{}, fmt.Errorf("%w: %q", core.ErrKeyNotFound, kid)
	}
	return key, nil
}

// Refresh forces a fetch of the key set, sharing any fetch already in flight.
func (c *Cache) Refresh(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("keyset: cache is not configured")
	}
	return c.refresh(ctx)
}

// Keys returns a copy of the cached key set and the time it was fetched.
func (c *Cache) Keys() (map[string]core.SigningKey, time.Time) {
	if c == nil {
		return map[string]core.SigningKey{}, time.Time{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]core.SigningKey, len(c.keys))
	maps.Copy(out, c.keys)
	return out, c.fetchedAt
}

func (c *Cache) lookup(kid string) (key core.SigningKey, found bool, fresh bool, throttled bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	fresh = !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < c.ttl
	if c.minRefreshInterval > 0 && !c.lastAttemptAt.IsZero() {
		throttled = now.Sub(c.lastAttemptAt) < c.minRefreshInterval
	}
	key, found = c.keys[kid]
	return key, found, fresh, throttled
}

func (c *Cache) refresh(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := c.group.DoChan(refreshFlightKey, func() (any, error) {
		// The flight outlives any single caller, so it only inherits values
		// from the initiating context and is bounded by fetchTimeout.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return nil, c.fetch(fetchCtx)
	})
	select {
	case result := <-ch:
		return result.Err
	case <-ctx.Done():
		return &core.KeyFetchError{URL: c.url, Cause: ctx.Err()}
	}
}

func (c *Cache) fetch(ctx context.Context) (err error) {
	// Durations use the wall clock; c.now only drives freshness.
	startedAt := time.Now()
	keyCount := 0
	defer func() {
		c.observer.Observe(ctx, startedAt, "keyset.refresh", err, map[string]any{
			"jwks_url":  c.url,
			"key_count": keyCount,
		})
	}()

	c.mu.Lock()
	c.lastAttemptAt = c.now()
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return &core.KeyFetchError{URL: c.url, Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &core.KeyFetchError{URL: c.url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &core.KeyFetchError{URL: c.url, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return &core.KeyFetchError{URL: c.url, Cause: err}
	}
	if int64(len(body)) > c.maxResponseBytes {
		return &core.KeyFetchError{URL: c.url, Cause: errors.New("response exceeds size limit")}
	}

	fetchedAt := c.now()
	keys, skipped, err := ParseKeySet(body, fetchedAt)
	if err != nil {
		return &core.KeyFetchError{URL: c.url, Cause: err}
	}
	if len(skipped) > 0 {
		c.observer.Warn(ctx, "keyset: skipped unusable keys", map[string]any{
			"jwks_url": c.url,
			"skipped":  skipped,
		})
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = fetchedAt
	c.mu.Unlock()
	keyCount = len(keys)
	return nil
}

var _ core.KeySource = (*Cache)(nil)
