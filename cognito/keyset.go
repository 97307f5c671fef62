package cognito

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

// maxKeySetBytes bounds how much of a JWKS response is read.
const maxKeySetBytes = 1 << 20

// SigningKey is one public key published by the issuer.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.PublicKey
}

// KeySet is the issuer's published keys, replaced whole on every refresh.
type KeySet []SigningKey

// Lookup finds the key with the given kid.
func (ks KeySet) Lookup(kid string) (SigningKey, bool) {
	for _, key := range ks {
		if key.KeyID == kid {
			return key, true
		}
	}
	return SigningKey{}, false
}

// KeyIDs lists the kids in the set, in order.
func (ks KeySet) KeyIDs() []string {
	ids := make([]string, 0, len(ks))
	for _, key := range ks {
		ids = append(ids, key.KeyID)
	}
	return ids
}

// KeySetFetcher retrieves the current key set for a trust anchor.
type KeySetFetcher interface {
	Fetch(ctx context.Context, anchor TrustAnchor) (KeySet, error)
}

// KeySetRefresher is implemented by caching fetchers that can bypass their
// cache when a token names a kid the cached set does not contain.
type KeySetRefresher interface {
	Refresh(ctx context.Context, anchor TrustAnchor) (KeySet, error)
}

type cachedKeySet struct {
	keys      KeySet
	fetchedAt time.Time
}

// HTTPKeySetFetcher fetches JWKS documents over HTTPS and caches them per anchor.
type HTTPKeySetFetcher struct {
	httpClient *http.Client
	endpoint   func(TrustAnchor) string
	now        func() time.Time

	cacheTTL           time.Duration
	minRefreshInterval time.Duration
	retryOnNetworkErr  bool
	retryDelay         time.Duration

	cacheMu sync.RWMutex
	cache   map[string]cachedKeySet
	group   singleflight.Group
}

// FetcherOption configures an HTTPKeySetFetcher
type FetcherOption func(*HTTPKeySetFetcher)

// WithHTTPClient replaces the HTTP client. The client must carry a timeout.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPKeySetFetcher) {
		f.httpClient = client
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *HTTPKeySetFetcher) {
		f.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithCacheTTL sets how long a fetched key set is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) FetcherOption {
	return func(f *HTTPKeySetFetcher) {
		f.cacheTTL = ttl
	}
}

// WithMinRefreshInterval bounds how often an unknown kid may force a refetch.
func WithMinRefreshInterval(d time.Duration) FetcherOption {
	return func(f *HTTPKeySetFetcher) {
		f.minRefreshInterval = d
	}
}

// WithEndpoint overrides how the JWKS URL is derived from an anchor.
func WithEndpoint(endpoint func(TrustAnchor) string) FetcherOption {
	return func(f *HTTPKeySetFetcher) {
		f.endpoint = endpoint
	}
}

// WithRetryOnNetworkError enables a single retry after a transport failure.
func WithRetryOnNetworkError(enabled bool, delay time.Duration) FetcherOption {
	return func(f *HTTPKeySetFetcher) {
		f.retryOnNetworkErr = enabled
		f.retryDelay = delay
	}
}

// WithClock replaces time.Now, for cache expiry in tests.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *HTTPKeySetFetcher) {
		f.now = now
	}
}

// NewHTTPKeySetFetcher creates a fetcher with a 10s timeout and a 1h cache.
func NewHTTPKeySetFetcher(opts ...FetcherOption) *HTTPKeySetFetcher {
	f := &HTTPKeySetFetcher{
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		endpoint:           TrustAnchor.JWKSURL,
		now:                time.Now,
		cacheTTL:           time.Hour,
		minRefreshInterval: time.Minute,
		retryOnNetworkErr:  true,
		retryDelay:         100 * time.Millisecond,
		cache:              make(map[string]cachedKeySet),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.httpClient.Timeout == 0 {
		f.httpClient.Timeout = 10 * time.Second
	}
	return f
}

// Fetch returns the cached key set for the anchor or loads it from the issuer.
func (f *HTTPKeySetFetcher) Fetch(ctx context.Context, anchor TrustAnchor) (KeySet, error) {
	url := f.endpoint(anchor)
	if keys, ok := f.cached(url, f.cacheTTL); ok {
		return keys, nil
	}
	return f.load(ctx, url)
}

// Refresh reloads the key set unless it was loaded within the minimum refresh interval.
func (f *HTTPKeySetFetcher) Refresh(ctx context.Context, anchor TrustAnchor) (KeySet, error) {
	url := f.endpoint(anchor)
	if keys, ok := f.cached(url, f.minRefreshInterval); ok {
		return keys, nil
	}
	return f.load(ctx, url)
}

// Invalidate drops every cached key set
func (f *HTTPKeySetFetcher) Invalidate() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.cache = make(map[string]cachedKeySet)
}

// CacheStats returns cache statistics
func (f *HTTPKeySetFetcher) CacheStats() map[string]interface{} {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()

	keys := 0
	for _, entry := range f.cache {
		keys += len(entry.keys)
	}
	return map[string]interface{}{
		"cached_key_sets":   len(f.cache),
		"cached_keys_count": keys,
		"cache_ttl":         f.cacheTTL.String(),
	}
}

func (f *HTTPKeySetFetcher) cached(url string, maxAge time.Duration) (KeySet, bool) {
	if maxAge <= 0 {
		return nil, false
	}
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()
	entry, ok := f.cache[url]
	if !ok || f.now().Sub(entry.fetchedAt) >= maxAge {
		return nil, false
	}
	return entry.keys, true
}

// load fetches the key set, collapsing concurrent loads of the same URL.
// The shared fetch outlives any one caller's cancellation; the client
// timeout bounds it.
func (f *HTTPKeySetFetcher) load(ctx context.Context, url string) (KeySet, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := f.group.Do(url, func() (interface{}, error) {
		keys, err := f.fetchWithRetry(shared, url)
		if err != nil {
			return nil, err
		}
		if f.cacheTTL > 0 {
			f.cacheMu.Lock()
			f.cache[url] = cachedKeySet{keys: keys, fetchedAt: f.now()}
			f.cacheMu.Unlock()
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(KeySet), nil
}

func (f *HTTPKeySetFetcher) fetchWithRetry(ctx context.Context, url string) (KeySet, error) {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if f.retryOnNetworkErr {
		policy = backoff.WithMaxRetries(backoff.NewConstantBackOff(f.retryDelay), 1)
	}

	var keys KeySet
	err := backoff.Retry(func() error {
		var retryable bool
		var err error
		keys, retryable, err = f.fetchOnce(ctx, url)
		if err != nil && !retryable {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if _, ok := KindOf(err); !ok {
			return nil, newError(KindKeySetUnavailable, "requesting key set", err)
		}
		return nil, err
	}
	return keys, nil
}

// fetchOnce performs one GET. The bool reports whether the failure was at the
// transport level and may be retried.
func (f *HTTPKeySetFetcher) fetchOnce(ctx context.Context, url string) (KeySet, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, newError(KindKeySetUnavailable, "building key set request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, true, newError(KindKeySetUnavailable, "requesting key set", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, newError(KindKeySetUnavailable, fmt.Sprintf("key set endpoint returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, true, newError(KindKeySetUnavailable, "reading key set response", err)
	}

	keys, err := ParseKeySet(body)
	if err != nil {
		return nil, false, err
	}
	return keys, false, nil
}

// ParseKeySet decodes a JWKS document into signing keys. Keys without a kid,
// keys not meant for signatures and private keys are skipped.
func ParseKeySet(body []byte) (KeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, newError(KindKeySetMalformed, "decoding key set", err)
	}

	keys := make(KeySet, 0, len(set.Keys))
	for i := range set.Keys {
		jwk := &set.Keys[i]
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		keys = append(keys, SigningKey{
			KeyID:     jwk.KeyID,
			Algorithm: jwk.Algorithm,
			Key:       jwk.Key,
		})
	}
	if len(keys) == 0 {
		return nil, newError(KindKeySetMalformed, "key set contains no usable signing keys", errors.New("empty key set"))
	}
	return keys, nil
}
