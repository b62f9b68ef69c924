package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
)

const (
	// FirebaseX509URL publishes the Firebase ID token signing certificates.
	FirebaseX509URL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	// FirebaseJWKSURL publishes the same keys as a JWK set.
	FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	defaultKeyTTL       = time.Hour
	defaultMinRefresh   = time.Minute
	maxKeyDocumentSize  = 1 << 20
	defaultFetchTimeout = 5 * time.Second
)

// KeySource resolves a key id to an RSA public key.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// StaticKeySource is a fixed kid to key map.
type StaticKeySource map[string]*rsa.PublicKey

func (s StaticKeySource) PublicKey(_ context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return key, nil
}

// RemoteKeyOptions configures the HTTP-backed key sources.
type RemoteKeyOptions struct {
	URL    string
	Client *http.Client
	// TTL is used when the response carries no Cache-Control max-age.
	TTL time.Duration
	// MinRefresh bounds how often an unknown kid may force a refetch.
	MinRefresh time.Duration
	Now        func() time.Time
}

func (o RemoteKeyOptions) withDefaults(url string) RemoteKeyOptions {
	if o.URL == "" {
		o.URL = url
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if o.TTL <= 0 {
		o.TTL = defaultKeyTTL
	}
	if o.MinRefresh <= 0 {
		o.MinRefresh = defaultMinRefresh
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// keyCache holds the last fetched key set. A lookup refetches when the set
// has expired, or when the kid is unknown and MinRefresh has elapsed since
// the last fetch (provider key rollover). Fetches run outside mu and are
// collapsed into one in-flight request; cached hits never wait on them.
type keyCache struct {
	opts  RemoteKeyOptions
	fetch func(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error)
	group singleflight.Group

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time
}

func (c *keyCache) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	now := c.opts.Now()
	stale := c.keys == nil || !now.Before(c.expiresAt)
	key, known := c.keys[kid]
	recent := now.Sub(c.fetchedAt) < c.opts.MinRefresh
	c.mu.Unlock()

	if !stale && known {
		return key, nil
	}
	if !stale && recent {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}

	keys, err := c.refresh(ctx)
	if err != nil {
		if known {
			return key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return key, nil
}

// refresh fetches the key set once for all concurrent callers. The fetch is
// detached from the first caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (c *keyCache) refresh(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	ch := c.group.DoChan("keys", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultFetchTimeout)
		defer cancel()

		keys, maxAge, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if maxAge <= 0 {
			maxAge = c.opts.TTL
		}

		c.mu.Lock()
		now := c.opts.Now()
		c.keys = keys
		c.fetchedAt = now
		c.expiresAt = now.Add(maxAge)
		c.mu.Unlock()
		return keys, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]*rsa.PublicKey), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// X509KeySource reads a JSON object of kid to PEM certificate, the format
// Firebase publishes at FirebaseX509URL. Cache lifetime follows the
// response's Cache-Control max-age.
type X509KeySource struct {
	cache *keyCache
}

// NewX509KeySource returns a source for opts.URL, defaulting to FirebaseX509URL.
func NewX509KeySource(opts RemoteKeyOptions) *X509KeySource {
	opts = opts.withDefaults(FirebaseX509URL)
	s := &X509KeySource{}
	s.cache = &keyCache{opts: opts, fetch: func(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
		body, maxAge, err := fetchDocument(ctx, opts.Client, opts.URL)
		if err != nil {
			return nil, 0, err
		}
		var certs map[string]string
		if err := json.Unmarshal(body, &certs); err != nil {
			return nil, 0, fmt.Errorf("decode certificates: %w", err)
		}
		keys := make(map[string]*rsa.PublicKey, len(certs))
		for kid, pemText := range certs {
			key, err := jwtlib.ParseRSAPublicKeyFromPEM([]byte(pemText))
			if err != nil {
				return nil, 0, fmt.Errorf("parse certificate %s: %w", kid, err)
			}
			keys[kid] = key
		}
		return keys, maxAge, nil
	}}
	return s
}

func (s *X509KeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	return s.cache.lookup(ctx, kid)
}

// JWKSKeySource reads a JWK set. Only RSA keys with a kid are used.
type JWKSKeySource struct {
	cache *keyCache
}

// NewJWKSKeySource returns a source for opts.URL, defaulting to FirebaseJWKSURL.
func NewJWKSKeySource(opts RemoteKeyOptions) *JWKSKeySource {
	opts = opts.withDefaults(FirebaseJWKSURL)
	s := &JWKSKeySource{}
	s.cache = &keyCache{opts: opts, fetch: func(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
		body, maxAge, err := fetchDocument(ctx, opts.Client, opts.URL)
		if err != nil {
			return nil, 0, err
		}
		set, err := jwk.Parse(body)
		if err != nil {
			return nil, 0, fmt.Errorf("decode jwks: %w", err)
		}
		keys := make(map[string]*rsa.PublicKey, set.Len())
		for i := 0; i < set.Len(); i++ {
			key, ok := set.Key(i)
			if !ok {
				continue
			}
			kid, ok := key.KeyID()
			if !ok || kid == "" {
				continue
			}
			var raw any
			if err := jwk.Export(key, &raw); err != nil {
				continue
			}
			pub, ok := raw.(*rsa.PublicKey)
			if !ok {
				continue
			}
			keys[kid] = pub
		}
		return keys, maxAge, nil
	}}
	return s
}

func (s *JWKSKeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	return s.cache.lookup(ctx, kid)
}

func fetchDocument(ctx context.Context, client *http.Client, url string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyDocumentSize))
	if err != nil {
		return nil, 0, err
	}
	return body, parseMaxAge(resp.Header.Get("Cache-Control")), nil
}

func parseMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		value, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}
