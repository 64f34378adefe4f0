package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	jwksCacheTTL     = 5 * time.Minute
	jwksStaleGrace   = 15 * time.Minute
	jwksFetchTimeout = 5 * time.Second
)

// keyCache holds the provider's RSA keys keyed by kid. A fresh set is served
// directly; an expired set is still usable inside the stale grace window
// while a background refresh runs. Concurrent refreshes collapse into one
// fetch.
type keyCache struct {
	url        string
	httpClient *http.Client
	now        func() time.Time

	mu         sync.Mutex
	keys       map[string]*rsa.PublicKey
	freshUntil time.Time
	staleUntil time.Time
	refreshing bool
}

func newKeyCache(url string, httpClient *http.Client) *keyCache {
	return &keyCache{
		url:        url,
		httpClient: httpClient,
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
}

func (c *keyCache) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, errors.New("kid is required")
	}
	c.mu.Lock()
	now := c.now()
	key, ok := c.keys[kid]
	if ok && now.Before(c.freshUntil) {
		c.mu.Unlock()
		return key, nil
	}
	if ok && now.Before(c.staleUntil) {
		if !c.refreshing {
			c.refreshing = true
			go c.refreshBackground()
		}
		c.mu.Unlock()
		return key, nil
	}
	c.mu.Unlock()

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, errors.New("jwks key not found")
	}
	return key, nil
}

func (c *keyCache) refreshBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), jwksFetchTimeout)
	defer cancel()
	_ = c.refresh(ctx)
	c.mu.Lock()
	c.refreshing = false
	c.mu.Unlock()
}

func (c *keyCache) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	keys, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	now := c.now()
	c.mu.Lock()
	c.keys = keys
	c.freshUntil = now.Add(jwksCacheTTL)
	c.staleUntil = c.freshUntil.Add(jwksStaleGrace)
	c.mu.Unlock()
	return nil
}

func (c *keyCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("jwks fetch failed")
	}
	var payload struct {
		Keys []jwkKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, key := range payload.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		pub, err := key.publicKey()
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable keys")
	}
	return keys, nil
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwkKey) publicKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, errors.New("missing rsa params")
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes).Int64()
	if e <= 0 || e > int64(^uint32(0)) {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e)}, nil
}
