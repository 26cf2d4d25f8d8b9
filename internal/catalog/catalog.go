// Package catalog fetches and caches the set of assignable role names from
// the upstream GeoServer security endpoint.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"geogate.org/internal/obs"
)

const (
	rolesPath    = "/rest/security/roles.json"
	rolePrefix   = "ROLE_"
	defaultTTL   = 300 * time.Second
	fetchTimeout = 10 * time.Second
)

// Client talks to the upstream roles endpoint with basic auth and a bounded
// timeout.
type Client struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
}

// NewClient constructs an upstream client. baseURL is the GeoServer root,
// e.g. https://geo.example.org/geoserver.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpc:    &http.Client{Timeout: fetchTimeout},
	}
}

// FetchRoles returns the raw role names reported by the upstream service.
func (c *Client) FetchRoles(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+rolesPath, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog: upstream returned %d", resp.StatusCode)
	}

	var payload struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("catalog: decode payload: %w", err)
	}
	return payload.Roles, nil
}

// Fetcher is the upstream dependency of Catalog; satisfied by Client.
type Fetcher interface {
	FetchRoles(ctx context.Context) ([]string, error)
}

// Catalog caches the assignable role set. It never surfaces upstream
// failures to callers: staleness only narrows what Grant accepts, it never
// corrupts stored grants, so serving the last good value is the right
// availability tradeoff.
type Catalog struct {
	fetcher      Fetcher
	ttl          time.Duration
	defaultRoles map[string]struct{}
	now          func() time.Time

	mu        sync.Mutex
	lastGood  []string
	fetchedAt time.Time
	hasValue  bool
}

// CatalogOption configures Catalog behavior.
type CatalogOption func(*Catalog)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New constructs a Catalog. defaultRoles are granted to every identity
// unconditionally and therefore excluded from the assignable set.
func New(fetcher Fetcher, defaultRoles []string, opts ...CatalogOption) *Catalog {
	defaults := make(map[string]struct{}, len(defaultRoles))
	for _, r := range defaultRoles {
		r = strings.TrimSpace(r)
		if r != "" {
			defaults[r] = struct{}{}
		}
	}
	c := &Catalog{
		fetcher:      fetcher,
		ttl:          defaultTTL,
		defaultRoles: defaults,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AssignableRoles returns role names that may legally be granted: upstream
// names with the ROLE_ prefix stripped, minus the configured defaults. On
// upstream failure the last good value is served; before any successful
// fetch the set is empty. This call never returns an error.
func (c *Catalog) AssignableRoles(ctx context.Context) []string {
	c.mu.Lock()
	fresh := c.hasValue && c.now().Sub(c.fetchedAt) < c.ttl
	cached := append([]string(nil), c.lastGood...)
	c.mu.Unlock()

	if fresh {
		return cached
	}

	raw, err := c.fetcher.FetchRoles(ctx)
	if err != nil {
		obs.Error("failed to fetch geoserver role options", err, nil)
		if len(cached) > 0 {
			obs.CatalogFetch("stale")
			return cached
		}
		obs.CatalogFetch("error")
		return []string{}
	}

	filtered := c.filter(raw)
	c.mu.Lock()
	c.lastGood = filtered
	c.fetchedAt = c.now()
	c.hasValue = true
	c.mu.Unlock()

	obs.CatalogFetch("ok")
	return append([]string(nil), filtered...)
}

func (c *Catalog) filter(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		if !strings.HasPrefix(name, rolePrefix) {
			continue
		}
		name = strings.TrimPrefix(name, rolePrefix)
		if _, isDefault := c.defaultRoles[name]; isDefault {
			continue
		}
		out = append(out, name)
	}
	return out
}
