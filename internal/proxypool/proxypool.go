// Package proxypool implements a resilient multi-endpoint HTTP client:
// round-robin selection over a deduplicated endpoint list, a per-endpoint
// failure counter, and a cooldown window once a failure threshold is
// reached, falling back to the least-recently-unhealthy endpoint when all
// are cooling down. Grounded on original_source's
// core/api_proxy_pool.py (ApiProxyPool/ProxyEndpoint), with the HTTP
// request idiom (context-scoped timeout, non-200 read-body-then-error)
// taken from the teacher's
// internal/modules/planning/evaluation/client.go.
package proxypool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRateLimited is returned when an endpoint responds 429; callers may
// choose to back off distinctly from other transient failures.
var ErrRateLimited = fmt.Errorf("proxypool: rate limited")

// Endpoint tracks one candidate base URL's health.
type Endpoint struct {
	BaseURL         string
	FailureCount    int
	UnhealthyUntil  time.Time
}

func normalize(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// Pool is a resilient round-robin client over a fixed set of endpoints.
type Pool struct {
	mu             sync.Mutex
	endpoints      []*Endpoint
	next           int
	client         *http.Client
	log            zerolog.Logger
	failureThreshold int
	cooldown       time.Duration
}

// Config configures a Pool.
type Config struct {
	BaseURLs         []string
	Timeout          time.Duration
	FailureThreshold int // default 2
	Cooldown         time.Duration // default 120s
	Log              zerolog.Logger
}

// New deduplicates baseURLs and returns a Pool.
func New(cfg Config) *Pool {
	seen := make(map[string]bool)
	var endpoints []*Endpoint
	for _, u := range cfg.BaseURLs {
		n := normalize(u)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		endpoints = append(endpoints, &Endpoint{BaseURL: n})
	}

	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 2
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 120 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Pool{
		endpoints:        endpoints,
		client:           &http.Client{Timeout: timeout},
		log:              cfg.Log.With().Str("component", "proxypool").Logger(),
		failureThreshold: threshold,
		cooldown:         cooldown,
	}
}

// nextEndpoint picks the next round-robin endpoint, skipping unhealthy
// ones; if all are cooling down it falls back to the one with the
// earliest UnhealthyUntil.
func (p *Pool) nextEndpoint() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return nil
	}

	now := time.Now()
	for i := 0; i < len(p.endpoints); i++ {
		idx := (p.next + i) % len(p.endpoints)
		ep := p.endpoints[idx]
		if ep.UnhealthyUntil.Before(now) {
			p.next = (idx + 1) % len(p.endpoints)
			return ep
		}
	}

	// All unhealthy: fall back to least-recently-unhealthy.
	best := p.endpoints[0]
	for _, ep := range p.endpoints[1:] {
		if ep.UnhealthyUntil.Before(best.UnhealthyUntil) {
			best = ep
		}
	}
	return best
}

func (p *Pool) registerFailure(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.FailureCount++
	if ep.FailureCount >= p.failureThreshold {
		ep.UnhealthyUntil = time.Now().Add(p.cooldown)
	}
}

func (p *Pool) registerSuccess(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.FailureCount = 0
	ep.UnhealthyUntil = time.Time{}
}

// RequestJSON performs a GET against path on each endpoint in round-robin
// order (respecting health) until one succeeds, decoding the JSON
// response into out. Returns the last error if every endpoint fails.
func (p *Pool) RequestJSON(ctx context.Context, path string, out any) error {
	if len(p.endpoints) == 0 {
		return fmt.Errorf("proxypool: no endpoints configured")
	}

	var lastErr error
	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		ep := p.nextEndpoint()
		if ep == nil {
			return fmt.Errorf("proxypool: no endpoints configured")
		}

		url := ep.BaseURL + path
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := p.client.Do(req)
		if err != nil {
			p.registerFailure(ep)
			p.log.Warn().Err(err).Str("endpoint", ep.BaseURL).Msg("request failed")
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			p.registerFailure(ep)
			lastErr = ErrRateLimited
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			p.registerFailure(ep)
			lastErr = fmt.Errorf("proxypool: endpoint %s returned %d: %s", ep.BaseURL, resp.StatusCode, string(body))
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			p.registerFailure(ep)
			lastErr = err
			continue
		}

		p.registerSuccess(ep)
		return nil
	}

	return lastErr
}

// HealthSnapshot reports each endpoint's current health, for the admin
// surface.
type HealthSnapshot struct {
	BaseURL        string    `json:"baseUrl"`
	FailureCount   int       `json:"failureCount"`
	UnhealthyUntil time.Time `json:"unhealthyUntil,omitempty"`
}

// Health returns a snapshot of every endpoint's health.
func (p *Pool) Health() []HealthSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]HealthSnapshot, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = HealthSnapshot{BaseURL: ep.BaseURL, FailureCount: ep.FailureCount, UnhealthyUntil: ep.UnhealthyUntil}
	}
	return out
}
