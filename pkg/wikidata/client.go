// Package wikidata provides a client for the Wikidata entity search and
// entity data endpoints.
package wikidata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/jamsshhayd/world-cities-enriched/internal/resilience"
)

// Default endpoints.
const (
	DefaultAPIURL    = "https://www.wikidata.org/w/api.php"
	DefaultEntityURL = "https://www.wikidata.org/wiki/Special:EntityData/%s.json"
)

// ErrNotFound is returned when an entity document has no entity for the
// requested ID.
var ErrNotFound = eris.New("wikidata: entity not found")

// Client defines the Wikidata operations used by the enrichment job.
type Client interface {
	// SearchEntities returns at most one item matching query, best match first.
	SearchEntities(ctx context.Context, query string) (*SearchResponse, error)
	// GetEntity fetches the full entity document for id.
	GetEntity(ctx context.Context, id string) (*Entity, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithAPIURL sets the search API endpoint (for testing).
func WithAPIURL(u string) Option {
	return func(c *httpClient) { c.apiURL = u }
}

// WithEntityURL sets the entity data URL template. It must contain one %s.
func WithEntityURL(tmpl string) Option {
	return func(c *httpClient) { c.entityURL = tmpl }
}

// WithLanguage sets the search language.
func WithLanguage(lang string) Option {
	return func(c *httpClient) { c.language = lang }
}

// WithUserAgent sets the User-Agent header. Wikimedia asks bots to identify
// themselves.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) { c.userAgent = ua }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

// WithCircuitBreaker sets the breaker guarding both endpoints.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) { c.breaker = cb }
}

type httpClient struct {
	apiURL    string
	entityURL string
	language  string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
}

// NewClient creates a Wikidata client.
func NewClient(opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("wikidata", "get")

	c := &httpClient{
		apiURL:    DefaultAPIURL,
		entityURL: DefaultEntityURL,
		language:  "en",
		userAgent: "world-cities-enriched/1.0",
		http:      &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(5, 1),
		retry:     retry,
		breaker:   resilience.NewCircuitBreaker("wikidata", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SearchEntities(ctx context.Context, query string) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("action", "wbsearchentities")
	params.Set("format", "json")
	params.Set("language", c.language)
	params.Set("search", query)
	params.Set("type", "item")
	params.Set("limit", "1")

	body, err := c.get(ctx, c.apiURL+"?"+params.Encode())
	if err != nil {
		return nil, eris.Wrapf(err, "wikidata: search %q", query)
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "wikidata: unmarshal search response")
	}
	return &resp, nil
}

func (c *httpClient) GetEntity(ctx context.Context, id string) (*Entity, error) {
	body, err := c.get(ctx, fmt.Sprintf(c.entityURL, url.PathEscape(id)))
	if err != nil {
		return nil, eris.Wrapf(err, "wikidata: get entity %s", id)
	}

	var resp EntityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(err, "wikidata: unmarshal entity %s", id)
	}

	if e, ok := resp.Entities[id]; ok {
		return &e, nil
	}
	// A redirected ID is answered with the target entity under its own key.
	if len(resp.Entities) == 1 {
		for _, e := range resp.Entities {
			return &e, nil
		}
	}
	return nil, eris.Wrapf(ErrNotFound, "wikidata: entity %s", id)
}

// get performs a rate-limited GET with retries behind the circuit breaker.
func (c *httpClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	body, err := resilience.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "wikidata: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "wikidata: create request")
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "wikidata: request failed")
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "wikidata: read response body"), 0)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return data, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(
				eris.Errorf("wikidata: status %d: %s", resp.StatusCode, truncate(data, 200)),
				resp.StatusCode,
			)
		default:
			return nil, eris.Errorf("wikidata: unexpected status %d: %s", resp.StatusCode, truncate(data, 200))
		}
	})
	c.breaker.Record(err)
	return body, err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
