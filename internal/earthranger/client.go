// Package earthranger is a read-only client for the EarthRanger REST API.
package earthranger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// APIPrefix is prepended to every endpoint path.
const APIPrefix = "/api/v1.0/"

// maxErrorBodySize limits how much of an error response is kept.
const maxErrorBodySize = 64 * 1024

// maxPages stops a pagination loop whose next link never ends.
const maxPages = 10000

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.Path, e.Code, e.Body)
}

// ErrUnauthorized is matched by StatusError for 401 and 403.
var ErrUnauthorized = errors.New("earthranger: unauthorized")

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// readBodyForError reads at most maxErrorBodySize bytes of r.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	if len(body) == maxErrorBodySize {
		return string(body) + "\n... (truncated)"
	}
	return string(bytes.TrimSpace(body))
}

// Client talks to one EarthRanger site. It is safe for concurrent use.
type Client struct {
	baseURL        string
	token          string
	http           *http.Client
	limiter        *rate.Limiter
	cb             *gobreaker.CircuitBreaker[[]byte]
	log            *slog.Logger
	maxRetries     int
	retryBaseDelay time.Duration
	pageSize       int

	types *typeCache
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps requests per second. Zero or less disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry sets the HTTP 429 retry budget and base backoff delay.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryBaseDelay = base
	}
}

// WithLogger sets the logger used for breaker transitions.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for server, authenticating with a bearer token.
func New(server, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(server, "/"),
		token:          token,
		http:           &http.Client{Timeout: 60 * time.Second},
		limiter:        rate.NewLimiter(5, 1),
		log:            slog.Default(),
		maxRetries:     5,
		retryBaseDelay: time.Second,
		pageSize:       1000,
		types:          &typeCache{},
	}
	for _, o := range opts {
		o(c)
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "earthranger-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx responses do not count against the breaker.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// endpoint builds an absolute URL for an API path.
func (c *Client) endpoint(path string, params url.Values) string {
	u := c.baseURL + APIPrefix + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// get fetches reqURL through the rate limiter and the circuit breaker and
// returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.cb.Execute(func() ([]byte, error) {
		resp, err := c.doRequestWithRateLimit(ctx, reqURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Path: pathOf(reqURL), Code: resp.StatusCode, Body: readBodyForError(resp.Body)}
		}
		return io.ReadAll(resp.Body)
	})
}

// doRequestWithRateLimit retries HTTP 429 responses with exponential backoff,
// honouring Retry-After when the server sends it.
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		_ = resp.Body.Close()
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s >= 0 {
			delay = time.Duration(s) * time.Second
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func pathOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Path
	}
	return rawURL
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type page struct {
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// each calls fn for every result of a list endpoint, following data.next
// links. Endpoints that return a bare list under data are read in one go.
func (c *Client) each(ctx context.Context, path string, params url.Values, fn func(json.RawMessage) error) error {
	next := c.endpoint(path, params)
	for n := 0; next != ""; n++ {
		if n >= maxPages {
			return fmt.Errorf("%s: more than %d pages", path, maxPages)
		}
		body, err := c.get(ctx, next)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		data := bytes.TrimSpace(env.Data)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return nil
		}

		var p page
		next = ""
		if data[0] == '[' {
			if err := json.Unmarshal(data, &p.Results); err != nil {
				return fmt.Errorf("failed to decode %s results: %w", path, err)
			}
		} else {
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("failed to decode %s page: %w", path, err)
			}
			if p.Next != nil {
				next = *p.Next
			}
		}
		for _, raw := range p.Results {
			if err := fn(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// list decodes every result of a list endpoint into T.
func list[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	var out []T
	err := c.each(ctx, path, params, func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("failed to decode %s item: %w", path, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}
