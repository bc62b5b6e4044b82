package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DefaultWinnerThreshold is the outcome price at which a closed market is
// treated as resolved for that outcome.
const DefaultWinnerThreshold = 0.98

// discoveryOffsets are the window offsets (in cadence lengths) probed around
// the aligned current window, nearest first.
var discoveryOffsets = []int{0, -1, -2, 1, 2, 3, 4}

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and resolution state. Calls are rate limited and
// guarded by a circuit breaker.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// GammaOption customizes a GammaClient.
type GammaOption func(*GammaClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) GammaOption {
	return func(g *GammaClient) { g.httpClient = c }
}

// WithRateLimit caps requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) GammaOption {
	return func(g *GammaClient) {
		if rps <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreakerStateChange registers a callback for circuit breaker
// transitions.
func WithBreakerStateChange(fn func(name string, from, to gobreaker.State)) GammaOption {
	return func(g *GammaClient) { g.breaker = newBreaker(fn) }
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts ...GammaOption) *GammaClient {
	g := &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		breaker: newBreaker(nil),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func newBreaker(onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gamma",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// A not-found answer comes from a healthy upstream.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: onChange,
	})
}

// GetEventBySlug returns the event with the given slug.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return events[0], nil
}

// GetWindow fetches the market for the window of asset and cadence that
// starts at start.
func (g *GammaClient) GetWindow(ctx context.Context, asset string, cadence domain.Cadence, start, now time.Time) (domain.MarketWindow, bool, error) {
	slug := domain.WindowSlug(asset, cadence, start)
	ev, err := g.GetEventBySlug(ctx, slug)
	if err != nil {
		return domain.MarketWindow{}, false, err
	}
	m := ev.Markets[0]
	w, err := m.ToDomainWindow(asset, cadence, start, now)
	if err != nil {
		return domain.MarketWindow{}, false, fmt.Errorf("polymarket/gamma: %w", err)
	}
	return w, bool(m.Closed), nil
}

// FindActiveWindow probes the windows around now and returns the first one
// that is open and not yet ended.
func (g *GammaClient) FindActiveWindow(ctx context.Context, asset string, cadence domain.Cadence, now time.Time) (domain.MarketWindow, error) {
	if !cadence.Valid() {
		return domain.MarketWindow{}, fmt.Errorf("polymarket/gamma: invalid cadence %q", cadence)
	}
	base := cadence.AlignStart(now)
	var lastErr error
	for _, off := range discoveryOffsets {
		start := base.Add(time.Duration(off) * cadence.Duration())
		w, closed, err := g.GetWindow(ctx, asset, cadence, start, now)
		if err != nil {
			if ctx.Err() != nil {
				return domain.MarketWindow{}, ctx.Err()
			}
			if !errors.Is(err, domain.ErrNotFound) {
				lastErr = err
			}
			continue
		}
		if closed || w.Closed(now) {
			continue
		}
		return w, nil
	}
	if lastErr != nil {
		return domain.MarketWindow{}, lastErr
	}
	return domain.MarketWindow{}, fmt.Errorf("polymarket/gamma: %s %s: %w", asset, cadence, domain.ErrNoActiveWindow)
}

// GetResolution reports the winning outcome of a closed window. It returns
// domain.ErrNotResolved while the market is open or neither outcome price has
// reached threshold.
func (g *GammaClient) GetResolution(ctx context.Context, slug string, threshold float64) (domain.Role, error) {
	if threshold <= 0 {
		threshold = DefaultWinnerThreshold
	}
	ev, err := g.GetEventBySlug(ctx, slug)
	if err != nil {
		return domain.RoleYes, err
	}
	m := ev.Markets[0]
	if !bool(m.Closed) {
		return domain.RoleYes, fmt.Errorf("polymarket/gamma: %s: %w", slug, domain.ErrNotResolved)
	}
	prices := m.Prices()
	if len(prices) < 2 {
		return domain.RoleYes, fmt.Errorf("polymarket/gamma: %s: %w", slug, domain.ErrNotResolved)
	}
	switch {
	case prices[0] >= threshold:
		return domain.RoleYes, nil
	case prices[1] >= threshold:
		return domain.RoleNo, nil
	default:
		return domain.RoleYes, fmt.Errorf("polymarket/gamma: %s: %w", slug, domain.ErrNotResolved)
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API through the
// limiter and the circuit breaker.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.get(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (g *GammaClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
