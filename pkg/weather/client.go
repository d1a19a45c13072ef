// Package weather fetches surface visibility from the OpenWeatherMap current
// weather API.
package weather

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sightings/internal/resilience"
)

const (
	defaultBaseURL       = "https://api.openweathermap.org/data/2.5"
	defaultMaxVisibility = 10000
)

var (
	// ErrMissingKey is returned when no API key is configured.
	ErrMissingKey = eris.New("weather: api key not configured")
	// ErrMissingVisibility is returned when a response has no visibility field.
	ErrMissingVisibility = eris.New("weather: response has no visibility field")
)

// Client looks up visibility at a location.
type Client interface {
	// Visibility returns visibility in metres, clamped to [0, max].
	Visibility(ctx context.Context, lat, lon float64) (int, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithMaxVisibility sets the clamp ceiling in metres.
func WithMaxVisibility(m int) Option {
	return func(c *httpClient) {
		if m > 0 {
			c.maxVisibility = m
		}
	}
}

// WithRateLimit limits outgoing requests per minute.
func WithRateLimit(perMinute float64) Option {
	return func(c *httpClient) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perMinute/60), 1)
		}
	}
}

// WithBreaker guards requests with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	maxVisibility int
	http          *http.Client
	limiter       *rate.Limiter
	breaker       *resilience.CircuitBreaker
}

// NewClient creates an OpenWeatherMap client. An empty apiKey is accepted;
// every lookup then fails with ErrMissingKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		maxVisibility: defaultMaxVisibility,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type currentWeather struct {
	Visibility *float64 `json:"visibility"`
}

func (c *httpClient) Visibility(ctx context.Context, lat, lon float64) (int, error) {
	if c.apiKey == "" {
		return 0, ErrMissingKey
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, eris.Wrap(err, "weather: rate limit wait")
		}
	}
	if c.breaker == nil {
		return c.fetch(ctx, lat, lon)
	}
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (int, error) {
		return c.fetch(ctx, lat, lon)
	})
}

func (c *httpClient) fetch(ctx context.Context, lat, lon float64) (int, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return 0, eris.Wrap(err, "weather: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrap(err, "weather: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrap(err, "weather: read response"), 0)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, resilience.StatusError("weather", resp.StatusCode, body)
	}

	var cw currentWeather
	if err := json.Unmarshal(body, &cw); err != nil {
		return 0, eris.Wrap(err, "weather: unmarshal response")
	}
	if cw.Visibility == nil {
		return 0, eris.Wrapf(ErrMissingVisibility, "weather: lat=%v lon=%v", lat, lon)
	}
	return clamp(*cw.Visibility, c.maxVisibility), nil
}

// clamp bounds v to [0, maxV] before converting, so out-of-range values
// cannot overflow the int conversion.
func clamp(v float64, maxV int) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(min(max(v, 0), float64(maxV)))
}
