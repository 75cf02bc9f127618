package elevation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	"github.com/couchcryptid/school-connectivity-etl/internal/resilience"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Google Maps Elevation API JSON endpoint.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/elevation/json"

// Options configures a Client.
type Options struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Retry     resilience.RetryConfig
}

// Client implements domain.ElevationProvider using the Google Elevation API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Google Elevation client.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	retry := opts.Retry
	retry.OnRetry = resilience.RetryLogger(logger, "elevation")
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		retry:      retry,
		metrics:    metrics,
		logger:     logger,
	}
}

// Elevations fetches one elevation per point in a single request. Points are
// sent pipe-separated in the `locations` parameter.
func (c *Client) Elevations(ctx context.Context, points []domain.Point) ([]float64, error) {
	if len(points) == 0 {
		return nil, nil
	}
	params := url.Values{
		"locations": {formatLocations(points)},
		"key":       {c.apiKey},
	}
	fullURL := c.baseURL + "?" + params.Encode()

	elevations, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]float64, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("elevation rate limit: %w", err)
		}
		return c.doRequest(ctx, fullURL)
	})
	if err != nil {
		c.metrics.ElevationRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(elevations) != len(points) {
		c.metrics.ElevationRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("elevation API returned %d results for %d points", len(elevations), len(points))
	}
	c.metrics.ElevationRequests.WithLabelValues("success").Inc()
	return elevations, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ElevationAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("elevation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, resilience.StatusError("elevation", resp.StatusCode, body)
	}

	var apiResp response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if apiResp.Status != "OK" {
		err := fmt.Errorf("elevation API status %s: %s", apiResp.Status, apiResp.ErrorMessage)
		if transientStatus(apiResp.Status) {
			return nil, &resilience.TransientError{Err: err}
		}
		return nil, err
	}

	out := make([]float64, len(apiResp.Results))
	for i, r := range apiResp.Results {
		out[i] = r.Elevation
	}
	return out, nil
}

func formatLocations(points []domain.Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
	}
	return strings.Join(parts, "|")
}

func transientStatus(status string) bool {
	return status == "OVER_QUERY_LIMIT" || status == "UNKNOWN_ERROR"
}

// ErrNoAPIKey is returned by Check when the client has no key configured.
var ErrNoAPIKey = errors.New("GOOGLE_ELEVATION_API_KEY is not set")

// Check reports configuration problems that would fail every request.
func (c *Client) Check() error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// Google Elevation API response types.

type response struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Results      []result `json:"results"`
}

type result struct {
	Elevation  float64  `json:"elevation"`
	Location   location `json:"location"`
	Resolution float64  `json:"resolution"`
}

type location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
