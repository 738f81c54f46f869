// Package mapbox geocodes free-text addresses via the Mapbox geocoding API.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

// Client defines the geocoding operation used by this application.
type Client interface {
	// Geocode resolves an address to a point using the top-ranked
	// candidate. A nil result with nil error means no candidates,
	// which is a valid outcome.
	Geocode(ctx context.Context, address string) (*Point, error)
}

// ClientOption configures the client.
type ClientOption func(*httpClient)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(base string) ClientOption {
	return func(c *httpClient) {
		c.baseURL = base
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithCountry restricts results to an ISO 3166-1 country code.
func WithCountry(code string) ClientOption {
	return func(c *httpClient) {
		c.country = code
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

type httpClient struct {
	http    *http.Client
	baseURL string
	token   string
	country string
	limiter *rate.Limiter
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, opts ...ClientOption) Client {
	c := &httpClient{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: "https://api.mapbox.com/geocoding/v5/mapbox.places",
		token:   token,
		country: "no",
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Geocode(ctx context.Context, address string) (*Point, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "mapbox: rate limit")
		}
	}

	endpoint := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "mapbox: build request")
	}
	q := req.URL.Query()
	q.Set("access_token", c.token)
	if c.country != "" {
		q.Set("country", c.country)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "mapbox: geocode %q", address)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Errorf("mapbox: geocode %q: status %d: %s", address, resp.StatusCode, body)
	}

	var payload struct {
		Features []struct {
			Center [2]float64 `json:"center"` // [lng, lat]
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, eris.Wrapf(err, "mapbox: decode response for %q", address)
	}

	if len(payload.Features) == 0 {
		zap.L().Debug("mapbox: no candidates", zap.String("address", address))
		return nil, nil
	}

	center := payload.Features[0].Center
	return &Point{Lat: center[1], Lng: center[0]}, nil
}
