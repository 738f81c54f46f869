// Package bring looks up Norwegian postal-code geography via the Bring
// address API.
package bring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PostalInfo holds the canonical geography for one postal code.
type PostalInfo struct {
	City         string
	Municipality string
	County       string
}

// Client defines the postal lookup operation used by this application.
type Client interface {
	// Lookup returns geography for a postal code. A nil result with nil
	// error means the code is unknown, which is a valid outcome.
	Lookup(ctx context.Context, postalCode string) (*PostalInfo, error)
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

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

type httpClient struct {
	http    *http.Client
	baseURL string
	uid     string
	key     string
	limiter *rate.Limiter
}

// NewClient creates a Bring API client with the given credentials.
func NewClient(uid, key string, opts ...ClientOption) Client {
	c := &httpClient{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: "https://api.bring.com/address/api/no/postal-codes",
		uid:     uid,
		key:     key,
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, postalCode string) (*PostalInfo, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "bring: rate limit")
		}
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, postalCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "bring: build request")
	}
	req.Header.Set("X-Mybring-API-Uid", c.uid)
	req.Header.Set("X-Mybring-API-Key", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "bring: lookup %s", postalCode)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Errorf("bring: lookup %s: status %d: %s", postalCode, resp.StatusCode, body)
	}

	var payload struct {
		PostalCodes []struct {
			City         string `json:"city"`
			Municipality string `json:"municipality"`
			County       string `json:"county"`
		} `json:"postal_codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, eris.Wrapf(err, "bring: decode response for %s", postalCode)
	}

	if len(payload.PostalCodes) == 0 {
		zap.L().Debug("bring: no match", zap.String("postal_code", postalCode))
		return nil, nil
	}

	// First match wins.
	first := payload.PostalCodes[0]
	return &PostalInfo{
		City:         first.City,
		Municipality: first.Municipality,
		County:       first.County,
	}, nil
}
