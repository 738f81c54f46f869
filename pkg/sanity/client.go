// Package sanity is a minimal HTTP client for a Sanity-style content store:
// GROQ queries plus transactionally committed mutation batches.
package sanity

import (
	"bytes"
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

// Client defines the content-store operations used by this application.
type Client interface {
	// Fetch runs a GROQ query and unmarshals the result into result.
	Fetch(ctx context.Context, query string, params map[string]any, result any) error

	// Commit atomically applies all mutations queued on tx. A tx with no
	// mutations commits as a no-op without a network call.
	Commit(ctx context.Context, tx *Tx) (*CommitResult, error)
}

// CommitResult reports the outcome of a committed transaction.
type CommitResult struct {
	TransactionID string `json:"transactionId"`
	Results       []struct {
		ID        string `json:"id"`
		Operation string `json:"operation"`
	} `json:"results"`
}

// ClientOption configures the client.
type ClientOption func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithBaseURL overrides the API base URL (used by tests and proxies).
func WithBaseURL(base string) ClientOption {
	return func(c *httpClient) {
		c.baseURL = base
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

type httpClient struct {
	http    *http.Client
	baseURL string
	dataset string
	token   string
	limiter *rate.Limiter
}

// NewClient creates a content-store client for one project and dataset.
func NewClient(projectID, dataset, token string, opts ...ClientOption) Client {
	c := &httpClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: fmt.Sprintf("https://%s.api.sanity.io/v2021-10-21", projectID),
		dataset: dataset,
		token:   token,
		limiter: rate.NewLimiter(25, 25),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) Fetch(ctx context.Context, query string, params map[string]any, result any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sanity: rate limit")
	}

	body, err := json.Marshal(map[string]any{"query": query, "params": params})
	if err != nil {
		return eris.Wrap(err, "sanity: marshal query")
	}

	url := fmt.Sprintf("%s/data/query/%s", c.baseURL, c.dataset)
	raw, err := c.post(ctx, url, body)
	if err != nil {
		return err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return eris.Wrap(err, "sanity: decode query response")
	}
	if result == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return eris.Wrap(err, "sanity: unmarshal query result")
	}
	return nil
}

func (c *httpClient) Commit(ctx context.Context, tx *Tx) (*CommitResult, error) {
	if tx.Empty() {
		return &CommitResult{}, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sanity: rate limit")
	}

	body, err := json.Marshal(map[string]any{"mutations": tx.mutations})
	if err != nil {
		return nil, eris.Wrap(err, "sanity: marshal mutations")
	}

	url := fmt.Sprintf("%s/data/mutate/%s?returnIds=true&visibility=sync", c.baseURL, c.dataset)
	raw, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var result CommitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, eris.Wrap(err, "sanity: decode commit response")
	}

	zap.L().Debug("sanity: transaction committed",
		zap.String("transaction_id", result.TransactionID),
		zap.Int("mutations", tx.Len()),
	)
	return &result, nil
}

func (c *httpClient) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "sanity: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "sanity: request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "sanity: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("sanity: status %d: %s", resp.StatusCode, truncate(raw, 512))
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
