// SPDX-License-Identifier: MIT

// Package backend talks to the campaign REST API: campaign snapshots and
// component lists. Transient failures are retried with exponential backoff;
// 404 and auth rejections surface as sentinels the coordinator acts on.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shopstream/campaign-engine/internal/campaign"
	"github.com/shopstream/campaign-engine/internal/log"
	"github.com/shopstream/campaign-engine/internal/retry"
)

const apiKeyHeader = "X-API-Key"

// Client is the campaign REST API client.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
	policy retry.Policy
	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy replaces the retry policy for transient failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// New returns a Client for the given base URL and API key.
func New(base, apiKey string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		policy: retry.NewPolicy(3, time.Second, 10*time.Second),
		logger: logger.With().Str(log.FieldComponent, "backend").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Campaign fetches the campaign snapshot by id.
func (c *Client) Campaign(ctx context.Context, id int) (campaign.Campaign, error) {
	body, err := c.get(ctx, "campaign", "/"+strconv.Itoa(id))
	if err != nil {
		return campaign.Campaign{}, err
	}
	var out campaign.Campaign
	if err := json.Unmarshal(body, &out); err != nil {
		return campaign.Campaign{}, &APIError{Sentinel: ErrBadResponse, Operation: "campaign", Err: err}
	}
	return out, nil
}

// Components fetches the component assignments for a campaign.
func (c *Client) Components(ctx context.Context, id int) ([]campaign.Component, error) {
	body, err := c.get(ctx, "components", "/"+strconv.Itoa(id)+"/components")
	if err != nil {
		return nil, err
	}
	out, err := campaign.DecodeComponents(body)
	if err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "components", Err: err}
	}
	return out, nil
}

// get performs a GET with retries on transient failures. Terminal statuses
// (404, 401/403) are mapped to sentinels and never retried.
func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	url := c.base + path

	body, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.getOnce(ctx, op, url)
	}, func(err error, attempt int) bool {
		retryable := isTransient(err)
		if retryable {
			c.logger.Warn().
				Err(err).
				Int(log.FieldAttempt, attempt+1).
				Str(log.FieldURL, url).
				Msg("backend request failed, retrying")
		}
		return retryable
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
		if err != nil {
			return nil, &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
		}
		return body, nil
	case res.StatusCode == http.StatusNotFound:
		return nil, &APIError{Sentinel: ErrNotFound, Operation: op, Status: res.StatusCode}
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return nil, &APIError{Sentinel: ErrAuthRejected, Operation: op, Status: res.StatusCode}
	case res.StatusCode >= 500:
		return nil, &APIError{Sentinel: ErrServer, Operation: op, Status: res.StatusCode}
	default:
		return nil, &APIError{
			Sentinel:  ErrBadResponse,
			Operation: op,
			Status:    res.StatusCode,
			Err:       fmt.Errorf("unexpected status"),
		}
	}
}

// isTransient decides retryability: 5xx, retryable HTTP statuses and
// transport-level failures retry; 404 and auth rejections do not.
func isTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return retry.IsRetryableNetError(err)
	}
	switch apiErr.Sentinel {
	case ErrServer, ErrUnavailable:
		return true
	case ErrBadResponse:
		return apiErr.Status != 0 && retry.RetryableStatus(apiErr.Status)
	default:
		return false
	}
}
