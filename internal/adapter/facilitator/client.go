// Package facilitator is the HTTP client for x402 payment facilitators:
// per-network endpoint resolution, provider authentication, and verify /
// settle / supported calls with per-attempt timeouts and bounded retries.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	opVerify    = "verify"
	opSettle    = "settle"
	opSupported = "supported"

	maxResponseBytes = 1 << 20

	DefaultRetries = 2
	DefaultBackoff = 200 * time.Millisecond
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the facilitator resolved for each request's network.
type Client struct {
	registry      *Registry
	http          HTTPClient
	auth          map[Provider]Authenticator
	verifyRetries int
	settleRetries int
	backoff       time.Duration
	log           zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) { c.http = h }
}

// WithAuthenticator registers the strategy used for a provider.
func WithAuthenticator(p Provider, a Authenticator) Option {
	return func(c *Client) { c.auth[p] = a }
}

// WithRetries sets how many extra attempts follow the first one.
func WithRetries(verify, settle int) Option {
	return func(c *Client) {
		c.verifyRetries = verify
		c.settleRetries = settle
	}
}

// WithBackoff sets the linear backoff unit: attempt n waits n × d.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client. It fails if the default network needs
// credentials that were not supplied.
func NewClient(registry *Registry, opts ...Option) (*Client, error) {
	c := &Client{
		registry:      registry,
		http:          &http.Client{},
		auth:          map[Provider]Authenticator{ProviderGeneric: NewAPIKeyAuth("")},
		verifyRetries: DefaultRetries,
		settleRetries: DefaultRetries,
		backoff:       DefaultBackoff,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.verifyRetries < 0 {
		c.verifyRetries = 0
	}
	if c.settleRetries < 0 {
		c.settleRetries = 0
	}

	if _, err := c.authenticator(registry.ResolveConfig("")); err != nil {
		return nil, err
	}
	return c, nil
}

type verifyResponse struct {
	IsValid       *bool  `json:"isValid"`
	InvalidReason string `json:"invalidReason"`
	Payer         string `json:"payer"`
	TxHash        string `json:"txHash"`
	Transaction   string `json:"transaction"` // some vendors use the settle field name
}

type settleResponse struct {
	Success     *bool  `json:"success"`
	ErrorReason string `json:"errorReason"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

type supportedResponse struct {
	Kinds []domain.SupportedKind `json:"kinds"`
}

// Verify asks the facilitator whether the payment authorization is valid.
// isValid:false is returned as domain.Invalid, not as an error.
func (c *Client) Verify(ctx context.Context, req domain.FacilitatorRequest) (domain.VerifyResult, error) {
	cfg := c.registry.ResolveConfig(req.Network())
	body, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	raw, err := c.call(ctx, opVerify, cfg, http.MethodPost, cfg.Paths.Verify, cfg.VerifyTimeout, c.verifyRetries, body, nil, isVerifyBody)
	if err != nil {
		return nil, err
	}

	var resp verifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.IsValid == nil {
		return nil, fmt.Errorf("decode verify response: %w", decodeErr(err))
	}
	if *resp.IsValid {
		txHash := resp.TxHash
		if txHash == "" {
			txHash = resp.Transaction
		}
		return domain.Valid{Payer: resp.Payer, TxHash: txHash, Raw: raw}, nil
	}
	return domain.Invalid{Reason: resp.InvalidReason, Payer: resp.Payer, Raw: raw}, nil
}

// Settle executes the payment. success:false is returned as
// domain.Rejected. A non-empty idempotencyKey is sent as Idempotency-Key.
func (c *Client) Settle(ctx context.Context, req domain.FacilitatorRequest, idempotencyKey string) (domain.SettleResult, error) {
	cfg := c.registry.ResolveConfig(req.Network())
	body, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}

	raw, err := c.call(ctx, opSettle, cfg, http.MethodPost, cfg.Paths.Settle, cfg.SettleTimeout, c.settleRetries, body, header, isSettleBody)
	if err != nil {
		return nil, err
	}

	var resp settleResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Success == nil {
		return nil, fmt.Errorf("decode settle response: %w", decodeErr(err))
	}
	network := resp.Network
	if network == "" {
		network = req.Network()
	}
	if *resp.Success {
		return domain.Settled{Transaction: resp.Transaction, Network: network, Payer: resp.Payer, Raw: raw}, nil
	}
	return domain.Rejected{Reason: resp.ErrorReason, Network: network, Payer: resp.Payer, Raw: raw}, nil
}

// Supported lists the scheme/network kinds the network's facilitator accepts.
func (c *Client) Supported(ctx context.Context, network string) ([]domain.SupportedKind, error) {
	cfg := c.registry.ResolveConfig(network)

	raw, err := c.call(ctx, opSupported, cfg, http.MethodGet, cfg.Paths.Supported, cfg.VerifyTimeout, c.verifyRetries, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp supportedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode supported response: %w", err)
	}
	return resp.Kinds, nil
}

// call runs up to retries+1 attempts. A 4xx whose body isBusiness accepts is
// a final answer, not a failure.
func (c *Client) call(
	ctx context.Context,
	op string,
	cfg Config,
	method, path string,
	timeout time.Duration,
	retries int,
	body []byte,
	header http.Header,
	isBusiness func([]byte) bool,
) ([]byte, error) {
	auth, err := c.authenticator(cfg)
	if err != nil {
		return nil, err
	}

	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
				break
			}
		}
		attempts++

		start := time.Now()
		status, respBody, err := c.do(ctx, cfg, auth, method, path, timeout, body, header)
		switch {
		case err != nil:
			if errors.Is(err, domain.ErrFacilitatorConfig) {
				return nil, err
			}
			lastErr, lastStatus = err, 0
		case status >= 200 && status < 300:
			metrics.ObserveFacilitatorRequest(op, "ok", time.Since(start))
			return respBody, nil
		case status >= 400 && status < 500 && isBusiness != nil && isBusiness(respBody):
			metrics.ObserveFacilitatorRequest(op, "rejected", time.Since(start))
			return respBody, nil
		default:
			lastErr, lastStatus = errors.New(snippet(respBody)), status
		}

		metrics.ObserveFacilitatorRequest(op, "error", time.Since(start))
		c.log.Warn().
			Err(lastErr).
			Str("op", op).
			Str("network", cfg.Network).
			Int("attempt", attempts).
			Int("status", lastStatus).
			Msg("facilitator attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, &TransportError{Op: op, Attempts: attempts, StatusCode: lastStatus, Err: lastErr}
}

func (c *Client) do(
	ctx context.Context,
	cfg Config,
	auth Authenticator,
	method, path string,
	timeout time.Duration,
	body []byte,
	header http.Header,
) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", domain.ErrFacilitatorConfig, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if err := auth.Authorize(req); err != nil {
		return 0, nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// UnservedNetworks lists registry networks whose provider has no
// authenticator. Settlements for them are released on every cycle until
// credentials are configured.
func (c *Client) UnservedNetworks() []string {
	var out []string
	for _, n := range c.registry.Networks() {
		if _, err := c.authenticator(c.registry.ResolveConfig(n)); err != nil {
			out = append(out, n)
		}
	}
	return out
}

func (c *Client) authenticator(cfg Config) (Authenticator, error) {
	a, ok := c.auth[cfg.Provider]
	if !ok || a == nil {
		return nil, fmt.Errorf("network %q uses provider %q: %w", cfg.Network, cfg.Provider, ErrMissingCredentials)
	}
	return a, nil
}

func encodeRequest(req domain.FacilitatorRequest) ([]byte, error) {
	if req.X402Version == 0 {
		req.X402Version = domain.X402Version
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRequest, err)
	}
	return body, nil
}

func isVerifyBody(b []byte) bool {
	var r verifyResponse
	return json.Unmarshal(b, &r) == nil && r.IsValid != nil
}

func isSettleBody(b []byte) bool {
	var r settleResponse
	return json.Unmarshal(b, &r) == nil && r.Success != nil
}

func decodeErr(err error) error {
	if err != nil {
		return err
	}
	return errors.New("missing result field")
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) == 0 {
		return "empty response body"
	}
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
