// Package backend is the HTTP client for the Ghiblify REST backend:
// the credits ledger, SIWE verification, Stripe checkout and on-chain
// payment verification endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/internal/metrics"
	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	"github.com/ghiblify/wallet-middleware/pkg/config"
)

const defaultRetryDelay = 500 * time.Millisecond

// Client issues credentialed JSON requests to the backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
}

// New creates a backend client from config.
func New(cfg *config.BackendConfig, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil backend config")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("backend url is required")
	}

	s := applyOptions(opts)

	httpClient := s.httpClient
	if httpClient == http.DefaultClient && cfg.RequestTimeout > 0 {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     s.logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
	}, nil
}

// RegisterWallet registers a wallet connection with the backend. Callers
// treat failures as non-fatal.
func (c *Client) RegisterWallet(ctx context.Context, address, provider string) error {
	req := map[string]string{"address": address, "provider": provider}
	return c.post(ctx, "/api/wallet/connect", req, nil)
}

// GetCredits fetches the current credit balance for an address. The
// backend ledger is authoritative.
func (c *Client) GetCredits(ctx context.Context, address string) (int, error) {
	var resp CreditsResponse
	path := "/api/wallet/credits/" + url.PathEscape(address)
	if err := c.getWithRetry(ctx, path, &resp); err != nil {
		return 0, err
	}
	if resp.Credits < 0 {
		return 0, apperrors.DependencyFailureError(
			fmt.Errorf("backend returned negative credits: %d", resp.Credits),
			"invalid credit balance from backend",
		)
	}
	return resp.Credits, nil
}

// UseCredits atomically debits credits and returns the new balance.
func (c *Client) UseCredits(ctx context.Context, address string, amount int) (int, error) {
	req := map[string]any{"address": address, "amount": amount}
	var resp CreditsResponse
	if err := c.post(ctx, "/api/wallet/credits/use", req, &resp); err != nil {
		return 0, err
	}
	return resp.Credits, nil
}

// AddCredits credits the address and returns the new balance.
func (c *Client) AddCredits(ctx context.Context, address string, amount int) (int, error) {
	req := map[string]any{"address": address, "amount": amount}
	var resp CreditsResponse
	if err := c.post(ctx, "/api/wallet/credits/add", req, &resp); err != nil {
		return 0, err
	}
	return resp.Credits, nil
}

// GetAuthNonce requests a SIWE nonce for the address. The backend
// serves the nonce as a bare text/plain hex string; a JSON object
// wrapping the nonce is accepted as a fallback.
func (c *Client) GetAuthNonce(ctx context.Context, address string) (string, error) {
	path := "/api/web3/auth/nonce?address=" + url.QueryEscape(address)
	body, err := c.roundTrip(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	nonce := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if strings.HasPrefix(nonce, "{") {
		var resp NonceResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", apperrors.DependencyFailureError(
				fmt.Errorf("decode nonce response: %w", err),
				"invalid backend response",
			)
		}
		nonce = resp.Nonce
	}
	if nonce == "" {
		return "", apperrors.DependencyFailureError(nil, "backend returned empty nonce")
	}
	return nonce, nil
}

// VerifyAuth submits a signed SIWE message for verification.
func (c *Client) VerifyAuth(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/api/web3/auth/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateCheckoutSession creates a Stripe checkout session for a tier.
func (c *Client) CreateCheckoutSession(ctx context.Context, tier, address string) (*CheckoutSession, error) {
	req := map[string]string{"address": address}
	var resp CheckoutSession
	path := "/api/stripe/create-checkout-session/" + url.PathEscape(tier)
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCheckoutSession polls a Stripe checkout session's state.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionStatus, error) {
	var resp CheckoutSessionStatus
	path := "/api/stripe/session/" + url.PathEscape(sessionID)
	if err := c.getWithRetry(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckCeloPayment asks the backend to verify a Celo cUSD payment
// transaction and credit the buyer.
func (c *Client) CheckCeloPayment(ctx context.Context, txHash, address string) (*PaymentResult, error) {
	var resp PaymentResult
	path := fmt.Sprintf("/api/celo/check-payment/%s?address=%s",
		url.PathEscape(txHash), url.QueryEscape(address))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessBasePayment reports a completed Base Pay payment for crediting.
func (c *Client) ProcessBasePayment(ctx context.Context, paymentID, tier, address string) (*PaymentResult, error) {
	req := map[string]string{"payment_id": paymentID, "tier": tier, "address": address}
	var resp PaymentResult
	if err := c.post(ctx, "/api/base-pay/process-payment", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBasePaymentStatus polls a Base Pay payment by id.
func (c *Client) GetBasePaymentStatus(ctx context.Context, paymentID string) (*PaymentResult, error) {
	var resp PaymentResult
	path := "/api/base-pay/payment-status/" + url.PathEscape(paymentID)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessTokenPayment reports a $GHIBLIFY token purchase transaction.
func (c *Client) ProcessTokenPayment(ctx context.Context, txHash, address, tier string) (*PaymentResult, error) {
	req := map[string]string{"tx_hash": txHash, "address": address, "tier": tier}
	var resp PaymentResult
	if err := c.post(ctx, "/api/ghiblify-token/process-payment", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckTokenPayment polls the verification state of a token purchase.
func (c *Client) CheckTokenPayment(ctx context.Context, txHash, address string) (*PaymentResult, error) {
	var resp PaymentResult
	path := fmt.Sprintf("/api/ghiblify-token/check-payment/%s?address=%s",
		url.PathEscape(txHash), url.QueryEscape(address))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// getWithRetry retries idempotent GETs with exponential backoff. Only
// transport errors and 5xx responses are retried.
func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := c.retryDelay * time.Duration(1<<uint(i-1))
			c.logger.Debug("retrying backend request",
				zap.String("path", path),
				zap.Int("attempt", i+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.do(ctx, http.MethodGet, path, nil, out)
		if lastErr == nil {
			return nil
		}
		if !apperrors.Is(lastErr, apperrors.CategoryDependencyFailure) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	respBody, err := c.roundTrip(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.DependencyFailureError(
				fmt.Errorf("decode backend response: %w", err),
				"invalid backend response",
			)
		}
	}
	return nil
}

// roundTrip issues the request and returns the response body, mapping
// transport failures and error statuses to service errors.
func (c *Client) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	endpoint := endpointLabel(path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "unreachable").Inc()
		return nil, apperrors.DependencyFailureError(err, "backend unreachable")
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.BackendRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.DependencyFailureError(err, "failed to read backend response")
	}

	if resp.StatusCode >= 400 {
		return nil, c.statusError(resp.StatusCode, respBody, path)
	}
	return respBody, nil
}

// endpointLabel normalizes a request path into a bounded metric label:
// the query string is dropped and address, hash and session id segments
// are collapsed to a placeholder.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if strings.HasPrefix(segment, "0x") || strings.HasPrefix(segment, "cs_") || len(segment) > 24 {
			segments[i] = ":param"
		}
	}
	return strings.Join(segments, "/")
}

// statusError maps backend HTTP statuses to service error categories.
func (c *Client) statusError(status int, body []byte, path string) error {
	message := backendMessage(body)
	err := fmt.Errorf("backend %s returned %d: %s", path, status, message)

	switch {
	case status == http.StatusPaymentRequired:
		return apperrors.PaymentRequiredError(err, "insufficient credits")
	case status == http.StatusUnauthorized:
		return apperrors.UnAuthorizedError(err, message)
	case status == http.StatusForbidden:
		return apperrors.ForbiddenError(err, message)
	case status == http.StatusNotFound:
		return apperrors.ResourceNotFoundError(err, message)
	case status == http.StatusConflict:
		return apperrors.ConflictError(err, message)
	case status == http.StatusTooManyRequests:
		return apperrors.TooManyRequestsError(err, message)
	case status >= 500:
		return apperrors.DependencyFailureError(err, "backend error")
	default:
		return apperrors.BadRequestError(err, message)
	}
}

func backendMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			return payload.Error
		case payload.Detail != "":
			return payload.Detail
		case payload.Message != "":
			return payload.Message
		}
	}
	if len(body) > 0 && len(body) <= 200 {
		return string(body)
	}
	return "request failed"
}
