package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/expirytrack/collector/internal/model"
)

// TokenProvider supplies the bearer token for upstream requests.
type TokenProvider interface {
	Token() (string, error)
}

// Client is the HTTP implementation of Fetcher.
//
// It performs no retries itself: failures are classified and returned, and
// the worker pool's retry policy decides what happens next. Rate limiting
// likewise happens before the call, at the gate.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an upstream API client.
func NewClient(baseURL string, tokens TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// intervalPath maps a user-facing interval to the {unit}/{interval} path
// segments of the v3 candle endpoint.
var intervalPath = map[string]string{
	"1minute":  "minutes/1",
	"3minute":  "minutes/3",
	"5minute":  "minutes/5",
	"10minute": "minutes/10",
	"15minute": "minutes/15",
	"30minute": "minutes/30",
	"1hour":    "hours/1",
	"1day":     "days/1",
	"1week":    "weeks/1",
	"1month":   "months/1",
}

// ValidInterval reports whether the interval is supported upstream.
func ValidInterval(interval string) bool {
	_, ok := intervalPath[interval]
	return ok
}

// ListExpiries implements Fetcher.
func (c *Client) ListExpiries(ctx context.Context, instrumentKey string) ([]string, error) {
	q := url.Values{}
	q.Set("instrument_key", instrumentKey)

	var resp expiriesResponse
	if err := c.get(ctx, "/v2/expired-instruments/expiries", q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListContracts implements Fetcher. Options and futures live on separate
// endpoints upstream; both are fetched and merged.
func (c *Client) ListContracts(ctx context.Context, instrumentKey, expiry string) ([]model.Contract, error) {
	q := url.Values{}
	q.Set("instrument_key", instrumentKey)
	q.Set("expiry_date", expiry)

	var contracts []model.Contract
	for _, kind := range []string{"option", "future"} {
		var resp contractsResponse
		err := c.get(ctx, "/v2/expired-instruments/"+kind+"/contract", q, &resp)
		if err != nil {
			return nil, fmt.Errorf("list %s contracts: %w", kind, err)
		}
		for _, ac := range resp.Data {
			contracts = append(contracts, convertContract(ac, instrumentKey))
		}
	}
	return contracts, nil
}

// FetchCandles implements Fetcher.
func (c *Client) FetchCandles(ctx context.Context, contractKey, interval, from, to string) ([]model.Candle, error) {
	segments, ok := intervalPath[interval]
	if !ok {
		return nil, &ValidationError{Reason: "unsupported interval " + interval}
	}

	path := fmt.Sprintf("/v3/historical-candle/%s/%s/%s/%s",
		url.PathEscape(contractKey), segments, to, from)

	var resp candlesResponse
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	candles, err := convertCandles(resp.Data.Candles)
	if err != nil {
		return nil, err
	}
	return candles, nil
}

// get performs a GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doRequest(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return &ValidationError{Reason: "malformed response body: " + err.Error()}
	}
	return nil
}

// doRequest performs the HTTP exchange and maps failures onto the error
// taxonomy.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode < 400:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("upstream returned %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header)}
	default:
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}
}

// parseRetryAfter reads a Retry-After header given in seconds. Returns 0
// when absent or unparseable.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
