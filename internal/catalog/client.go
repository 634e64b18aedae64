// Package catalog talks to the UUP dump JSON API.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultBaseURL        = "https://api.uupdump.net"
	DefaultAttempts       = 15
	DefaultRetryWait      = 10 * time.Second
	DefaultRequestTimeout = 2 * time.Minute

	maxBodySize = 32 << 20
)

// Endpoint names one of the catalog operations.
type Endpoint string

const (
	EndpointListBuilds    Endpoint = "listid"
	EndpointListLanguages Endpoint = "listlangs"
	EndpointListEditions  Endpoint = "listeditions"
	// EndpointGet is only referenced when building download URLs.
	EndpointGet Endpoint = "get"
)

// ErrCatalogUnavailable is returned once every attempt of a call has failed.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// UnavailableError reports an exhausted call.
type UnavailableError struct {
	Endpoint Endpoint
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("catalog %s request failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrCatalogUnavailable
}

// APIError is a well-formed catalog response carrying an error code.
type APIError struct {
	Endpoint Endpoint
	Code     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog %s returned error %s", e.Endpoint, e.Code)
}

// Client issues catalog calls with a bounded, fixed-interval retry.
type Client struct {
	BaseURL    string
	Attempts   int
	RetryWait  time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient returns a client using the default catalog host and retry policy.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		BaseURL:   DefaultBaseURL,
		Attempts:  DefaultAttempts,
		RetryWait: DefaultRetryWait,
		Logger:    logger,
	}
}

type envelope struct {
	Response json.RawMessage `json:"response"`
}

// callState carries per-call bookkeeping between the retry hooks.
type callState struct {
	endpoint Endpoint
	attempt  int
	lastErr  error
}

// Call performs one logical request against endpoint and returns the raw
// "response" object. Transport failures, non-2xx statuses and malformed
// bodies are retried; a cancelled ctx aborts immediately with ctx.Err().
func (c *Client) Call(ctx context.Context, endpoint Endpoint, params map[string]string) (json.RawMessage, error) {
	target, err := c.endpointURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	state := &callState{endpoint: endpoint}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger().Debug("calling catalog", "endpoint", endpoint, "url", target)

	resp, err := c.retryClient(state).Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}

	var status struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(env.Response, &status); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if status.Error != "" {
		return nil, &APIError{Endpoint: endpoint, Code: status.Error}
	}
	return env.Response, nil
}

func (c *Client) endpointURL(endpoint Endpoint, params map[string]string) (string, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base + "/" + string(endpoint) + ".php")
	if err != nil {
		return "", fmt.Errorf("invalid catalog url: %w", err)
	}
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func (c *Client) retryClient(state *callState) *retryablehttp.Client {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	wait := c.RetryWait
	if wait < 0 {
		wait = 0
	}

	rc := retryablehttp.NewClient()
	if c.HTTPClient != nil {
		rc.HTTPClient = c.HTTPClient
	} else {
		rc.HTTPClient.Timeout = DefaultRequestTimeout
	}
	// Attempt logging happens in the hooks below.
	rc.Logger = nil
	rc.RetryMax = attempts - 1
	rc.RetryWaitMin = wait
	rc.RetryWaitMax = wait
	rc.Backoff = FixedBackoff
	rc.CheckRetry = c.retryPolicy(state)
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		state.attempt = attempt + 1
		if attempt > 0 {
			c.logger().Info("retrying catalog request", "endpoint", state.endpoint, "attempt", state.attempt, "max_attempts", attempts)
		}
	}
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp != nil {
			resp.Body.Close()
		}
		if err == nil {
			err = state.lastErr
		}
		return nil, &UnavailableError{Endpoint: state.endpoint, Attempts: numTries, Err: err}
	}
	return rc
}

// retryPolicy retries every failure: transport errors, non-2xx statuses and
// bodies that are not a JSON envelope with a "response" object.
func (c *Client) retryPolicy(state *callState) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		failure := err
		if failure == nil {
			failure = validateResponse(resp)
		}
		if failure == nil {
			return false, nil
		}

		state.lastErr = failure
		c.logger().Warn("catalog request failed",
			"endpoint", state.endpoint,
			"attempt", state.attempt,
			"error", failure,
		)
		return true, nil
	}
}

// validateResponse buffers the body so it can be inspected here and read
// again by Call.
func validateResponse(resp *http.Response) error {
	if resp == nil {
		return errors.New("no response")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}
	response := bytes.TrimSpace(env.Response)
	if len(response) == 0 || response[0] != '{' {
		return errors.New("malformed body: missing response object")
	}
	return nil
}

// FixedBackoff waits min between attempts regardless of the attempt number.
func FixedBackoff(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return min
}

func (c *Client) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
