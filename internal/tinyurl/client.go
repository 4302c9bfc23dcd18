// Package tinyurl talks to the TinyURL REST API: alias creation with
// collision handling, retargeting under a caller-chosen retry policy, and the
// alias to credential bindings that updates depend on.
package tinyurl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/tinyman/internal/credentials"
	"github.com/MrSnakeDoc/tinyman/internal/domain"
	"github.com/MrSnakeDoc/tinyman/internal/errs"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/version"
)

const (
	DefaultBaseURL = "https://api.tinyurl.com"

	// InitialAliasLength is the length of the first alias candidate.
	InitialAliasLength = 5

	// linkDomain is the only domain the change endpoint accepts for our links.
	linkDomain = "tinyurl.com"

	// collisionMessage is the remote rejection meaning "alias already taken".
	collisionMessage = "Alias is not available."

	defaultRequestTimeout = 3 * time.Second
	maxResponseBytes      = 1 << 20
)

var ErrAliasNotBound = errors.New("alias has no bound credential")

// Validator is the pre-flight check run on candidate targets.
type Validator interface {
	Validate(ctx context.Context, rawURL string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, rawURL string) error

func (f ValidatorFunc) Validate(ctx context.Context, rawURL string) error { return f(ctx, rawURL) }

// Link is what the remote service reports for an alias.
type Link struct {
	Alias string
	URL   string
}

// CreateOptions tunes a create call.
type CreateOptions struct {
	// ExpiresAt is forwarded verbatim; empty means no expiry.
	ExpiresAt string
	// SkipValidation bypasses the target pre-flight check.
	SkipValidation bool
}

// Client is the resilient TinyURL client.
//
// It reads the credential pool and owns the alias bindings, so like the pool it
// must only be used from the control goroutine.
type Client struct {
	baseURL   string
	http      *retryablehttp.Client
	pool      *credentials.Pool
	validator Validator
	limiter   *rate.Limiter
	timeout   time.Duration
	newAlias  func(n int) (string, error)
	logger    logger.Logger

	bindings map[string]string
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit paces remote calls client side. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRequestTimeout bounds each create call.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAliasGenerator replaces the random alias source.
func WithAliasGenerator(fn func(n int) (string, error)) Option {
	return func(c *Client) { c.newAlias = fn }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http.HTTPClient = hc }
}

// NewClient creates a client over pool. validator may be nil when every call
// skips validation.
func NewClient(baseURL string, pool *credentials.Pool, validator Validator, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      retryablehttp.NewClient(),
		pool:      pool,
		validator: validator,
		timeout:   defaultRequestTimeout,
		newAlias:  NewAlias,
		logger:    logger.Nop(),
		bindings:  make(map[string]string),
	}

	// Retries belong to the caller's policy, never to the transport.
	c.http.RetryMax = 0
	c.http.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	c.http.ErrorHandler = retryablehttp.PassthroughErrorHandler

	for _, opt := range opts {
		opt(c)
	}
	c.http.Logger = logger.NewLeveled(c.logger)

	return c
}

// Binding returns the credential that created alias.
func (c *Client) Binding(alias string) (string, bool) {
	token, ok := c.bindings[alias]
	return token, ok
}

// Create registers a new short link for target under a fresh random alias.
//
// Alias collisions are retried with a longer alias until the service accepts
// one or rejects the request for another reason. Every other failure is
// returned immediately.
func (c *Client) Create(ctx context.Context, target string, opts CreateOptions) (*Link, error) {
	target = domain.NormalizeURL(target)

	if !opts.SkipValidation {
		if err := c.validate(ctx, target); err != nil {
			return nil, err
		}
	}

	token := c.pool.Current()
	for length := InitialAliasLength; ; length++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		alias, err := c.newAlias(length)
		if err != nil {
			return nil, fmt.Errorf("generate alias: %w", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		link, err := c.exchange(attemptCtx, "create", http.MethodPost, "/create", token, createRequest{
			URL:       target,
			Alias:     alias,
			ExpiresAt: expiresAt(opts.ExpiresAt),
		})
		cancel()

		var remote *errs.RemoteError
		switch {
		case err == nil:
			c.bindings[link.Alias] = token
			c.logger.Info("short link created",
				logger.String("alias", link.Alias),
				logger.String("target", link.URL))
			return link, nil
		case errors.As(err, &remote) && isCollision(remote):
			c.logger.Debug("alias collision, retrying with a longer alias",
				logger.String("alias", alias),
				logger.Int("next_length", length+1))
			continue
		case errors.As(err, &remote):
			return nil, &errs.CreationError{RemoteError: *remote}
		default:
			return nil, err
		}
	}
}

// Update points alias at target using the credential that created it.
// The policy decides how failures are retried.
func (c *Client) Update(ctx context.Context, alias, target string, policy UpdatePolicy) (*Link, error) {
	token, ok := c.bindings[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAliasNotBound, alias)
	}

	target = domain.NormalizeURL(target)
	if policy == nil {
		policy = DefaultBackoff()
	}

	if policy.validatesTarget() {
		if err := c.validate(ctx, target); err != nil {
			return nil, err
		}
	}

	var link *Link
	err := policy.execute(ctx, c.logger, func(attemptCtx context.Context) error {
		l, err := c.exchange(attemptCtx, "update", http.MethodPatch, "/change", token, changeRequest{
			Domain: linkDomain,
			URL:    target,
			Alias:  alias,
		})
		var remote *errs.RemoteError
		if errors.As(err, &remote) {
			return &errs.UpdateError{RemoteError: *remote}
		}
		if err != nil {
			return err
		}
		link = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("short link updated",
		logger.String("alias", alias),
		logger.String("target", link.URL))
	return link, nil
}

func (c *Client) validate(ctx context.Context, target string) error {
	if c.validator == nil {
		return nil
	}
	if err := c.validator.Validate(ctx, target); err != nil {
		return &errs.ValidationError{URL: target, Err: err}
	}
	return nil
}

type createRequest struct {
	URL       string  `json:"url"`
	Alias     string  `json:"alias"`
	ExpiresAt *string `json:"expires_at"`
}

type changeRequest struct {
	Domain string `json:"domain"`
	URL    string `json:"url"`
	Alias  string `json:"alias"`
}

// envelope is the response shape of both endpoints. On failure the service
// sends data as an empty array, so it is decoded lazily.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []string        `json:"errors"`
}

type linkData struct {
	Alias string `json:"alias"`
	URL   string `json:"url"`
}

func expiresAt(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func isCollision(e *errs.RemoteError) bool {
	for _, msg := range e.Errors {
		if strings.EqualFold(strings.TrimSpace(msg), collisionMessage) {
			return true
		}
	}
	return false
}

// exchange performs one remote call without any retry. A structured rejection
// comes back as *errs.RemoteError, a timeout as *errs.NetworkError and every
// other failure as *errs.RequestError.
func (c *Client) exchange(ctx context.Context, op, method, path, token string, payload any) (*Link, error) {
	endpoint := c.baseURL + path

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &errs.RequestError{Message: "encode request", URL: endpoint, Err: err}
	}

	if c.limiter != nil {
		// Wait fails when the deadline would pass before a token frees up.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &errs.NetworkError{Op: op, Err: fmt.Errorf("%w: %v", context.DeadlineExceeded, err)}
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &errs.RequestError{Message: "build request", URL: endpoint, Err: err}
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		if errs.IsTimeout(err) {
			return nil, &errs.NetworkError{Op: op, Err: err}
		}
		return nil, &errs.RequestError{Message: "request failed", URL: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errs.IsTimeout(err) {
			return nil, &errs.NetworkError{Op: op, Err: err}
		}
		return nil, &errs.RequestError{Message: "read response", URL: endpoint, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		remote := &errs.RemoteError{StatusCode: resp.StatusCode, Errors: env.Errors}
		if decodeErr != nil || len(remote.Errors) == 0 {
			remote.Errors = []string{http.StatusText(resp.StatusCode)}
		}
		c.logger.Debug("remote rejected request",
			logger.String("op", op),
			logger.Int("status", resp.StatusCode),
			logger.Any("errors", remote.Errors))
		return nil, remote
	}

	if decodeErr != nil {
		return nil, &errs.RequestError{Message: "unparsable response", URL: endpoint, Err: decodeErr}
	}

	var data linkData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Alias == "" {
		if err == nil {
			err = errors.New("missing alias")
		}
		return nil, &errs.RequestError{Message: "unparsable response", URL: endpoint, Err: err}
	}

	return &Link{Alias: data.Alias, URL: domain.NormalizeURL(data.URL)}, nil
}

func (c *Client) setHeaders(req *retryablehttp.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-ID", uuid.NewString())
}
