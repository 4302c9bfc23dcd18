package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/MrSnakeDoc/tinyman/internal/errs"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
)

// ErrUnhealthy is returned by Probe when the target answered with an error status.
var ErrUnhealthy = errors.New("target answered with an error status")

// Options tunes the prober.
type Options struct {
	Timeout      time.Duration // per request (default: 3s)
	Retries      int           // extra attempts for monitor probes (default: 0)
	RetryWaitMin time.Duration // default: 200ms
	RetryWaitMax time.Duration // default: 2s
}

// Result describes where a probe landed after following redirects.
type Result struct {
	StatusCode int
	FinalURL   string
	Host       string
	Latency    time.Duration
}

// Prober issues lightweight HEAD requests against redirect targets.
// Validate never retries; Probe retries transient failures per Options.
type Prober struct {
	once   *retryablehttp.Client
	retry  *retryablehttp.Client
	logger logger.Logger
}

// New creates a prober.
func New(opts Options, log logger.Logger) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 200 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 2 * time.Second
	}

	once := newHTTPClient(opts, log)
	once.RetryMax = 0
	once.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}

	retry := newHTTPClient(opts, log)
	retry.RetryMax = opts.Retries

	return &Prober{
		once:   once,
		retry:  retry,
		logger: log,
	}
}

func newHTTPClient(opts Options, log logger.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = opts.Timeout
	c.RetryWaitMin = opts.RetryWaitMin
	c.RetryWaitMax = opts.RetryWaitMax
	c.Logger = logger.NewLeveled(log)
	// Hand the last response back instead of a "giving up" error.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// Validate is the pre-flight check for a candidate redirect target.
//
// The probe follows redirects. When it lands on a different host than the one
// requested, the target is accepted as is: redirects are expected. Otherwise
// an error status yields a RequestError and a timeout a NetworkError.
func (p *Prober) Validate(ctx context.Context, rawURL string) error {
	target, err := ParseTarget(rawURL)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return &errs.RequestError{Message: "incorrect url format", URL: rawURL, Err: err}
	}

	resp, err := p.once.Do(req)
	if err != nil {
		if errs.IsTimeout(err) {
			return &errs.NetworkError{Op: "validate", Err: err}
		}
		return &errs.RequestError{Message: "unknown url", URL: rawURL, Err: err}
	}
	defer drain(resp)

	if final := finalURL(resp); final != nil && final.Host != target.Host {
		p.logger.Debug("target redirects to another host, accepting",
			logger.String("url", rawURL),
			logger.String("final_host", final.Host))
		return nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &errs.RequestError{
			Message: fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			URL:     rawURL,
		}
	}

	return nil
}

// Probe checks that rawURL is reachable and reports where it resolved to.
// Transport errors are returned as is; an error status wraps ErrUnhealthy.
func (p *Prober) Probe(ctx context.Context, rawURL string) (Result, error) {
	target, err := ParseTarget(rawURL)
	if err != nil {
		return Result{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return Result{}, &errs.RequestError{Message: "incorrect url format", URL: rawURL, Err: err}
	}

	start := time.Now()
	resp, err := p.retry.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	defer drain(resp)

	res := Result{
		StatusCode: resp.StatusCode,
		FinalURL:   target.String(),
		Host:       target.Hostname(),
		Latency:    time.Since(start),
	}
	if final := finalURL(resp); final != nil {
		res.FinalURL = final.String()
		res.Host = final.Hostname()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return res, fmt.Errorf("%w: HTTP %d", ErrUnhealthy, resp.StatusCode)
	}

	return res, nil
}

// ParseTarget accepts absolute http(s) URLs only.
func ParseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &errs.RequestError{Message: "incorrect url format", URL: rawURL, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &errs.RequestError{Message: "incorrect url format", URL: rawURL}
	}
	return u, nil
}

func finalURL(resp *http.Response) *url.URL {
	if resp.Request == nil {
		return nil
	}
	return resp.Request.URL
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close() // Ignore close errors in probe context
}
