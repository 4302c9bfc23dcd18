package tinyurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/tinyman/internal/credentials"
	"github.com/MrSnakeDoc/tinyman/internal/errs"
	"github.com/MrSnakeDoc/tinyman/internal/version"
)

type call struct {
	Method  string
	Path    string
	Header  http.Header
	Payload map[string]any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeAPI) record(r *http.Request) call {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	c := call{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Payload: payload}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return c
}

func (f *fakeAPI) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// newFakeAPI serves respond(n, call) where n is the 1-based call number.
func newFakeAPI(t *testing.T, respond func(w http.ResponseWriter, r *http.Request, n int, c call)) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := api.record(r)
		respond(w, r, len(api.Calls()), c)
	}))
	t.Cleanup(ts.Close)
	return api, ts
}

func writeLink(w http.ResponseWriter, alias, url string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   map[string]any{"alias": alias, "url": url, "tiny_url": "https://tinyurl.com/" + alias},
		"code":   0,
		"errors": []string{},
	})
}

func writeErrors(w http.ResponseWriter, status int, msgs ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}, "code": 5, "errors": msgs})
}

func echoLink(w http.ResponseWriter, _ *http.Request, _ int, c call) {
	writeLink(w, fmt.Sprint(c.Payload["alias"]), fmt.Sprint(c.Payload["url"]))
}

func hang(w http.ResponseWriter, r *http.Request, _ int, _ call) {
	select {
	case <-r.Context().Done():
	case <-time.After(2 * time.Second):
	}
}

func newPool(t *testing.T, tokens ...string) *credentials.Pool {
	t.Helper()
	if len(tokens) == 0 {
		tokens = []string{"T1", "T2"}
	}
	p, err := credentials.New(tokens)
	require.NoError(t, err)
	return p
}

var accept = ValidatorFunc(func(context.Context, string) error { return nil })

var reject = ValidatorFunc(func(_ context.Context, raw string) error {
	return &errs.RequestError{Message: "HTTP 404 Not Found", URL: raw}
})

func TestCreate_SingleCollisionGrowsAlias(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request, n int, c call) {
		if len(fmt.Sprint(c.Payload["alias"])) == InitialAliasLength {
			writeErrors(w, http.StatusUnprocessableEntity, "Alias is not available.")
			return
		}
		echoLink(w, r, n, c)
	})

	client := NewClient(ts.URL, newPool(t), accept)
	link, err := client.Create(context.Background(), "example.com", CreateOptions{})
	require.NoError(t, err)

	assert.Len(t, link.Alias, InitialAliasLength+1)
	assert.Equal(t, "https://example.com", link.URL)

	calls := api.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0].Payload["alias"], 5)
	assert.Len(t, calls[1].Payload["alias"], 6)

	token, ok := client.Binding(link.Alias)
	require.True(t, ok)
	assert.Equal(t, "T1", token)
}

func TestCreate_NeverReturnsCollision(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request, n int, c call) {
		if len(fmt.Sprint(c.Payload["alias"])) < 9 {
			writeErrors(w, http.StatusUnprocessableEntity, "alias is not available.")
			return
		}
		echoLink(w, r, n, c)
	})

	link, err := NewClient(ts.URL, newPool(t), nil).
		Create(context.Background(), "https://example.com", CreateOptions{SkipValidation: true})
	require.NoError(t, err)
	assert.Len(t, link.Alias, 9)
	assert.Len(t, api.Calls(), 5)
}

func TestCreate_RemoteErrorIsCreationError(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int, _ call) {
		writeErrors(w, http.StatusUnauthorized, "Unauthenticated.", "Token revoked.")
	})

	client := NewClient(ts.URL, newPool(t), accept)
	_, err := client.Create(context.Background(), "example.com", CreateOptions{})

	var createErr *errs.CreationError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, http.StatusUnauthorized, createErr.StatusCode)
	assert.Equal(t, []string{"Unauthenticated.", "Token revoked."}, createErr.Errors)
	assert.Len(t, api.Calls(), 1)
}

func TestCreate_ValidationRunsFirst(t *testing.T) {
	api, ts := newFakeAPI(t, echoLink)

	client := NewClient(ts.URL, newPool(t), reject)
	_, err := client.Create(context.Background(), "example.com", CreateOptions{})

	var valErr *errs.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "https://example.com", valErr.URL)
	assert.Empty(t, api.Calls())

	_, err = client.Create(context.Background(), "example.com", CreateOptions{SkipValidation: true})
	require.NoError(t, err)
	assert.Len(t, api.Calls(), 1)
}

func TestCreate_TimeoutIsNotRetried(t *testing.T) {
	api, ts := newFakeAPI(t, hang)

	client := NewClient(ts.URL, newPool(t), nil, WithRequestTimeout(30*time.Millisecond))
	_, err := client.Create(context.Background(), "example.com", CreateOptions{SkipValidation: true})

	var netErr *errs.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Len(t, api.Calls(), 1)
}

func TestCreate_TransportFailureIsRequestError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", newPool(t), nil)
	_, err := client.Create(context.Background(), "example.com", CreateOptions{SkipValidation: true})

	var reqErr *errs.RequestError
	require.ErrorAs(t, err, &reqErr)
}

func TestCreate_UnparsableSuccessIsRequestError(t *testing.T) {
	_, ts := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int, _ call) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})

	_, err := NewClient(ts.URL, newPool(t), nil).
		Create(context.Background(), "example.com", CreateOptions{SkipValidation: true})

	var reqErr *errs.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "unparsable response", reqErr.Message)
}

func TestCreate_RequestShape(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int, _ call) {
		// The service sometimes drops the scheme.
		writeLink(w, "fixed", "example.com/landing")
	})

	client := NewClient(ts.URL, newPool(t), nil,
		WithAliasGenerator(func(n int) (string, error) { return strings.Repeat("a", n), nil }))

	link, err := client.Create(context.Background(), "example.com/landing", CreateOptions{SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/landing", link.URL)

	link2, err := client.Create(context.Background(), "example.com", CreateOptions{
		SkipValidation: true,
		ExpiresAt:      "2030-01-01 00:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed", link2.Alias)

	calls := api.Calls()
	require.Len(t, calls, 2)

	first := calls[0]
	assert.Equal(t, http.MethodPost, first.Method)
	assert.Equal(t, "/create", first.Path)
	assert.Equal(t, "aaaaa", first.Payload["alias"])
	assert.Equal(t, "https://example.com/landing", first.Payload["url"])
	require.Contains(t, first.Payload, "expires_at")
	assert.Nil(t, first.Payload["expires_at"])

	assert.Equal(t, "Bearer T1", first.Header.Get("Authorization"))
	assert.Equal(t, "application/json", first.Header.Get("Content-Type"))
	assert.Equal(t, version.UserAgent(), first.Header.Get("User-Agent"))
	_, err = uuid.Parse(first.Header.Get("X-Request-ID"))
	assert.NoError(t, err)

	assert.Equal(t, "2030-01-01 00:00:00", calls[1].Payload["expires_at"])
	assert.NotEqual(t, first.Header.Get("X-Request-ID"), calls[1].Header.Get("X-Request-ID"))
}

func TestUpdate_UsesBoundCredential(t *testing.T) {
	api, ts := newFakeAPI(t, echoLink)

	pool := newPool(t)
	client := NewClient(ts.URL, pool, accept)

	link, err := client.Create(context.Background(), "example.com", CreateOptions{})
	require.NoError(t, err)

	pool.Advance()
	require.Equal(t, "T2", pool.Current())

	updated, err := client.Update(context.Background(), link.Alias, "other.ext", DefaultBackoff())
	require.NoError(t, err)
	assert.Equal(t, "https://other.ext", updated.URL)

	calls := api.Calls()
	require.Len(t, calls, 2)
	change := calls[1]
	assert.Equal(t, http.MethodPatch, change.Method)
	assert.Equal(t, "/change", change.Path)
	assert.Equal(t, "Bearer T1", change.Header.Get("Authorization"))
	assert.Equal(t, "tinyurl.com", change.Payload["domain"])
	assert.Equal(t, link.Alias, change.Payload["alias"])
	assert.Equal(t, "https://other.ext", change.Payload["url"])
}

func TestUpdate_UnboundAlias(t *testing.T) {
	api, ts := newFakeAPI(t, echoLink)

	_, err := NewClient(ts.URL, newPool(t), accept).
		Update(context.Background(), "nope", "example.com", BoundedRetry{Attempts: 3})
	require.ErrorIs(t, err, ErrAliasNotBound)
	assert.Empty(t, api.Calls())
}

// bind creates alias on client through a throwaway server.
func bind(t *testing.T, client *Client, alias string) {
	t.Helper()
	_, ts := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int, _ call) {
		writeLink(w, alias, "https://example.com")
	})
	baseURL := client.baseURL
	client.baseURL = ts.URL
	_, err := client.Create(context.Background(), "example.com", CreateOptions{SkipValidation: true})
	require.NoError(t, err)
	client.baseURL = baseURL
}

func TestBoundedRetry_ExhaustsBudget(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, n int, _ call) {
		writeErrors(w, http.StatusUnprocessableEntity, fmt.Sprintf("rejected attempt %d", n))
	})

	client := NewClient(ts.URL, newPool(t), reject)
	bind(t, client, "abcde")

	_, err := client.Update(context.Background(), "abcde", "example.com", BoundedRetry{Attempts: 3, Timeout: time.Second})

	var updErr *errs.UpdateError
	require.ErrorAs(t, err, &updErr)
	assert.Equal(t, []string{"rejected attempt 3"}, updErr.Errors)
	assert.Equal(t, http.StatusUnprocessableEntity, updErr.StatusCode)
	assert.Len(t, api.Calls(), 3, "bounded retry skips validation and makes exactly 3 calls")
}

func TestBoundedRetry_RecoversWithinBudget(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request, n int, c call) {
		if n == 1 {
			writeErrors(w, http.StatusInternalServerError, "try again")
			return
		}
		echoLink(w, r, n, c)
	})

	client := NewClient(ts.URL, newPool(t), nil)
	bind(t, client, "abcde")

	link, err := client.Update(context.Background(), "abcde", "example.com", BoundedRetry{Attempts: 3})
	require.NoError(t, err)
	assert.Equal(t, "abcde", link.Alias)
	assert.Len(t, api.Calls(), 2)
}

func TestBoundedRetry_TimeoutFailsImmediately(t *testing.T) {
	api, ts := newFakeAPI(t, hang)

	client := NewClient(ts.URL, newPool(t), nil)
	bind(t, client, "abcde")

	_, err := client.Update(context.Background(), "abcde", "example.com",
		BoundedRetry{Attempts: 3, Timeout: 30 * time.Millisecond})

	var netErr *errs.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Len(t, api.Calls(), 1)
}

func TestBoundedRetry_ZeroBudgetCallsOnce(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int, _ call) {
		writeErrors(w, http.StatusBadRequest, "nope")
	})

	client := NewClient(ts.URL, newPool(t), nil)
	bind(t, client, "abcde")

	_, err := client.Update(context.Background(), "abcde", "example.com", BoundedRetry{})
	var updErr *errs.UpdateError
	require.ErrorAs(t, err, &updErr)
	assert.Len(t, api.Calls(), 1)
}

func TestBackoff_RetriesTimeouts(t *testing.T) {
	api, ts := newFakeAPI(t, hang)

	client := NewClient(ts.URL, newPool(t), accept)
	bind(t, client, "abcde")

	const unit = 40 * time.Millisecond
	start := time.Now()
	_, err := client.Update(context.Background(), "abcde", "example.com",
		Backoff{Attempts: 3, Initial: unit, Timeout: 10 * time.Millisecond})
	elapsed := time.Since(start)

	var netErr *errs.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Len(t, api.Calls(), 3)

	// Waits of 1 and 2 units plus three short attempts.
	assert.GreaterOrEqual(t, elapsed, 3*unit)
	assert.Less(t, elapsed, 3*unit+time.Second)
}

func TestBackoff_RemoteErrorIsNotRetried(t *testing.T) {
	api, ts := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int, _ call) {
		writeErrors(w, http.StatusForbidden, "You do not own this alias.")
	})

	client := NewClient(ts.URL, newPool(t), accept)
	bind(t, client, "abcde")

	_, err := client.Update(context.Background(), "abcde", "example.com", DefaultBackoff())

	var updErr *errs.UpdateError
	require.ErrorAs(t, err, &updErr)
	assert.Equal(t, []string{"You do not own this alias."}, updErr.Errors)
	assert.Len(t, api.Calls(), 1)
}

func TestBackoff_ValidatesTarget(t *testing.T) {
	api, ts := newFakeAPI(t, echoLink)

	client := NewClient(ts.URL, newPool(t), reject)
	bind(t, client, "abcde")

	_, err := client.Update(context.Background(), "abcde", "example.com", DefaultBackoff())

	var valErr *errs.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Empty(t, api.Calls())
}

func TestBackoff_CancelledWhileWaiting(t *testing.T) {
	_, ts := newFakeAPI(t, hang)

	client := NewClient(ts.URL, newPool(t), nil)
	bind(t, client, "abcde")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Update(ctx, "abcde", "example.com",
		Backoff{Attempts: 3, Initial: time.Hour, Timeout: 10 * time.Millisecond})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRateLimit_PacesCalls(t *testing.T) {
	api, ts := newFakeAPI(t, echoLink)

	client := NewClient(ts.URL, newPool(t), nil, WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Create(context.Background(), "example.com", CreateOptions{SkipValidation: true})
		require.NoError(t, err)
	}

	assert.Len(t, api.Calls(), 3)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestNewAlias(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		a, err := NewAlias(8)
		require.NoError(t, err)
		require.Len(t, a, 8)
		for _, r := range a {
			assert.True(t, strings.ContainsRune(aliasCharset, r))
		}
		seen[a] = true
	}
	assert.Greater(t, len(seen), 45)

	_, err := NewAlias(0)
	assert.Error(t, err)
}
