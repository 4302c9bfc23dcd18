package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/tinyman/internal/credentials"
	"github.com/MrSnakeDoc/tinyman/internal/domain"
	"github.com/MrSnakeDoc/tinyman/internal/errs"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/manager"
	"github.com/MrSnakeDoc/tinyman/internal/probe"
	"github.com/MrSnakeDoc/tinyman/internal/state"
	"github.com/MrSnakeDoc/tinyman/internal/tinyurl"
)

type stubClient struct {
	created   int
	createErr error
}

func (c *stubClient) Create(_ context.Context, target string, _ tinyurl.CreateOptions) (*tinyurl.Link, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created++
	return &tinyurl.Link{Alias: fmt.Sprintf("al%d", c.created), URL: domain.NormalizeURL(target)}, nil
}

func (c *stubClient) Update(_ context.Context, alias, target string, _ tinyurl.UpdatePolicy) (*tinyurl.Link, error) {
	return &tinyurl.Link{Alias: alias, URL: domain.NormalizeURL(target)}, nil
}

type idleProber struct{}

func (idleProber) Probe(ctx context.Context, _ string) (probe.Result, error) {
	<-ctx.Done()
	return probe.Result{}, ctx.Err()
}

func newShell(t *testing.T, client manager.LinkClient, input string) (*Shell, *manager.Manager, *bytes.Buffer) {
	t.Helper()

	pool, err := credentials.New([]string{"token-one-1111", "token-two-2222"})
	require.NoError(t, err)
	store, err := state.NewStore(time.Hour, logger.Nop())
	require.NoError(t, err)

	mgr := manager.New(client, pool, store, idleProber{}, logger.Nop(), manager.Options{})
	t.Cleanup(mgr.Shutdown)

	out := &bytes.Buffer{}
	return New(mgr, strings.NewReader(input), out, logger.Nop()), mgr, out
}

func exec(t *testing.T, s *Shell, line string) error {
	t.Helper()
	quit, err := s.Exec(context.Background(), line)
	assert.False(t, quit)
	return err
}

func TestExec_CreateSelectDelete(t *testing.T) {
	s, mgr, out := newShell(t, &stubClient{}, "")

	require.NoError(t, exec(t, s, "new a.ext"))
	require.NoError(t, exec(t, s, "new https://b.ext 2030-01-01"))
	assert.Contains(t, out.String(), "resource 1 created: https://tinyurl.com/al1 -> https://a.ext")
	assert.Equal(t, 2, mgr.Selected())

	require.NoError(t, exec(t, s, "select #1"))
	assert.Equal(t, 1, mgr.Selected())

	require.NoError(t, exec(t, s, "del 1"))
	assert.Contains(t, out.String(), "resource 1 unselected")
	assert.Zero(t, mgr.Selected())
	assert.Len(t, mgr.List(context.Background()), 1)
}

func TestExec_UpdateNeedsSelection(t *testing.T) {
	s, _, _ := newShell(t, &stubClient{}, "")

	err := exec(t, s, "update c.ext")
	assert.ErrorIs(t, err, manager.ErrNoSelection)

	require.NoError(t, exec(t, s, "new a.ext"))
	require.NoError(t, exec(t, s, "update c.ext"))
}

func TestExec_InputErrors(t *testing.T) {
	s, _, _ := newShell(t, &stubClient{}, "")

	for _, line := range []string{"new", "select", "select x", "delete", "update", "token", "delay", "delay 5h", "delay 0", "bogus"} {
		err := exec(t, s, line)
		var inErr *InputError
		assert.ErrorAs(t, err, &inErr, line)
	}
}

func TestExec_UnknownIDs(t *testing.T) {
	s, _, _ := newShell(t, &stubClient{}, "")

	assert.ErrorIs(t, exec(t, s, "select 4"), manager.ErrNotFound)
	assert.ErrorIs(t, exec(t, s, "del 4"), manager.ErrNotFound)
	assert.ErrorIs(t, exec(t, s, "current"), manager.ErrNoSelection)
}

func TestExec_Credentials(t *testing.T) {
	s, mgr, out := newShell(t, &stubClient{}, "")

	require.NoError(t, exec(t, s, "tokens"))
	assert.Contains(t, out.String(), "**********1111")
	assert.NotContains(t, out.String(), "token-one-1111")

	require.NoError(t, exec(t, s, "next"))
	_, pos := mgr.Credentials()
	assert.Equal(t, 2, pos)

	require.NoError(t, exec(t, s, "token 1"))
	_, pos = mgr.Credentials()
	assert.Equal(t, 1, pos)

	assert.ErrorIs(t, exec(t, s, "token 3"), credentials.ErrOutOfRange)
}

func TestExec_DelayAndPing(t *testing.T) {
	s, mgr, _ := newShell(t, &stubClient{}, "")

	require.NoError(t, exec(t, s, "delay 30"))
	assert.Equal(t, 30*time.Second, mgr.PingInterval())
	require.NoError(t, exec(t, s, "delay 2m"))
	assert.Equal(t, 2*time.Minute, mgr.PingInterval())

	require.NoError(t, exec(t, s, "ping"))
}

func TestExec_ListAndInfo(t *testing.T) {
	s, _, out := newShell(t, &stubClient{}, "")

	require.NoError(t, exec(t, s, "list"))
	assert.Contains(t, out.String(), "no resources")

	require.NoError(t, exec(t, s, "new a.ext"))
	out.Reset()
	require.NoError(t, exec(t, s, "info"))
	assert.Contains(t, out.String(), "https://tinyurl.com/al1")
	assert.Contains(t, out.String(), "running")
	assert.Contains(t, out.String(), "ping interval is 1h0m0s")
}

func TestRun_PrintsErrorsAndContinues(t *testing.T) {
	client := &stubClient{createErr: &errs.CreationError{RemoteError: errs.RemoteError{
		Errors: []string{"Invalid token."}, StatusCode: 401,
	}}}
	s, _, out := newShell(t, client, "new a.ext\nfoo\nhelp\nexit\nnew never.ext\n")

	require.NoError(t, s.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Invalid token.")
	assert.Contains(t, text, `invalid input: "foo"`)
	assert.Contains(t, text, "delay <n>[m]")
	assert.NotContains(t, text, "never.ext")
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _, _ := newShell(t, &stubClient{}, "")
	s.in = blockingReader{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shell did not stop on cancellation")
	}
}

func TestParseDelay(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30", 30 * time.Second, true},
		{"2m", 2 * time.Minute, true},
		{"0", 0, false},
		{"m", 0, false},
		{"5s", 0, false},
		{"-3", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseDelay(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }
