package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/tinyman/internal/domain"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/state"
)

type capture struct {
	subjects []string
	events   []Event
	err      error
}

func (c *capture) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.subjects = append(c.subjects, subject)
	c.events = append(c.events, ev)
	return nil
}

func TestPublisher_PublishesChangesOnly(t *testing.T) {
	c := &capture{}
	p := newPublisher(c, "tinyman.status")
	ctx := context.Background()

	up := state.Entry{TargetURL: "https://a.ext", Domain: "a.ext", Status: domain.StatusUp, CheckedAt: time.Now()}
	require.NoError(t, p.EntryPut(ctx, 1, up))
	require.NoError(t, p.EntryPut(ctx, 1, up))

	down := up
	down.Status = domain.StatusUnreachable
	require.NoError(t, p.EntryPut(ctx, 1, down))
	require.NoError(t, p.EntryDeleted(ctx, 1))

	require.Len(t, c.events, 3)
	assert.Equal(t, []string{"tinyman.status", "tinyman.status", "tinyman.status"}, c.subjects)
	assert.Equal(t, "up", c.events[0].Status)
	assert.Equal(t, "unreachable", c.events[1].Status)
	assert.Equal(t, Event{ID: 1, Deleted: true}, c.events[2])

	// After deletion the id starts fresh.
	require.NoError(t, p.EntryPut(ctx, 1, down))
	assert.Len(t, c.events, 4)
}

func TestPublisher_PropagatesErrors(t *testing.T) {
	p := newPublisher(&capture{err: errors.New("nats: connection closed")}, "s")
	err := p.EntryDeleted(context.Background(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish s")
	assert.NoError(t, p.Close())
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "s", logger.Nop())
	require.Error(t, err)
}
