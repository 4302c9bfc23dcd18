package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/tinyman/internal/state"
)

// DefaultEntryTTL bounds how long a mirrored entry outlives its process.
const DefaultEntryTTL = 48 * time.Hour

// Mirror copies shared state entries into Redis so external dashboards can
// read them. It is write-only: nothing is read back on startup.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror creates a mirror over client.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{
		client: client,
		ttl:    DefaultEntryTTL,
	}
}

// EntryPut implements state.Observer.
func (m *Mirror) EntryPut(ctx context.Context, id int, e state.Entry) error {
	key := ResourceKey(id)

	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, entryFields(id, e))
		pipe.Expire(ctx, key, m.ttl)
		pipe.SAdd(ctx, AllResourcesKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror resource %d: %w", id, err)
	}

	return nil
}

// EntryDeleted implements state.Observer.
func (m *Mirror) EntryDeleted(ctx context.Context, id int) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ResourceKey(id))
		pipe.SRem(ctx, AllResourcesKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove mirrored resource %d: %w", id, err)
	}

	return nil
}

// Ping reports whether Redis answers.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func entryFields(id int, e state.Entry) map[string]any {
	checkedAt := ""
	if !e.CheckedAt.IsZero() {
		checkedAt = e.CheckedAt.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"id":         strconv.Itoa(id),
		"target_url": e.TargetURL,
		"domain":     e.Domain,
		"status":     e.Status.String(),
		"failures":   strconv.Itoa(e.Failures),
		"checked_at": checkedAt,
	}
}
