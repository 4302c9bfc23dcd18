// Package manager owns the resource table and the monitor goroutines, and
// routes user commands to the API client and the credential pool.
//
// A Manager is driven by a single control goroutine. Only the shared store is
// touched by other goroutines.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MrSnakeDoc/tinyman/internal/credentials"
	"github.com/MrSnakeDoc/tinyman/internal/domain"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/monitor"
	"github.com/MrSnakeDoc/tinyman/internal/state"
	"github.com/MrSnakeDoc/tinyman/internal/tinyurl"
)

var (
	ErrNotFound    = errors.New("resource not found")
	ErrNoSelection = errors.New("no resource selected")
)

// LinkClient is the remote side of the manager.
type LinkClient interface {
	Create(ctx context.Context, target string, opts tinyurl.CreateOptions) (*tinyurl.Link, error)
	Update(ctx context.Context, alias, target string, policy tinyurl.UpdatePolicy) (*tinyurl.Link, error)
}

// Options tunes a Manager.
type Options struct {
	// SelfDelete lets a monitor drop its resource after FailureThreshold
	// consecutive failed probes.
	SelfDelete       bool
	FailureThreshold int

	// UpdatePolicy applies to user updates (default: tinyurl.DefaultBackoff()).
	UpdatePolicy tinyurl.UpdatePolicy

	// Failover re-points unreachable resources on synchronization when set.
	Failover FallbackSelector
	// FailoverPolicy applies to failover updates
	// (default: tinyurl.BoundedRetry{Attempts: 3, Timeout: 3s}).
	FailoverPolicy tinyurl.UpdatePolicy
}

// Manager is the orchestrator.
type Manager struct {
	client LinkClient
	pool   *credentials.Pool
	store  *state.Store
	prober monitor.Prober
	opts   Options
	logger logger.Logger

	base       context.Context
	cancelBase context.CancelFunc

	resources map[int]*domain.Resource
	monitors  map[int]*monitor.Monitor
	lastID    int
	selected  int // 0 when nothing is selected
	closed    bool
}

// New creates a manager. Monitors it spawns write into store and probe with
// prober.
func New(client LinkClient, pool *credentials.Pool, store *state.Store, prober monitor.Prober, log logger.Logger, opts Options) *Manager {
	if opts.UpdatePolicy == nil {
		opts.UpdatePolicy = tinyurl.DefaultBackoff()
	}
	if opts.FailoverPolicy == nil {
		opts.FailoverPolicy = tinyurl.BoundedRetry{Attempts: 3, Timeout: 3 * time.Second}
	}

	base, cancel := context.WithCancel(context.Background())

	return &Manager{
		client:     client,
		pool:       pool,
		store:      store,
		prober:     prober,
		opts:       opts,
		logger:     log,
		base:       base,
		cancelBase: cancel,
		resources:  make(map[int]*domain.Resource),
		monitors:   make(map[int]*monitor.Monitor),
	}
}

// Create registers target remotely, starts its monitor and selects it.
// expiresAt may be empty.
func (m *Manager) Create(ctx context.Context, target, expiresAt string) (domain.Resource, error) {
	if m.closed {
		return domain.Resource{}, errors.New("manager is shut down")
	}

	link, err := m.client.Create(ctx, target, tinyurl.CreateOptions{ExpiresAt: expiresAt})
	if err != nil {
		return domain.Resource{}, err
	}

	// Ids are never reused within a session, even after deletion.
	m.lastID++
	id := m.lastID

	res := domain.NewResource(id, link.Alias, link.URL)
	m.resources[id] = res
	m.store.Put(id, state.Entry{
		TargetURL: res.TargetURL,
		Domain:    res.Domain,
		Status:    domain.StatusUnknown,
	})
	m.monitors[id] = monitor.Start(m.base, monitor.Config{
		ID:               id,
		SelfDelete:       m.opts.SelfDelete,
		FailureThreshold: m.opts.FailureThreshold,
	}, m.store, m.prober, m.logger)
	m.selected = id

	m.logger.Info("resource created",
		logger.Int("resource_id", id),
		logger.String("alias", res.Alias),
		logger.String("target", res.TargetURL))

	return *res, nil
}

// Select makes id the current resource.
func (m *Manager) Select(id int) error {
	m.reconcile()

	if _, ok := m.resources[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	m.selected = id
	return nil
}

// Selected returns the current resource id, or 0.
func (m *Manager) Selected() int {
	return m.selected
}

// Delete stops the monitor of id and forgets the resource. The short link
// itself is left untouched on the remote side.
func (m *Manager) Delete(id int) error {
	m.reconcile()

	if _, ok := m.resources[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if mon, ok := m.monitors[id]; ok {
		mon.Stop()
	}

	m.store.Update(func(tx *state.Tx) {
		tx.Delete(id)
		tx.ClearDeletion(id)
		delete(m.resources, id)
		delete(m.monitors, id)
	})

	if m.selected == id {
		m.selected = 0
	}

	m.logger.Info("resource deleted", logger.Int("resource_id", id))
	return nil
}

// Update points resource id at target with the configured update policy and
// mirrors the result into the shared store.
func (m *Manager) Update(ctx context.Context, id int, target string) (domain.Resource, error) {
	m.reconcile()

	res, ok := m.resources[id]
	if !ok {
		return domain.Resource{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if err := m.retarget(ctx, res, target, m.opts.UpdatePolicy); err != nil {
		return domain.Resource{}, err
	}

	m.logger.Info("resource updated",
		logger.Int("resource_id", id),
		logger.String("target", res.TargetURL))

	return *res, nil
}

// UpdateCurrent updates the selected resource.
func (m *Manager) UpdateCurrent(ctx context.Context, target string) (domain.Resource, error) {
	m.reconcile()

	if m.selected == 0 {
		return domain.Resource{}, ErrNoSelection
	}
	return m.Update(ctx, m.selected, target)
}

func (m *Manager) retarget(ctx context.Context, res *domain.Resource, target string, policy tinyurl.UpdatePolicy) error {
	link, err := m.client.Update(ctx, res.Alias, target, policy)
	if err != nil {
		return err
	}

	res.Retarget(link.URL)

	// Re-assert right away so the next monitor cycle starts from the new target.
	m.store.Update(func(tx *state.Tx) {
		e, ok := tx.Get(res.ID)
		if !ok {
			return
		}
		e.TargetURL = res.TargetURL
		e.Domain = res.Domain
		e.Status = domain.StatusUnknown
		e.Failures = 0
		tx.Put(res.ID, e)
	})

	return nil
}

// SetPingInterval changes how often monitors probe, from their next cycle on.
func (m *Manager) SetPingInterval(d time.Duration) error {
	if err := m.store.SetPingInterval(d); err != nil {
		return err
	}
	m.logger.Info("ping interval changed", logger.Duration("interval", d))
	return nil
}

// PingInterval returns the monitor interval.
func (m *Manager) PingInterval() time.Duration {
	return m.store.PingInterval()
}

// TriggerSweep asks every monitor for an immediate probe.
func (m *Manager) TriggerSweep() {
	m.store.TriggerSweep()
	m.logger.Info("sweep triggered", logger.Int("monitors", len(m.monitors)))
}

// List synchronizes and returns every resource ordered by id.
func (m *Manager) List(ctx context.Context) []domain.Resource {
	m.Synchronize(ctx)

	ids := make([]int, 0, len(m.resources))
	for id := range m.resources {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]domain.Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.resources[id])
	}
	return out
}

// Current synchronizes and returns the selected resource.
func (m *Manager) Current(ctx context.Context) (domain.Resource, error) {
	m.Synchronize(ctx)

	if m.selected == 0 {
		return domain.Resource{}, ErrNoSelection
	}
	return *m.resources[m.selected], nil
}

// Running reports whether a monitor is live for id.
func (m *Manager) Running(id int) bool {
	mon, ok := m.monitors[id]
	if !ok {
		return false
	}
	select {
	case <-mon.Done():
		return false
	default:
		return true
	}
}

// RotateCredential advances the pool and returns the new 1-based position.
func (m *Manager) RotateCredential() int {
	m.pool.Advance()
	m.logger.Info("credential rotated", logger.Int("position", m.pool.Position()))
	return m.pool.Position()
}

// SelectCredential selects the credential at the 1-based position pos.
func (m *Manager) SelectCredential(pos int) error {
	if err := m.pool.Select(pos); err != nil {
		return err
	}
	m.logger.Info("credential selected", logger.Int("position", pos))
	return nil
}

// Credentials returns the ordered tokens and the 1-based selected position.
func (m *Manager) Credentials() ([]string, int) {
	return m.pool.Tokens(), m.pool.Position()
}

// Synchronize services monitor-initiated deletions, then pulls every shared
// entry into the resource table. Unreachable resources are re-pointed to a
// fallback when failover is configured.
func (m *Manager) Synchronize(ctx context.Context) {
	m.reconcile()

	snapshot := m.store.Snapshot()
	for id, res := range m.resources {
		e, ok := snapshot[id]
		if !ok {
			continue
		}
		res.TargetURL = e.TargetURL
		res.Domain = e.Domain
		res.Status = e.Status
		res.CheckedAt = e.CheckedAt
	}

	if m.opts.Failover != nil {
		m.failover(ctx)
	}
}

// reconcile removes resources whose monitor terminated itself.
func (m *Manager) reconcile() {
	for _, id := range m.store.TakePendingDeletions() {
		if mon, ok := m.monitors[id]; ok {
			mon.Stop()
		}

		m.store.Update(func(tx *state.Tx) {
			tx.Delete(id)
			delete(m.resources, id)
			delete(m.monitors, id)
		})

		if m.selected == id {
			m.selected = 0
		}

		m.logger.Warn("resource removed after repeated probe failures", logger.Int("resource_id", id))
	}
}

func (m *Manager) failover(ctx context.Context) {
	ids := make([]int, 0, len(m.resources))
	for id, res := range m.resources {
		if res.Status == domain.StatusUnreachable {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		res := m.resources[id]

		target, err := m.opts.Failover.Fallback(ctx, res.TargetURL)
		if err != nil {
			m.logger.Warn("no fallback for unreachable resource",
				logger.Int("resource_id", id),
				logger.Error(err))
			continue
		}

		if err := m.retarget(ctx, res, target, m.opts.FailoverPolicy); err != nil {
			m.logger.Warn("failover update failed",
				logger.Int("resource_id", id),
				logger.String("fallback", target),
				logger.Error(err))
			continue
		}

		m.logger.Info("resource failed over",
			logger.Int("resource_id", id),
			logger.String("target", res.TargetURL))
	}
}

// Shutdown stops and joins every monitor, then clears the shared store.
func (m *Manager) Shutdown() {
	if m.closed {
		return
	}
	m.closed = true

	m.cancelBase()
	for id, mon := range m.monitors {
		mon.Stop()
		delete(m.monitors, id)
	}
	m.store.Reset()

	m.logger.Info("all monitors stopped")
}
