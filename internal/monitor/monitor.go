package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrSnakeDoc/tinyman/internal/domain"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/probe"
	"github.com/MrSnakeDoc/tinyman/internal/state"
)

// DefaultFailureThreshold is the number of consecutive failed probes after
// which a self-deleting monitor gives up.
const DefaultFailureThreshold = 3

// Prober checks a redirect target.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (probe.Result, error)
}

// Config describes one monitor.
type Config struct {
	ID               int
	SelfDelete       bool
	FailureThreshold int
}

// Monitor polls the target of one resource and writes what it sees into the
// shared store. It never talks to the remote API.
type Monitor struct {
	cfg    Config
	store  *state.Store
	prober Prober
	logger logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the monitor goroutine for cfg.ID. The store entry for that id
// must already be seeded.
func Start(ctx context.Context, cfg Config, store *state.Store, prober Prober, log logger.Logger) *Monitor {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		cfg:    cfg,
		store:  store,
		prober: prober,
		logger: log.With(logger.Int("resource_id", cfg.ID)),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go m.run(ctx)

	return m
}

// ID returns the monitored resource id.
func (m *Monitor) ID() int {
	return m.cfg.ID
}

// Stop cancels the monitor and waits for it to exit. Any in-flight probe is
// abandoned. Safe to call more than once.
func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
}

// Done is closed once the monitor goroutine has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.logger.Debug("monitor started")

	for {
		// Both knobs are re-read every cycle so changes apply on the next one.
		sweep := m.store.SweepSignal()
		timer := time.NewTimer(m.store.PingInterval())

		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Debug("monitor stopped")
			return
		case <-sweep:
			timer.Stop()
			m.logger.Debug("sweep requested")
		case <-timer.C:
		}

		if !m.check(ctx) {
			return
		}
	}
}

// check runs one probe cycle and reports whether the monitor should keep going.
func (m *Monitor) check(ctx context.Context) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("probe cycle panicked", logger.Any("panic", r))
			m.markUnreachable(fmt.Errorf("panic: %v", r))
			keep = ctx.Err() == nil
		}
	}()

	entry, ok := m.store.Get(m.cfg.ID)
	if !ok {
		m.logger.Debug("entry gone, monitor exiting")
		return false
	}

	res, err := m.prober.Probe(ctx, entry.TargetURL)
	if ctx.Err() != nil {
		return false
	}

	return m.record(entry.TargetURL, res, err)
}

func (m *Monitor) record(probed string, res probe.Result, probeErr error) (keep bool) {
	keep = true
	var (
		prev, next domain.Status
		terminal   bool
	)

	m.store.Update(func(tx *state.Tx) {
		cur, ok := tx.Get(m.cfg.ID)
		if !ok {
			keep = false
			return
		}
		if cur.TargetURL != probed {
			// Retargeted while probing; this result is stale.
			return
		}

		prev = cur.Status
		cur.CheckedAt = time.Now()

		switch {
		case probeErr != nil:
			cur.Status = domain.StatusUnreachable
			cur.Failures++
			if m.cfg.SelfDelete && cur.Failures >= m.cfg.FailureThreshold {
				tx.Delete(m.cfg.ID)
				tx.RequestDeletion(m.cfg.ID)
				terminal = true
				keep = false
				return
			}
		case res.Host != "" && !strings.EqualFold(res.Host, cur.Domain):
			cur.Status = domain.StatusRedirected
			cur.TargetURL = res.FinalURL
			cur.Domain = res.Host
			cur.Failures = 0
		default:
			cur.Status = domain.StatusUp
			cur.Failures = 0
		}

		next = cur.Status
		tx.Put(m.cfg.ID, cur)
	})

	switch {
	case terminal:
		m.logger.Warn("target unreachable, monitor self-terminating",
			logger.String("url", probed),
			logger.Int("threshold", m.cfg.FailureThreshold),
			logger.Error(probeErr))
	case next != "" && next != prev:
		m.logger.Info("target status changed",
			logger.String("url", probed),
			logger.String("from", prev.String()),
			logger.String("to", next.String()))
	case probeErr != nil:
		m.logger.Debug("probe failed", logger.String("url", probed), logger.Error(probeErr))
	}

	return keep
}

func (m *Monitor) markUnreachable(err error) {
	m.store.Update(func(tx *state.Tx) {
		cur, ok := tx.Get(m.cfg.ID)
		if !ok {
			return
		}
		cur.Status = domain.StatusUnreachable
		cur.Failures++
		cur.CheckedAt = time.Now()
		tx.Put(m.cfg.ID, cur)
	})
	m.logger.Debug("entry marked unreachable", logger.Error(err))
}
