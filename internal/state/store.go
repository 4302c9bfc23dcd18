package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/tinyman/internal/domain"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
)

var ErrInvalidInterval = errors.New("ping interval must be positive")

const observerTimeout = 2 * time.Second

// Entry is the last known state of one monitored resource.
type Entry struct {
	TargetURL string
	Domain    string
	Status    domain.Status
	Failures  int
	CheckedAt time.Time
}

// Observer receives a copy of every committed entry change, outside the lock.
// Implementations must be safe for concurrent use.
type Observer interface {
	EntryPut(ctx context.Context, id int, e Entry) error
	EntryDeleted(ctx context.Context, id int) error
}

// Store is the region shared between the manager and every monitor.
// A single mutex guards all of it: entries and control knobs alike.
type Store struct {
	mu              sync.Mutex
	entries         map[int]Entry
	pingInterval    time.Duration
	sweep           chan struct{}
	sweeps          uint64
	pendingDeletion []int

	observers []Observer
	logger    logger.Logger
}

// NewStore creates an empty store.
func NewStore(pingInterval time.Duration, log logger.Logger, observers ...Observer) (*Store, error) {
	if pingInterval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, pingInterval)
	}

	return &Store{
		entries:      make(map[int]Entry),
		pingInterval: pingInterval,
		sweep:        make(chan struct{}),
		observers:    observers,
		logger:       log,
	}, nil
}

// change is a committed mutation to forward to observers.
type change struct {
	id      int
	entry   Entry
	deleted bool
}

// Tx is the view of the store handed to Update callbacks. It is only valid
// while the callback runs and must not be retained.
type Tx struct {
	s       *Store
	changes []change
}

func (tx *Tx) Get(id int) (Entry, bool) {
	e, ok := tx.s.entries[id]
	return e, ok
}

func (tx *Tx) Put(id int, e Entry) {
	tx.s.entries[id] = e
	tx.changes = append(tx.changes, change{id: id, entry: e})
}

func (tx *Tx) Delete(id int) {
	if _, ok := tx.s.entries[id]; !ok {
		return
	}
	delete(tx.s.entries, id)
	tx.changes = append(tx.changes, change{id: id, deleted: true})
}

// RequestDeletion records id as pending reconciliation by the manager.
func (tx *Tx) RequestDeletion(id int) {
	for _, v := range tx.s.pendingDeletion {
		if v == id {
			return
		}
	}
	tx.s.pendingDeletion = append(tx.s.pendingDeletion, id)
}

// ClearDeletion drops id from the pending set.
func (tx *Tx) ClearDeletion(id int) {
	pending := tx.s.pendingDeletion[:0]
	for _, v := range tx.s.pendingDeletion {
		if v != id {
			pending = append(pending, v)
		}
	}
	tx.s.pendingDeletion = pending
}

// Update runs fn while holding the store lock. Every multi-step
// read-then-write must go through here.
func (s *Store) Update(fn func(tx *Tx)) {
	tx := &Tx{s: s}
	s.apply(tx, fn)
	s.notify(tx.changes)
}

func (s *Store) apply(tx *Tx, fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(tx)
}

// Get returns the entry for id.
func (s *Store) Get(id int) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	return e, ok
}

// Put stores e under id.
func (s *Store) Put(id int, e Entry) {
	s.Update(func(tx *Tx) { tx.Put(id, e) })
}

// Delete removes the entry for id.
func (s *Store) Delete(id int) {
	s.Update(func(tx *Tx) { tx.Delete(id) })
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Snapshot returns a copy of all entries.
func (s *Store) Snapshot() map[int]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// IDs returns the ids with an entry, ascending.
func (s *Store) IDs() []int {
	s.mu.Lock()
	ids := make([]int, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Ints(ids)
	return ids
}

// PingInterval returns the current monitor interval.
func (s *Store) PingInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pingInterval
}

// SetPingInterval changes the monitor interval. Monitors pick it up on
// their next cycle.
func (s *Store) SetPingInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, d)
	}

	s.mu.Lock()
	s.pingInterval = d
	s.mu.Unlock()

	return nil
}

// SweepSignal returns a channel that is closed on the next TriggerSweep.
// Callers must fetch a fresh channel after it fires.
func (s *Store) SweepSignal() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweep
}

// TriggerSweep wakes every monitor currently waiting on SweepSignal.
func (s *Store) TriggerSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.sweep)
	s.sweep = make(chan struct{})
	s.sweeps++
}

// Sweeps returns how many sweeps were triggered.
func (s *Store) Sweeps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweeps
}

// RequestDeletion records id as pending reconciliation by the manager.
func (s *Store) RequestDeletion(id int) {
	s.Update(func(tx *Tx) { tx.RequestDeletion(id) })
}

// PendingDeletions returns a copy of the pending ids without clearing them.
func (s *Store) PendingDeletions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, len(s.pendingDeletion))
	copy(out, s.pendingDeletion)
	return out
}

// TakePendingDeletions returns the pending ids in request order and clears them.
func (s *Store) TakePendingDeletions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pendingDeletion
	s.pendingDeletion = nil
	return out
}

// Reset drops every entry and pending deletion.
func (s *Store) Reset() {
	s.Update(func(tx *Tx) {
		for id := range s.entries {
			tx.Delete(id)
		}
		s.pendingDeletion = nil
	})
}

func (s *Store) notify(changes []change) {
	if len(s.observers) == 0 || len(changes) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	for _, c := range changes {
		for _, o := range s.observers {
			var err error
			if c.deleted {
				err = o.EntryDeleted(ctx, c.id)
			} else {
				err = o.EntryPut(ctx, c.id, c.entry)
			}
			if err != nil {
				s.logger.Debug("state observer failed",
					logger.Int("resource_id", c.id),
					logger.Error(err))
			}
		}
	}
}
