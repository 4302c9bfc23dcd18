// Package notify publishes resource status changes on NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/state"
	"github.com/MrSnakeDoc/tinyman/internal/version"
)

// Event is the payload published for every observed change.
type Event struct {
	ID        int       `json:"id"`
	TargetURL string    `json:"target_url,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Status    string    `json:"status,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitzero"`
	Deleted   bool      `json:"deleted"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher implements state.Observer. Repeated writes of an unchanged
// entry are not republished.
type Publisher struct {
	pub     publisher
	conn    *nats.Conn
	subject string

	mu   sync.Mutex
	last map[int]Event
}

// Connect dials url and returns a publisher on subject.
func Connect(url, subject string, log logger.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(version.UserAgent()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	log.Info("connected to nats",
		logger.String("url", conn.ConnectedUrl()),
		logger.String("subject", subject))

	p := newPublisher(conn, subject)
	p.conn = conn
	return p, nil
}

func newPublisher(pub publisher, subject string) *Publisher {
	return &Publisher{
		pub:     pub,
		subject: subject,
		last:    make(map[int]Event),
	}
}

// EntryPut implements state.Observer.
func (p *Publisher) EntryPut(_ context.Context, id int, e state.Entry) error {
	ev := Event{
		ID:        id,
		TargetURL: e.TargetURL,
		Domain:    e.Domain,
		Status:    e.Status.String(),
		CheckedAt: e.CheckedAt,
	}

	p.mu.Lock()
	prev, seen := p.last[id]
	p.last[id] = ev
	p.mu.Unlock()

	if seen && prev.Status == ev.Status && prev.TargetURL == ev.TargetURL {
		return nil
	}
	return p.publish(ev)
}

// EntryDeleted implements state.Observer.
func (p *Publisher) EntryDeleted(_ context.Context, id int) error {
	p.mu.Lock()
	delete(p.last, id)
	p.mu.Unlock()

	return p.publish(Event{ID: id, Deleted: true})
}

func (p *Publisher) publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
