package placementtest

import (
	"context"
	"sync"
	"time"

	"jobmate/placement-service/internal/gateway"
	"jobmate/placement-service/internal/registry"
)

// Clock is a manually driven time source. Step, when set, is added after
// every Now call.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	Step time.Duration
}

// NewClock returns a Clock at t.
func NewClock(t time.Time) *Clock { return &Clock{t: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.Step)
	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Message is one published event.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher records published events. Err, when set, fails every publish.
type Publisher struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (p *Publisher) Publish(_ context.Context, channel string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.msgs = append(p.msgs, Message{Channel: channel, Payload: message})
	return nil
}

// Messages returns the events published on channel.
func (p *Publisher) Messages(channel string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.msgs {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// Gateway answers confirmations with Result or Err and counts calls.
type Gateway struct {
	mu     sync.Mutex
	Result gateway.Result
	Err    error
	Calls  int
}

func (g *Gateway) Confirm(context.Context, string, string, int64) (gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls++
	return g.Result, g.Err
}

// Registry maps business numbers to states; unknown numbers are
// NOT_FOUND. Err fails every lookup.
type Registry struct {
	States map[string]registry.State
	Err    error
}

func (r *Registry) Lookup(_ context.Context, bizNo string) (registry.State, error) {
	if r.Err != nil {
		return "", r.Err
	}
	if st, ok := r.States[bizNo]; ok {
		return st, nil
	}
	return registry.StateNotFound, nil
}
