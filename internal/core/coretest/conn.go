// Package coretest holds in-memory transport fakes shared by package tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

// Received is one decoded envelope captured by Conn.
type Received struct {
	Type domain.EventName `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// Conn records every frame instead of writing it to a socket.
// Limit > 0 makes TrySend fail with core.ErrBackpressure once that many
// frames are queued.
type Conn struct {
	Limit int

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	if c.Limit > 0 && len(c.frames) >= c.Limit {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Events() []Received {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Received, 0, len(c.frames))
	for _, f := range c.frames {
		var r Received
		if err := json.Unmarshal(f, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func (c *Conn) Names() []domain.EventName {
	evs := c.Events()
	out := make([]domain.EventName, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func (c *Conn) Count(name domain.EventName) int {
	n := 0
	for _, e := range c.Events() {
		if e.Type == name {
			n++
		}
	}
	return n
}

// Last decodes the data of the most recent event called name into v.
func (c *Conn) Last(name domain.EventName, v any) bool {
	evs := c.Events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == name {
			return json.Unmarshal(evs[i].Data, v) == nil
		}
	}
	return false
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// NewSession builds an authenticated session on a fresh Conn.
func NewSession(sid string, user domain.UserID) (*core.Session, *Conn) {
	conn := NewConn()
	s := core.NewSession(core.SessionID(sid), conn)
	if user != "" {
		s.Attach(&domain.User{ID: user, Name: string(user)})
	}
	return s, conn
}
