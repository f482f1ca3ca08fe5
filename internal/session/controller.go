// Package session drives streamed turns for agent sessions: it owns the
// cancellation token of the active turn, pumps the event stream through the
// transcript reducer and reconciles with the server's stored history.
package session

import (
	"context"
	"sync"
)

// Token is the cancellation handle of one turn.
type Token struct {
	id     uint64
	cancel context.CancelFunc
}

// ID returns the token's sequence number.
func (t *Token) ID() uint64 {
	if t == nil {
		return 0
	}
	return t.id
}

// Controller holds at most one active token. Starting a new turn cancels the
// previous one.
type Controller struct {
	mu     sync.Mutex
	active *Token
	next   uint64
}

// Start cancels any active token and returns a context bound to a new one.
func (c *Controller) Start(parent context.Context) (context.Context, *Token) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.cancel()
	}
	c.next++
	tok := &Token{id: c.next, cancel: cancel}
	c.active = tok
	return ctx, tok
}

// Cancel signals the active token. It reports whether one was active.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return false
	}
	c.active.cancel()
	c.active = nil
	return true
}

// Release cancels tok's context and clears it if it is still the active token.
func (c *Controller) Release(tok *Token) {
	if tok == nil {
		return
	}
	tok.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == tok {
		c.active = nil
	}
}

// Active reports whether a token is held.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
