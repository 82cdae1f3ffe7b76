// Package reconnect implements the client-side reconnection policy used by
// session clients to recover a dropped websocket connection.
//
// The policy is deliberately conservative. Every trigger, no matter how many
// fire in a burst, collapses into at most one scheduled attempt at a time.
// The attempt runs after a fixed delay so a flapping network does not turn
// into a reconnect storm against the server.
package reconnect

import (
	"context"
	"sync"
	"time"
)

// Trigger identifies the event that requested a reconnection attempt.
type Trigger string

const (
	// TriggerVisibility fires when the client application returns to the foreground.
	TriggerVisibility Trigger = "visibility"
	// TriggerFocus fires when the client window regains input focus.
	TriggerFocus Trigger = "focus"
	// TriggerInteraction fires on user interaction after a period of inactivity.
	TriggerInteraction Trigger = "interaction"
	// TriggerClose fires when the underlying transport reports a close.
	TriggerClose Trigger = "close"
)

// DefaultDelay is the fixed pause before a scheduled attempt runs.
const DefaultDelay = 2 * time.Second

// AttemptFunc dials and rejoins the session. It must return nil only once the
// connection is established and the join handshake has completed.
type AttemptFunc func(ctx context.Context, reason Trigger) error

// Policy collapses reconnection triggers into single scheduled attempts.
// The zero value is not usable; construct with NewPolicy.
type Policy struct {
	delay   time.Duration
	attempt AttemptFunc

	mu        sync.Mutex
	timer     *time.Timer
	inFlight  bool
	connected bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithDelay overrides the fixed delay before a scheduled attempt.
func WithDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.delay = d
		}
	}
}

// NewPolicy creates a reconnection policy that calls attempt to re-establish
// the session connection.
func NewPolicy(attempt AttemptFunc, opts ...Option) *Policy {
	p := &Policy{
		delay:   DefaultDelay,
		attempt: attempt,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetConnected records the current transport state. While connected, triggers
// are ignored. A transition to disconnected does not by itself schedule an
// attempt; a trigger must fire.
func (p *Policy) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
	if connected && p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// OnTrigger requests a reconnection attempt for the given reason. If the
// client is already connected, an attempt is already scheduled, or one is in
// flight, the trigger is absorbed and no new attempt is created.
func (p *Policy) OnTrigger(ctx context.Context, reason Trigger) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected || p.inFlight || p.timer != nil {
		return
	}

	p.timer = time.AfterFunc(p.delay, func() {
		p.runAttempt(ctx, reason)
	})
}

// Stop cancels any scheduled attempt. In-flight attempts are cancelled through
// the context passed to OnTrigger.
func (p *Policy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Policy) runAttempt(ctx context.Context, reason Trigger) {
	p.mu.Lock()
	p.timer = nil
	if p.connected {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	var err error
	if ctx.Err() == nil {
		err = p.attempt(ctx, reason)
	} else {
		err = ctx.Err()
	}

	p.mu.Lock()
	p.inFlight = false
	if err == nil {
		p.connected = true
	}
	p.mu.Unlock()
}
