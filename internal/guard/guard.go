// Package guard watches the validity of the daemon's backend credential.
// It probes proactively so a closed session is noticed before an operator
// tries to send, not after the provider rejects the message.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/pvallone/chatdesk/internal/bus"
	"go.uber.org/zap"
)

// State of the session credential.
type State string

const (
	Valid   State = "VALID"
	Expired State = "EXPIRED"
)

// Prober checks whether the credential is still accepted by the backend.
// It returns (false, nil) for a definitive rejection and a non-nil error
// for transport problems, which leave the current state untouched.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// Guard runs the periodic validity probe and owns the valid/expired
// state. Expiry is sticky: only an explicit Reconnect moves the guard
// back to valid, it never revalidates itself silently.
type Guard struct {
	prober   Prober
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	state   State
	probing bool
	cancel  context.CancelFunc
}

// New creates a guard starting in Valid state.
func New(prober Prober, b *bus.Bus, logger *zap.Logger, interval, timeout time.Duration) *Guard {
	return &Guard{
		prober:   prober,
		bus:      b,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		state:    Valid,
	}
}

// Current returns the guard's view of the session.
func (g *Guard) Current() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Start launches the periodic probe loop.
func (g *Guard) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	go g.loop(ctx)
}

// Stop cancels the probe loop and any in-flight probe.
func (g *Guard) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
}

func (g *Guard) loop(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.CheckNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow runs one probe immediately and returns the resulting state.
// Concurrent calls do not pile up: while a probe is in flight, callers
// get the current state back without starting another one.
func (g *Guard) CheckNow(ctx context.Context) State {
	g.mu.Lock()
	if g.probing {
		state := g.state
		g.mu.Unlock()
		return state
	}
	g.probing = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.probing = false
		g.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.prober.Probe(ctx)
	if err != nil {
		// Transport trouble says nothing definitive about the credential.
		if g.logger != nil {
			g.logger.Warn("session probe failed", zap.Error(err))
		}
		return g.Current()
	}
	if !ok {
		g.Invalidate()
	}
	return g.Current()
}

// Invalidate marks the session expired. Idempotent; the send path calls
// this when the provider reports a credential failure reactively.
func (g *Guard) Invalidate() {
	g.mu.Lock()
	if g.state == Expired {
		g.mu.Unlock()
		return
	}
	g.state = Expired
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Warn("session expired, sends blocked until reconnect")
	}
	g.bus.Emit(bus.KindSessionExpired, nil)
}

// Reconnect re-probes the credential after an explicit operator
// relogin/reconnect action. It is the only transition back to Valid.
func (g *Guard) Reconnect(ctx context.Context) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.prober.Probe(ctx)
	if err != nil {
		return g.Current(), err
	}
	if !ok {
		g.Invalidate()
		return Expired, nil
	}

	g.mu.Lock()
	was := g.state
	g.state = Valid
	g.mu.Unlock()

	if was == Expired {
		if g.logger != nil {
			g.logger.Info("session revalidated")
		}
		g.bus.Emit(bus.KindSessionReconnected, nil)
	}
	return Valid, nil
}
