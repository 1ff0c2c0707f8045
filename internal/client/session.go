package client

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/drmweyers/mealbatch/internal/batch"
)

// sessionGuard holds the per-batch state that must outlive any single
// observer instance. Keying by batch id, not by observer, closes the race
// between a watcher restart and an in-flight terminal event: a new observer
// for the same batch inherits the guard and cannot re-fire side effects.
type sessionGuard struct {
	mu               sync.Mutex
	lastSeenPhase    batch.Phase
	hasFiredTerminal bool
	transport        io.Closer
}

// fireTerminal flips the terminal flag. Only the first caller per batch id
// gets true; every later terminal-shaped event is a no-op.
func (g *sessionGuard) fireTerminal() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasFiredTerminal {
		return false
	}
	g.hasFiredTerminal = true
	return true
}

func (g *sessionGuard) terminalFired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasFiredTerminal
}

// observePhase records the phase if it does not regress. It reports whether
// the event should be surfaced; stale events ranked below an already-seen
// phase are dropped.
func (g *sessionGuard) observePhase(p batch.Phase) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastSeenPhase != "" && p.Before(g.lastSeenPhase) {
		return false
	}
	g.lastSeenPhase = p
	return true
}

// swapTransport installs a new connection, closing any previous one first.
// At most one transport may be live per session.
func (g *sessionGuard) swapTransport(c io.Closer) {
	g.mu.Lock()
	prev := g.transport
	g.transport = c
	g.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

func (g *sessionGuard) closeTransport() {
	g.swapTransport(nil)
}

// ownsTransport reports whether c is still the session's live connection.
// A stream that has been replaced must not report its own closure as a
// connection loss.
func (g *sessionGuard) ownsTransport(c io.Closer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transport == c
}

// guards maps batch id to its session guard for the lifetime of the process.
var guards = struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sessionGuard
}{m: make(map[uuid.UUID]*sessionGuard)}

func guardFor(batchID uuid.UUID) *sessionGuard {
	guards.mu.Lock()
	defer guards.mu.Unlock()
	g, ok := guards.m[batchID]
	if !ok {
		g = &sessionGuard{}
		guards.m[batchID] = g
	}
	return g
}

// dropGuard releases a guard. Only tests and the resume path for abandoned
// batches use this; live guards stay for the process lifetime so duplicate
// terminal events stay suppressed.
func dropGuard(batchID uuid.UUID) {
	guards.mu.Lock()
	defer guards.mu.Unlock()
	delete(guards.m, batchID)
}
