// Package stage holds the cooperative pause/cancel protocol shared by every
// long-running worker, the progress observer interface and the status board
// read by the presentation layer.
package stage

import (
	"sync"

	rserr "alexhalogen/rsraid/internal/errors"
)

// State is the signal state of one stage.
type State int

const (
	Running State = iota
	Paused
	CancelRequested
	Finished
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case CancelRequested:
		return "cancel-requested"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Checkpointer is consulted by workers between rows, streams and word-slices.
// Checkpoint blocks while the stage is paused and returns ErrCancelled once a
// stop was requested.
type Checkpointer interface {
	Checkpoint() error
}

// Gate holds the run state of one stage behind a condition variable. Every
// transition broadcasts, so a paused worker re-checks without polling.
type Gate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State
}

func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Pause() {
	g.mu.Lock()
	if g.state == Running {
		g.state = Paused
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *Gate) Continue() {
	g.mu.Lock()
	if g.state == Paused {
		g.state = Running
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Stop requests cancellation. It is idempotent and wakes paused workers.
func (g *Gate) Stop() {
	g.mu.Lock()
	if g.state == Running || g.state == Paused {
		g.state = CancelRequested
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Finish marks the stage as done; later Pause/Stop calls are no-ops.
func (g *Gate) Finish() {
	g.mu.Lock()
	if g.state != CancelRequested {
		g.state = Finished
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *Gate) Checkpoint() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.state == Paused {
		g.cond.Wait()
	}
	if g.state == CancelRequested {
		return rserr.ErrCancelled
	}
	return nil
}

// Check is a nil-safe Checkpoint.
func Check(c Checkpointer) error {
	if c == nil {
		return nil
	}
	return c.Checkpoint()
}
