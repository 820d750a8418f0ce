package stage

import (
	"fmt"
)

// Worker runs one stage in its own goroutine. Done is closed only after the
// stage function returned, so every stream the stage opened is closed by the
// time a controller sees it.
type Worker struct {
	gate *Gate
	done chan struct{}
	err  error
}

// Go starts fn in a new goroutine. A panic inside fn is reported as the
// stage's error rather than taking the process down.
func Go(name string, fn func(c Checkpointer) error) *Worker {
	w := &Worker{gate: NewGate(), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		defer w.gate.Finish()
		defer func() {
			if r := recover(); r != nil {
				w.err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		w.err = fn(w.gate)
	}()
	return w
}

func (w *Worker) Done() <-chan struct{} { return w.done }

// Err returns the stage result. Only valid after Done is closed.
func (w *Worker) Err() error { return w.err }

func (w *Worker) Pause()    { w.gate.Pause() }
func (w *Worker) Continue() { w.gate.Continue() }
func (w *Worker) Stop()     { w.gate.Stop() }

func (w *Worker) State() State { return w.gate.State() }
