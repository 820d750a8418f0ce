package stage

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const maxBoardLines = 256

// Board collects progress, log lines and damage statistics from the stages
// and hands them to a periodic consumer. It is guarded by a binary semaphore:
// progress producers only try to acquire it and drop the update when the
// consumer holds it, so a slow consumer never stalls a coding loop.
type Board struct {
	sem *semaphore.Weighted

	phase    Phase
	percent  float64
	finished map[Phase]bool
	damage   *DamageStats
	lines    []string

	dropped atomic.Int64
}

// Snapshot is a consistent copy of the board.
type Snapshot struct {
	Phase    Phase
	Percent  float64
	Finished []Phase
	Damage   *DamageStats
	Lines    []string
	Dropped  int64
}

func NewBoard() *Board {
	return &Board{
		sem:      semaphore.NewWeighted(1),
		finished: make(map[Phase]bool),
	}
}

func (b *Board) Progress(phase Phase, percent float64) {
	if !b.sem.TryAcquire(1) {
		b.dropped.Add(1)
		return
	}
	b.phase = phase
	b.percent = percent
	b.sem.Release(1)
}

func (b *Board) PhaseFinished(phase Phase) {
	b.locked(func() {
		b.finished[phase] = true
		b.phase = phase
		b.percent = 100
	})
}

func (b *Board) Damage(stats DamageStats) {
	b.locked(func() {
		s := stats
		b.damage = &s
	})
}

func (b *Board) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	b.locked(func() {
		if len(b.lines) >= maxBoardLines {
			b.lines = b.lines[1:]
		}
		b.lines = append(b.lines, line)
	})
}

func (b *Board) locked(fn func()) {
	// Acquire with a background context only fails on cancellation.
	_ = b.sem.Acquire(context.Background(), 1)
	defer b.sem.Release(1)
	fn()
}

// Take blocks until the board is free, then returns its state and drains the
// pending log lines.
func (b *Board) Take(ctx context.Context) (Snapshot, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return Snapshot{}, err
	}
	defer b.sem.Release(1)

	s := Snapshot{
		Phase:   b.phase,
		Percent: b.percent,
		Lines:   b.lines,
		Dropped: b.dropped.Load(),
	}
	for p := PhaseMatrix; p <= PhaseIntegrity; p++ {
		if b.finished[p] {
			s.Finished = append(s.Finished, p)
		}
	}
	if b.damage != nil {
		d := *b.damage
		s.Damage = &d
	}
	b.lines = nil
	return s, nil
}
