package stage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	rserr "alexhalogen/rsraid/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGatePauseBlocksCheckpoint(t *testing.T) {
	g := NewGate()
	require.NoError(t, g.Checkpoint())

	g.Pause()
	assert.Equal(t, Paused, g.State())

	passed := make(chan error, 1)
	go func() { passed <- g.Checkpoint() }()

	select {
	case <-passed:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	g.Continue()
	select {
	case err := <-passed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not resume after Continue")
	}
}

func TestGateStopWakesPausedWorker(t *testing.T) {
	g := NewGate()
	g.Pause()
	passed := make(chan error, 1)
	go func() { passed <- g.Checkpoint() }()

	g.Stop()
	g.Stop() // idempotent
	select {
	case err := <-passed:
		assert.ErrorIs(t, err, rserr.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("stop did not wake paused checkpoint")
	}
	assert.ErrorIs(t, g.Checkpoint(), rserr.ErrCancelled)
	g.Continue()
	assert.Equal(t, CancelRequested, g.State())
}

func TestWorkerStopAtCheckpoint(t *testing.T) {
	var iterations atomic.Int64
	w := Go("loop", func(c Checkpointer) error {
		for {
			if err := c.Checkpoint(); err != nil {
				return err
			}
			iterations.Add(1)
			time.Sleep(time.Millisecond)
		}
	})
	time.Sleep(10 * time.Millisecond)
	w.Stop()
	<-w.Done()
	err := w.Err()
	assert.True(t, rserr.IsCancelled(err))
	assert.Positive(t, iterations.Load())
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := Go("boom", func(Checkpointer) error { panic("bad row") })
	<-w.Done()
	err := w.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad row")
	assert.Equal(t, Finished, w.State())
}

func TestBoardDropsProgressWhileConsumerHoldsIt(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.sem.Acquire(context.Background(), 1))
	b.Progress(PhaseCode, 40)
	b.sem.Release(1)

	b.Progress(PhaseCode, 50)
	b.Logf("volume %d opened", 3)
	b.PhaseFinished(PhaseOpen)
	b.Damage(DamageStats{MissingCount: 1, AltEccPresentCount: 2})

	s, err := b.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Dropped)
	assert.Equal(t, []string{"volume 3 opened"}, s.Lines)
	assert.Equal(t, []Phase{PhaseOpen}, s.Finished)
	require.NotNil(t, s.Damage)
	assert.Equal(t, 1, s.Damage.MissingCount)

	s, err = b.Take(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Lines, "lines are drained by Take")
}

func TestScaledProgress(t *testing.T) {
	b := NewBoard()
	Scaled{Observer: b, Base: 50, Span: 50}.Progress(PhaseMatrix, 50)
	s, err := b.Take(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 75.0, s.Percent, 1e-9)
}
