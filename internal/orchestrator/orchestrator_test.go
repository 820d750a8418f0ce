package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"alexhalogen/rsraid/internal/config"
	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/types"
)

func TestMain(m *testing.M) {
	logger.Silence()
	goleak.VerifyTestMain(m)
}

func testConfig() config.Config {
	c := config.Default()
	c.Codec.BufferBytes = 1 << 16
	c.Split.BufferBytes = 1 << 14
	c.Split.CBCBlockSize = 1 << 12
	return c
}

func writeSource(t *testing.T, dir string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func readAll(t *testing.T, paths []string) [][]byte {
	t.Helper()
	out := make([][]byte, len(paths))
	for i, p := range paths {
		var err error
		out[i], err = os.ReadFile(p)
		require.NoError(t, err)
	}
	return out
}

// finishLog records every finished run.
type finishLog struct {
	stage.Nop
	results chan Result
}

func (f *finishLog) Finished(r Result) { f.results <- r }

func protect(t *testing.T, o *Orchestrator, src, dir string, c types.Coding, password string) []string {
	t.Helper()
	res := o.Run(context.Background(), Protect, Job{Source: src, Dir: dir, Coding: c, Password: password})
	require.NoError(t, res.Err)
	require.Len(t, res.Volumes, c.Total())
	return res.Volumes
}

// TestEveryPairLost protects a file with four data and two ECC volumes, then
// for every pair of lost volumes recovers the file and repairs the set.
func TestEveryPairLost(t *testing.T) {
	size := 10 << 20
	if testing.Short() {
		size = 1 << 20
	}
	dir := t.TempDir()
	src, data := writeSource(t, dir, size)
	volDir := filepath.Join(dir, "vols")
	require.NoError(t, os.Mkdir(volDir, 0755))

	c := types.Coding{DataCount: 4, EccCount: 2, Type: types.Cauchy}
	o := New(testConfig(), nil)
	paths := protect(t, o, src, volDir, c, "")
	pristine := readAll(t, paths)

	for a := range c.Total() {
		for b := a + 1; b < c.Total(); b++ {
			t.Run(fmt.Sprintf("lost=%d,%d", a, b), func(t *testing.T) {
				require.NoError(t, os.Remove(paths[a]))
				require.NoError(t, os.Remove(paths[b]))

				out := filepath.Join(dir, "restored.bin")
				res := o.Run(context.Background(), Recover, Job{Dir: volDir, Name: "payload.bin", Coding: c, Output: out})
				require.NoError(t, res.Err)
				require.NotNil(t, res.Report)
				assert.Equal(t, float64(2)*100/6, res.Report.Stats.PercentDamage)
				got, err := os.ReadFile(out)
				require.NoError(t, err)
				require.Equal(t, data, got)

				res = o.Run(context.Background(), Repair, Job{Dir: volDir, Name: "payload.bin", Coding: c})
				require.NoError(t, res.Err)
				require.Equal(t, pristine, readAll(t, paths))
			})
		}
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	for _, typ := range []types.CodecType{types.Dispersal, types.Alternative, types.Cauchy} {
		t.Run(typ.String(), func(t *testing.T) {
			dir := t.TempDir()
			src, data := writeSource(t, dir, 70001)
			c := types.Coding{DataCount: 3, EccCount: 2, Type: typ}
			o := New(testConfig(), nil)
			paths := protect(t, o, src, dir, c, "hunter2")
			require.NoError(t, os.Remove(paths[0]))
			require.NoError(t, os.Remove(paths[2]))

			out := filepath.Join(dir, "restored.bin")
			res := o.Run(context.Background(), Recover, Job{Dir: dir, Name: "payload.bin", Coding: c, Output: out, Password: "hunter2"})
			require.NoError(t, res.Err)
			got, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			res = o.Run(context.Background(), Recover, Job{Dir: dir, Name: "payload.bin", Coding: c, Output: out, Password: "wrong"})
			assert.ErrorIs(t, res.Err, rserr.ErrDecrypt)
		})
	}
}

func TestTestOperation(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeSource(t, dir, 4000)
	c := types.Coding{DataCount: 2, EccCount: 2, Type: types.Dispersal}
	o := New(testConfig(), nil)
	paths := protect(t, o, src, dir, c, "")

	res := o.Run(context.Background(), Test, Job{Dir: dir, Name: "payload.bin", Coding: c})
	require.NoError(t, res.Err)
	assert.False(t, res.Report.Damaged())

	require.NoError(t, o.StartRepair(Job{Dir: dir, Name: "payload.bin", Coding: c}))
	res = o.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, Repair, res.Op)
	assert.False(t, res.Report.Damaged())

	require.NoError(t, os.Remove(paths[1]))
	require.NoError(t, os.Remove(paths[2]))
	require.NoError(t, os.Remove(paths[3]))
	res = o.Run(context.Background(), Test, Job{Dir: dir, Name: "payload.bin", Coding: c, Fast: true})
	require.NoError(t, res.Err)
	assert.False(t, res.Report.Recoverable())
	assert.Equal(t, stage.DamageStats{MissingCount: 1, PercentDamage: 75, PercentReserve: -50}, res.Report.Stats)

	res = o.Run(context.Background(), Recover, Job{Dir: dir, Name: "payload.bin", Coding: c})
	assert.ErrorIs(t, res.Err, rserr.ErrTooFewVolumes)
	res = o.Run(context.Background(), Repair, Job{Dir: dir, Name: "payload.bin", Coding: c})
	assert.ErrorIs(t, res.Err, rserr.ErrTooFewVolumes)
}

func TestRecoverTruncatedDataOfPair(t *testing.T) {
	dir := t.TempDir()
	src, data := writeSource(t, dir, 5000)
	c := types.Coding{DataCount: 1, EccCount: 1, Type: types.Cauchy}
	o := New(testConfig(), nil)
	paths := protect(t, o, src, dir, c, "")

	fi, err := os.Stat(paths[0])
	require.NoError(t, err)
	require.NoError(t, os.Truncate(paths[0], fi.Size()-100))

	out := filepath.Join(t.TempDir(), "restored.bin")
	res := o.Run(context.Background(), Recover, Job{Dir: dir, Name: "payload.bin", Coding: c, Output: out})
	require.NoError(t, res.Err)
	assert.Equal(t, []int{1}, res.Report.VolList)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRecoverWithAvailabilityOverride(t *testing.T) {
	dir := t.TempDir()
	src, data := writeSource(t, dir, 3000)
	c := types.Coding{DataCount: 3, EccCount: 2, Type: types.Cauchy}
	o := New(testConfig(), nil)
	protect(t, o, src, dir, c, "")

	out := filepath.Join(dir, "restored.bin")
	res := o.Run(context.Background(), Recover, Job{
		Dir: dir, Name: "payload.bin", Coding: c, Output: out,
		Availability: []int{0, 4, 3},
	})
	require.NoError(t, res.Err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStopCancelsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeSource(t, dir, 4<<20)
	cfg := testConfig()
	cfg.Codec.SliceWords = 256
	fin := &finishLog{results: make(chan Result, 1)}
	o := New(cfg, fin)

	c := types.Coding{DataCount: 4, EccCount: 2, Type: types.Cauchy}
	require.NoError(t, o.StartProtect(Job{Source: src, Coding: c}))
	o.Stop()
	res := o.Wait()
	assert.True(t, res.Cancelled(), "%v", res.Err)
	assert.False(t, o.InProcessing())
	assert.Equal(t, Finished, o.State())

	select {
	case r := <-fin.results:
		assert.True(t, r.Cancelled())
	case <-time.After(5 * time.Second):
		t.Fatal("no finished event")
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the source may remain")
}

func TestPauseBlocksAndBusy(t *testing.T) {
	dir := t.TempDir()
	src, data := writeSource(t, dir, 1<<20)
	c := types.Coding{DataCount: 2, EccCount: 1, Type: types.Cauchy}
	o := New(testConfig(), nil)

	require.NoError(t, o.StartProtect(Job{Source: src, Coding: c}))
	o.Pause()
	assert.True(t, o.InProcessing())
	assert.ErrorIs(t, o.StartTest(Job{Dir: dir, Name: "payload.bin", Coding: c}), rserr.ErrBusy)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, o.InProcessing())
	o.Continue()
	res := o.Wait()
	require.NoError(t, res.Err)

	out := filepath.Join(dir, "restored.bin")
	require.NoError(t, o.StartRecover(Job{Dir: dir, Name: "payload.bin", Coding: c, Output: out}))
	require.NoError(t, o.Wait().Err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRunContextCancel(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeSource(t, dir, 1<<20)
	o := New(testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Run(ctx, Protect, Job{Source: src, Coding: types.Coding{DataCount: 3, EccCount: 1, Type: types.Cauchy}})
	if res.Err != nil {
		assert.True(t, res.Cancelled())
	}
	assert.False(t, o.InProcessing())
}

func TestStartRejectsBadJobs(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeSource(t, dir, 10)
	good := types.Coding{DataCount: 2, EccCount: 1, Type: types.Cauchy}
	o := New(testConfig(), nil)

	assert.True(t, rserr.IsConfig(o.StartProtect(Job{Source: src, Coding: types.Coding{DataCount: 0, EccCount: 1}})))
	assert.True(t, rserr.IsConfig(o.StartProtect(Job{Coding: good})))
	assert.True(t, rserr.IsConfig(o.StartProtect(Job{Source: dir, Coding: good})))
	var fe *rserr.FileError
	assert.ErrorAs(t, o.StartProtect(Job{Source: filepath.Join(dir, "nope"), Coding: good}), &fe)
	assert.True(t, rserr.IsConfig(o.StartTest(Job{Dir: dir, Coding: good})))

	long := filepath.Join(dir, strings.Repeat("x", 250))
	require.NoError(t, os.WriteFile(long, []byte("data"), 0644))
	assert.True(t, rserr.IsConfig(o.StartProtect(Job{Source: long, Coding: good})))
	assert.False(t, o.InProcessing())
	assert.Equal(t, Idle, o.State())
}

func TestJobFromVolume(t *testing.T) {
	job, err := JobFromVolume("/data/vols/C000100040002.archive.tar")
	require.NoError(t, err)
	assert.Equal(t, Job{Dir: "/data/vols", Name: "archive.tar", Coding: types.Coding{DataCount: 4, EccCount: 2, Type: types.Cauchy}}, job)

	_, err = JobFromVolume("/data/archive.tar")
	assert.True(t, rserr.IsConfig(err))
	_, err = JobFromVolume("/data/C000100000002.archive.tar")
	assert.True(t, rserr.IsConfig(err))
}

func TestBoardSeesStates(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeSource(t, dir, 5000)
	board := stage.NewBoard()
	o := New(testConfig(), board)
	protect(t, o, src, dir, types.Coding{DataCount: 2, EccCount: 1, Type: types.Cauchy}, "")

	snap, err := board.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"splitting", "encoding", "integrity-writing"}, snap.Lines)
	assert.Contains(t, snap.Finished, stage.PhaseSplit)
	assert.Contains(t, snap.Finished, stage.PhaseIntegrity)
}
