// Package orchestrator sequences the split, code, integrity and glue stages
// of the four workflows and exposes pause, continue and stop.
//
// Each stage runs in its own goroutine. The controller goroutine waits on the
// stage's completion, on pause/continue requests and on a stop request, and
// forwards the latter two to the running stage.
package orchestrator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"alexhalogen/rsraid/internal/codec"
	"alexhalogen/rsraid/internal/config"
	"alexhalogen/rsraid/internal/cryptoengine"
	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/filehelper"
	"alexhalogen/rsraid/internal/integrity"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/splitter"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/types"
	"alexhalogen/rsraid/internal/volname"
)

// Finisher is implemented by observers that want the result of every run.
type Finisher interface {
	Finished(Result)
}

// run is the signal set of one started operation.
type run struct {
	op  Operation
	job Job

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	result   Result
}

type Orchestrator struct {
	cfg   config.Config
	obs   stage.Observer
	codec *codec.VolumeCodec

	mu      sync.Mutex
	state   State
	busy    bool
	paused  bool
	current *run
}

func New(cfg config.Config, obs stage.Observer) *Orchestrator {
	obs = stage.OrNop(obs)
	return &Orchestrator{
		cfg:   cfg,
		obs:   obs,
		codec: codec.New(cfg.Codec, obs),
	}
}

func (o *Orchestrator) StartProtect(job Job) error { return o.start(Protect, job) }
func (o *Orchestrator) StartRecover(job Job) error { return o.start(Recover, job) }
func (o *Orchestrator) StartRepair(job Job) error  { return o.start(Repair, job) }
func (o *Orchestrator) StartTest(job Job) error    { return o.start(Test, job) }

// Start launches op. Invalid jobs are rejected synchronously, as is any
// start while another operation runs.
func (o *Orchestrator) Start(op Operation, job Job) error {
	return o.start(op, job)
}

func (o *Orchestrator) start(op Operation, job Job) error {
	_, err := o.launch(op, job)
	return err
}

func (o *Orchestrator) launch(op Operation, job Job) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return nil, rserr.ErrBusy
	}
	if err := prepare(op, &job); err != nil {
		return nil, err
	}
	r := &run{
		op:   op,
		job:  job,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	o.busy = true
	o.paused = false
	o.state = Idle
	o.current = r
	go o.control(r)
	return r, nil
}

// Run starts op and blocks until it finished. Cancelling ctx stops it.
func (o *Orchestrator) Run(ctx context.Context, op Operation, job Job) Result {
	r, err := o.launch(op, job)
	if err != nil {
		return Result{Op: op, Err: err}
	}
	go func() {
		select {
		case <-ctx.Done():
			o.stopRun(r)
		case <-r.done:
		}
	}()
	<-r.done
	return r.result
}

// Wait blocks until the current operation finished and returns its result.
func (o *Orchestrator) Wait() Result {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		return Result{}
	}
	<-r.done
	return r.result
}

func (o *Orchestrator) InProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Pause()    { o.setPaused(true) }
func (o *Orchestrator) Continue() { o.setPaused(false) }

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.busy {
		return
	}
	o.paused = p
	select {
	case o.current.wake <- struct{}{}:
	default:
	}
}

// Stop requests cancellation of the current operation. It returns at once;
// use Wait for the outcome.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	r := o.current
	busy := o.busy
	o.mu.Unlock()
	if busy {
		o.stopRun(r)
	}
}

func (o *Orchestrator) stopRun(r *run) {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.obs.Logf("%s", s)
}

// apply forwards the requested pause state to a running stage.
func (o *Orchestrator) apply(w *stage.Worker) {
	o.mu.Lock()
	paused := o.paused
	o.mu.Unlock()
	if paused {
		w.Pause()
	} else {
		w.Continue()
	}
}

// runStage runs fn as state s and waits for it, forwarding pause and stop.
func (o *Orchestrator) runStage(r *run, s State, fn func(stage.Checkpointer) error) error {
	select {
	case <-r.stop:
		return rserr.ErrCancelled
	default:
	}
	o.setState(s)
	w := stage.Go(s.String(), fn)
	o.apply(w)
	stop := r.stop
	for {
		select {
		case <-w.Done():
			return w.Err()
		case <-r.wake:
			o.apply(w)
		case <-stop:
			w.Stop()
			stop = nil
		}
	}
}

func (o *Orchestrator) control(r *run) {
	log := logger.Console().WithFields(logrus.Fields{
		"op":     r.op.String(),
		"name":   r.job.Name,
		"coding": r.job.Coding.String(),
	})
	res := Result{Op: r.op}
	defer func() {
		if res.Err != nil {
			log.WithError(res.Err).Warn("operation failed")
		} else {
			log.Info("operation finished")
		}
		r.result = res
		o.mu.Lock()
		o.state = Finished
		o.busy = false
		o.paused = false
		o.mu.Unlock()
		close(r.done)
		if f, ok := o.obs.(Finisher); ok {
			f.Finished(res)
		}
	}()

	log.Info("operation started")
	switch r.op {
	case Protect:
		o.protect(r, &res)
	case Recover:
		o.recoverSet(r, &res)
	case Repair:
		o.repair(r, &res)
	case Test:
		o.test(r, &res)
	}
}

func (o *Orchestrator) engine(password string) (*cryptoengine.Engine, error) {
	if password == "" {
		return nil, nil
	}
	return cryptoengine.New(password, o.cfg.Split.CBCBlockSize)
}

func (o *Orchestrator) analyzer() *integrity.Analyzer {
	return integrity.New(o.obs, o.cfg.Split.BufferBytes)
}

func setPaths(job Job) []string {
	names, _ := volname.SetNames(job.Name, job.Coding)
	for i := range names {
		names[i] = volname.JoinPath(job.Dir, names[i])
	}
	return names
}

func (o *Orchestrator) protect(r *run, res *Result) {
	job := r.job
	eng, err := o.engine(job.Password)
	if err != nil {
		res.Err = err
		return
	}
	paths := setPaths(job)
	defer func() {
		if res.Err != nil {
			filehelper.RemoveAll(paths...)
		}
	}()

	if res.Err = o.runStage(r, Splitting, func(cp stage.Checkpointer) error {
		_, err := splitter.New(o.cfg.Split, eng, o.obs, cp).Split(job.Source, job.Dir, job.Coding)
		return err
	}); res.Err != nil {
		return
	}
	if res.Err = o.runStage(r, Encoding, func(cp stage.Checkpointer) error {
		return o.codec.Encode(cp, job.Dir, job.Name, job.Coding)
	}); res.Err != nil {
		return
	}
	if res.Err = o.runStage(r, IntegrityWriting, func(cp stage.Checkpointer) error {
		return o.analyzer().WriteCRC64(cp, job.Dir, job.Name, job.Coding)
	}); res.Err != nil {
		return
	}
	res.Volumes = paths
}

// check runs the integrity analyzer and stores its report in res.
func (o *Orchestrator) check(r *run, res *Result, fast bool) error {
	job := r.job
	return o.runStage(r, IntegrityChecking, func(cp stage.Checkpointer) error {
		rep, err := o.analyzer().AnalyzeCRC64(cp, job.Dir, job.Name, job.Coding, fast)
		if err != nil {
			return err
		}
		res.Report = &rep
		return nil
	})
}

func (o *Orchestrator) recoverSet(r *run, res *Result) {
	job := r.job
	eng, err := o.engine(job.Password)
	if err != nil {
		res.Err = err
		return
	}
	if res.Err = o.check(r, res, false); res.Err != nil {
		return
	}
	rep := res.Report
	avail := rep.VolList
	if job.Availability != nil {
		avail = job.Availability
	} else if !rep.Recoverable() {
		res.Err = rserr.ErrTooFewVolumes
		return
	}

	if rep.DataDamaged() || job.Availability != nil {
		if res.Err = o.runStage(r, Decoding, func(cp stage.Checkpointer) error {
			return o.codec.Decode(cp, job.Dir, job.Name, job.Coding, avail)
		}); res.Err != nil {
			return
		}
	}
	if res.Err = o.runStage(r, Gluing, func(cp stage.Checkpointer) error {
		return splitter.New(o.cfg.Split, eng, o.obs, cp).Glue(job.Dir, job.Name, job.Coding, job.Output, true)
	}); res.Err != nil {
		return
	}
	res.Output = job.Output
}

// repair rebuilds damaged data volumes, regenerates damaged ECC volumes and
// rewrites every checksum.
func (o *Orchestrator) repair(r *run, res *Result) {
	job := r.job
	if res.Err = o.check(r, res, false); res.Err != nil {
		return
	}
	rep := res.Report
	if !rep.Damaged() {
		return
	}
	if !rep.Recoverable() {
		res.Err = rserr.ErrTooFewVolumes
		return
	}

	paths := setPaths(job)
	n := job.Coding.DataCount
	if res.Err = o.runStage(r, Decoding, func(cp stage.Checkpointer) error {
		if rep.DataDamaged() {
			if err := o.codec.Decode(cp, job.Dir, job.Name, job.Coding, rep.VolList); err != nil {
				return err
			}
		}
		// every data volume is whole again; damaged ECC volumes are rewritten below
		for i, p := range paths {
			if i >= n && !rep.Intact[i] {
				continue
			}
			if err := filehelper.Truncate(p, types.CRCSize); err != nil {
				return err
			}
		}
		return nil
	}); res.Err != nil {
		return
	}
	if !rep.AllEccVolsOK {
		if res.Err = o.runStage(r, Encoding, func(cp stage.Checkpointer) error {
			return o.codec.Encode(cp, job.Dir, job.Name, job.Coding)
		}); res.Err != nil {
			return
		}
	}
	res.Err = o.runStage(r, IntegrityWriting, func(cp stage.Checkpointer) error {
		return o.analyzer().WriteCRC64(cp, job.Dir, job.Name, job.Coding)
	})
}

func (o *Orchestrator) test(r *run, res *Result) {
	res.Err = o.check(r, res, r.job.Fast)
}
