// Package codec runs the encoder and decoder over whole volume files.
//
// Volumes are read as little-endian 16-bit words through buffered streams.
// Words are coded a slice at a time: one slice holds the same K word
// positions of every source volume, which keeps the pause and cancel checks
// off the per-word path.
package codec

import (
	"github.com/klauspost/cpuid/v2"
	"github.com/sirupsen/logrus"

	"alexhalogen/rsraid/internal/config"
	"alexhalogen/rsraid/internal/decoding"
	"alexhalogen/rsraid/internal/encoding"
	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/filehelper"
	"alexhalogen/rsraid/internal/galois"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/sysmem"
	"alexhalogen/rsraid/internal/types"
	"alexhalogen/rsraid/internal/volname"
)

const (
	minSliceWords = 256
	maxSliceWords = 1 << 16
	defaultL2     = 1 << 20
)

// VolumeCodec keeps one encoder and one decoder so that their matrices are
// reused across runs with the same parameters.
type VolumeCodec struct {
	cfg config.Codec
	obs stage.Observer
	enc *encoding.Encoder
	dec *decoding.Decoder

	// freeMemory is replaced in tests.
	freeMemory func() uint64
}

func New(cfg config.Codec, obs stage.Observer) *VolumeCodec {
	return &VolumeCodec{
		cfg:        cfg,
		obs:        stage.OrNop(obs),
		enc:        encoding.New(cfg.ParallelThreshold),
		dec:        decoding.New(cfg.ParallelThreshold),
		freeMemory: sysmem.FreeMemory,
	}
}

// BufferSize splits the buffer budget evenly over streams. The budget is
// either the configured byte count or a share of free memory, never more
// than the streams can hold in total.
func (vc *VolumeCodec) BufferSize(volLen int64, streams int) int {
	budget := vc.cfg.BufferBytes
	if budget <= 0 {
		budget = int64(vc.cfg.MemCoefficient * float64(vc.freeMemory()))
	}
	budget = min(budget, volLen*int64(streams))
	per := budget / int64(streams)
	per -= per & 1
	return int(max(per, types.WordSize))
}

// SliceWords is the number of word positions coded per step.
func (vc *VolumeCodec) SliceWords(inputs, outputs int) int {
	if vc.cfg.SliceWords > 0 {
		return vc.cfg.SliceWords
	}
	l2 := cpuid.CPU.Cache.L2
	if l2 <= 0 {
		l2 = defaultL2
	}
	// a word costs 2 bytes raw plus 4 in log form per input, 2 per output
	k := l2 / (inputs*6 + outputs*2)
	return min(max(k, minSliceWords), maxSliceWords)
}

// streams holds the open volumes of one run.
type streams struct {
	readers []*filehelper.WordReader
	writers []*filehelper.FileWriter
}

// abort closes every stream and removes the targets.
func (s *streams) abort() {
	for _, r := range s.readers {
		r.Close()
	}
	for _, w := range s.writers {
		w.Abort()
	}
	s.readers, s.writers = nil, nil
}

// run is the state shared by Encode and Decode once the matrix is ready.
type run struct {
	vc    *VolumeCodec
	check stage.Checkpointer
	log   *logrus.Entry

	inPaths  []string
	outPaths []string
	process  func(in [][]uint32, out [][]uint16)
}

// Encode creates the m ECC volumes of the set name in dir from its n data
// volumes.
func (vc *VolumeCodec) Encode(check stage.Checkpointer, dir, name string, c types.Coding) error {
	if err := vc.enc.Configure(c); err != nil {
		return err
	}
	if err := vc.enc.Prepare(vc.obs, check); err != nil {
		return err
	}
	names, err := volname.SetNames(name, c)
	if err != nil {
		return err
	}
	r := &run{
		vc:      vc,
		check:   check,
		log:     logger.Console().WithFields(logrus.Fields{"stage": "encode", "name": name, "coding": c.String()}),
		process: vc.enc.ProcessSlice,
	}
	for i, n := range names {
		p := volname.JoinPath(dir, n)
		if i < c.DataCount {
			r.inPaths = append(r.inPaths, p)
		} else {
			r.outPaths = append(r.outPaths, p)
		}
	}
	return r.code()
}

// Decode rebuilds the data volumes missing from availability. Volumes that
// are already present are not rewritten.
func (vc *VolumeCodec) Decode(check stage.Checkpointer, dir, name string, c types.Coding, availability []int) error {
	if err := vc.dec.Configure(c, availability); err != nil {
		return err
	}
	if err := vc.dec.Prepare(vc.obs, check); err != nil {
		return err
	}
	names, err := volname.SetNames(name, c)
	if err != nil {
		return err
	}
	r := &run{
		vc:      vc,
		check:   check,
		log:     logger.Console().WithFields(logrus.Fields{"stage": "decode", "name": name, "coding": c.String()}),
		process: vc.dec.ProcessSlice,
	}
	for _, v := range vc.dec.Inputs() {
		r.inPaths = append(r.inPaths, volname.JoinPath(dir, names[v]))
	}
	for _, i := range vc.dec.Missing() {
		r.outPaths = append(r.outPaths, volname.JoinPath(dir, names[i]))
	}
	r.log.WithField("missing", vc.dec.Missing()).Debug("decoding")
	return r.code()
}

// volumeLength checks that every source has the same even length.
func (r *run) volumeLength() (int64, error) {
	var length int64 = -1
	for _, p := range r.inPaths {
		size, err := filehelper.FileSize(p)
		if err != nil {
			return 0, err
		}
		if size < 0 {
			return 0, rserr.NewFileError("open", p, rserr.ErrTooFewVolumes)
		}
		if length >= 0 && size != length {
			return 0, rserr.NewFileError("stat", p, rserr.ErrSizeMismatch)
		}
		length = size
	}
	if length%types.WordSize != 0 {
		return 0, rserr.NewFileError("stat", r.inPaths[0], rserr.ErrSizeMismatch)
	}
	return length, nil
}

func (r *run) progress(phase stage.Phase, done, total int) {
	if total > 0 {
		r.vc.obs.Progress(phase, float64(done)*100/float64(total))
	}
}

func (r *run) code() (err error) {
	obs := r.vc.obs
	s := &streams{}
	defer func() {
		if err != nil {
			s.abort()
			r.log.WithError(err).Warn("coding aborted")
		}
	}()

	if len(r.outPaths) == 0 {
		for _, p := range []stage.Phase{stage.PhaseOpen, stage.PhaseCode, stage.PhaseClose} {
			obs.PhaseFinished(p)
		}
		return nil
	}

	volLen, err := r.volumeLength()
	if err != nil {
		return err
	}
	total := len(r.inPaths) + len(r.outPaths)
	bufSize := r.vc.BufferSize(volLen, total)

	// open
	for _, p := range r.inPaths {
		rd, err := filehelper.OpenWordReader(p, bufSize)
		if err != nil {
			return err
		}
		s.readers = append(s.readers, rd)
		r.progress(stage.PhaseOpen, len(s.readers), total)
		if err := stage.Check(r.check); err != nil {
			return err
		}
	}
	for _, p := range r.outPaths {
		w, err := filehelper.CreateFileWriter(p, bufSize)
		if err != nil {
			return err
		}
		s.writers = append(s.writers, w)
		r.progress(stage.PhaseOpen, len(s.readers)+len(s.writers), total)
		if err := stage.Check(r.check); err != nil {
			return err
		}
	}
	obs.PhaseFinished(stage.PhaseOpen)

	// code
	words := int(volLen / types.WordSize)
	k := r.vc.SliceWords(len(r.inPaths), len(r.outPaths))
	raw := make([]uint16, k)
	in := make([][]uint32, len(r.inPaths))
	for i := range in {
		in[i] = make([]uint32, k)
	}
	out := make([][]uint16, len(r.outPaths))
	for i := range out {
		out[i] = make([]uint16, k)
	}
	inView := make([][]uint32, len(in))
	outView := make([][]uint16, len(out))
	for done := 0; done < words; {
		step := min(k, words-done)
		for i, rd := range s.readers {
			if err := rd.ReadWords(raw[:step]); err != nil {
				return err
			}
			galois.LogWords(in[i][:step], raw[:step])
			inView[i] = in[i][:step]
		}
		for i := range out {
			outView[i] = out[i][:step]
		}
		r.process(inView, outView)
		for i, w := range s.writers {
			if err := w.WriteWords(outView[i]); err != nil {
				return err
			}
		}
		done += step
		r.progress(stage.PhaseCode, done, words)
		if err := stage.Check(r.check); err != nil {
			return err
		}
	}
	obs.PhaseFinished(stage.PhaseCode)

	// close; every stream is closed even when one of them fails
	var closeErr error
	closed := 0
	readers, writers := s.readers, s.writers
	s.readers, s.writers = nil, nil
	for _, rd := range readers {
		if err := rd.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		closed++
		r.progress(stage.PhaseClose, closed, total)
	}
	for _, w := range writers {
		if err := w.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		closed++
		r.progress(stage.PhaseClose, closed, total)
		if closeErr == nil {
			closeErr = stage.Check(r.check)
		}
	}
	if closeErr != nil {
		filehelper.RemoveAll(r.outPaths...)
		return closeErr
	}
	obs.PhaseFinished(stage.PhaseClose)
	r.log.WithField("words", words).Debug("coding finished")
	return nil
}
