// Package splitter cuts a source file into data volumes and glues data
// volumes back into the source file, optionally encrypting the payload.
//
// A data volume holds its share of the source zero padded to the common
// payload length, followed by the 8 byte little-endian count of real bytes.
package splitter

import (
	"bufio"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"alexhalogen/rsraid/internal/config"
	"alexhalogen/rsraid/internal/cryptoengine"
	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/filehelper"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/types"
	"alexhalogen/rsraid/internal/volname"
)

const defaultChunk = 1 << 20

type Splitter struct {
	cfg    config.Split
	engine *cryptoengine.Engine
	obs    stage.Observer
	check  stage.Checkpointer
}

// New returns a splitter. A nil engine stores plain data.
func New(cfg config.Split, engine *cryptoengine.Engine, obs stage.Observer, check stage.Checkpointer) *Splitter {
	return &Splitter{cfg: cfg, engine: engine, obs: stage.OrNop(obs), check: check}
}

// chunk is the plain size handled between two checkpoints.
func (s *Splitter) chunk() int {
	if s.engine != nil {
		return s.engine.BlockSize()
	}
	if s.cfg.BufferBytes <= 0 {
		return defaultChunk
	}
	return s.cfg.BufferBytes
}

// Layout is the size split of one source file.
type Layout struct {
	Share   int64 // plain bytes per volume, the last ones may carry less
	Payload int64 // stored bytes per volume before the trailer
}

// Plan computes the layout of a source of size bytes over n volumes.
func (s *Splitter) Plan(size int64, n int) Layout {
	share := filehelper.RoundEven(filehelper.CeilDiv(size, int64(n)))
	payload := share
	if s.engine != nil {
		payload = filehelper.RoundEven(s.engine.EncryptedLen(share))
	}
	return Layout{Share: share, Payload: payload}
}

func chunkIndex(vol int, c uint64) uint64 {
	return uint64(vol)<<32 | c
}

type progress struct {
	obs   stage.Observer
	phase stage.Phase
	total int64
	done  int64
}

func (p *progress) add(n int64) {
	p.done += n
	if p.total > 0 {
		p.obs.Progress(p.phase, float64(p.done)*100/float64(p.total))
	}
}

// Split writes the n data volumes of srcPath into dir and returns their
// paths. Volumes already written are removed when Split fails.
func (s *Splitter) Split(srcPath, dir string, c types.Coding) (paths []string, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	_, name := volname.SplitPath(srcPath)
	names, err := volname.SetNames(name, c)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, rserr.NewFileError("open", srcPath, err)
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return nil, rserr.NewFileError("stat", srcPath, err)
	}

	layout := s.Plan(fi.Size(), c.DataCount)
	log := logger.Console().WithFields(logrus.Fields{
		"stage":     "split",
		"source":    srcPath,
		"coding":    c.String(),
		"share":     layout.Share,
		"encrypted": s.engine != nil,
	})
	log.Debug("splitting source")

	defer func() {
		if err != nil {
			filehelper.RemoveAll(paths...)
			paths = nil
			log.WithError(err).Warn("split aborted")
		}
	}()

	prog := &progress{obs: s.obs, phase: stage.PhaseSplit, total: fi.Size()}
	r := bufio.NewReaderSize(src, s.cfg.BufferBytes)
	remaining := fi.Size()
	for i := range c.DataCount {
		path := volname.JoinPath(dir, names[i])
		paths = append(paths, path)
		plain := min(layout.Share, remaining)
		if err = s.writeVolume(path, i, io.LimitReader(r, plain), plain, layout.Payload, prog); err != nil {
			return paths, err
		}
		remaining -= plain
	}
	s.obs.PhaseFinished(stage.PhaseSplit)
	return paths, nil
}

func (s *Splitter) writeVolume(path string, vol int, src io.Reader, plain, payload int64, prog *progress) error {
	w, err := filehelper.CreateFileWriter(path, s.cfg.BufferBytes)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		w.Abort()
		return err
	}

	reader := filehelper.NewChunkedReader(src)
	buf := [][]byte{make([]byte, s.chunk())}
	var stored int64
	for idx := uint64(0); ; idx++ {
		n, last, eof, err := reader.ReadNext(buf)
		if err != nil {
			return fail(rserr.NewFileError("read", path, err))
		}
		if n > 0 {
			size := len(buf[0])
			if eof {
				size = last
			}
			data := buf[0][:size]
			if s.engine != nil {
				if data, err = s.engine.Encrypt(chunkIndex(vol, idx), data); err != nil {
					return fail(err)
				}
			}
			if _, err := w.Write(data); err != nil {
				return fail(err)
			}
			stored += int64(len(data))
			prog.add(int64(size))
		}
		if err := stage.Check(s.check); err != nil {
			return fail(err)
		}
		if eof {
			break
		}
	}
	if stored > payload {
		return fail(rserr.NewFileError("write", path, rserr.ErrBadTrailer))
	}
	if err := w.WriteZeros(payload - stored); err != nil {
		return fail(err)
	}
	if err := w.WriteTrailer(uint64(plain)); err != nil {
		return fail(rserr.NewFileError("write", path, err))
	}
	if err := w.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// Glue concatenates the real bytes of every data volume of name into
// outPath. crcPresent selects where the trailer sits. The output is removed
// when Glue fails.
func (s *Splitter) Glue(dir, name string, c types.Coding, outPath string, crcPresent bool) (err error) {
	if err := c.Validate(); err != nil {
		return err
	}
	names, err := volname.SetNames(name, c)
	if err != nil {
		return err
	}
	tail := int64(types.TrailerSize)
	if crcPresent {
		tail += types.CRCSize
	}

	log := logger.Console().WithFields(logrus.Fields{"stage": "glue", "name": name, "coding": c.String()})

	lengths := make([]int64, c.DataCount)
	prog := &progress{obs: s.obs, phase: stage.PhaseGlue}
	for i := range c.DataCount {
		path := volname.JoinPath(dir, names[i])
		if lengths[i], err = s.realLength(path, tail); err != nil {
			return err
		}
		prog.total += lengths[i]
	}

	out, err := filehelper.CreateFileWriter(outPath, s.cfg.BufferBytes)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Abort()
			log.WithError(err).Warn("glue aborted")
		}
	}()

	for i := range c.DataCount {
		if err = s.readVolume(volname.JoinPath(dir, names[i]), i, lengths[i], out, prog); err != nil {
			return err
		}
	}
	if err = out.Close(); err != nil {
		os.Remove(outPath)
		return err
	}
	s.obs.PhaseFinished(stage.PhaseGlue)
	log.WithField("bytes", prog.total).Debug("glued")
	return nil
}

// realLength reads and validates the trailer of a data volume.
func (s *Splitter) realLength(path string, tail int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, rserr.NewFileError("open", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, rserr.NewFileError("stat", path, err)
	}
	payload := fi.Size() - tail
	if payload < 0 {
		return 0, rserr.NewFileError("read", path, rserr.ErrBadTrailer)
	}
	v, err := filehelper.ReadTrailer(f, payload)
	if err != nil {
		return 0, rserr.NewFileError("read", path, err)
	}
	n := int64(v)
	stored := n
	if s.engine != nil {
		stored = s.engine.EncryptedLen(n)
	}
	if n < 0 || stored > payload {
		return 0, rserr.NewFileError("read", path, rserr.ErrBadTrailer)
	}
	return n, nil
}

func (s *Splitter) readVolume(path string, vol int, n int64, out io.Writer, prog *progress) error {
	f, err := os.Open(path)
	if err != nil {
		return rserr.NewFileError("open", path, err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, s.cfg.BufferBytes)

	chunk := int64(s.chunk())
	buf := make([]byte, chunk+cryptoengine.Overhead)
	for idx := uint64(0); n > 0; idx++ {
		plain := min(chunk, n)
		stored := plain
		if s.engine != nil {
			stored = int64(s.engine.StoredLen(int(plain)))
		}
		data := buf[:stored]
		if _, err := io.ReadFull(r, data); err != nil {
			return rserr.NewFileError("read", path, err)
		}
		if s.engine != nil {
			if data, err = s.engine.Decrypt(chunkIndex(vol, idx), data); err != nil {
				return err
			}
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		n -= plain
		prog.add(plain)
		if err := stage.Check(s.check); err != nil {
			return err
		}
	}
	return nil
}
