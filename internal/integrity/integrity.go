// Package integrity appends and verifies the CRC-64 of every volume of a set.
package integrity

import (
	"bufio"
	"hash"
	"hash/crc64"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/filehelper"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/types"
	"alexhalogen/rsraid/internal/volname"
)

var table = crc64.MakeTable(crc64.ECMA)

const defaultBuffer = 1 << 20

// Report is the outcome of a check.
type Report struct {
	Coding types.Coding `yaml:"coding"`
	// VolList holds the intact data volumes in index order followed by the
	// intact ECC volumes. It is the availability vector for the decoder.
	VolList      []int             `yaml:"volumes"`
	Intact       []bool            `yaml:"-"`
	AllEccVolsOK bool              `yaml:"allEccOK"`
	VolumeSize   int64             `yaml:"volumeSize"`
	Stats        stage.DamageStats `yaml:"damage"`
}

// Recoverable reports whether enough volumes survived to rebuild the data.
func (r Report) Recoverable() bool {
	return len(r.VolList) >= r.Coding.DataCount
}

// DataDamaged reports whether at least one data volume must be rebuilt.
func (r Report) DataDamaged() bool {
	return r.Stats.MissingCount > 0
}

// Damaged reports whether any volume of the set is missing or corrupt.
func (r Report) Damaged() bool {
	return r.DataDamaged() || !r.AllEccVolsOK
}

type Analyzer struct {
	obs     stage.Observer
	bufSize int
}

func New(obs stage.Observer, bufSize int) *Analyzer {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	return &Analyzer{obs: stage.OrNop(obs), bufSize: bufSize}
}

func (a *Analyzer) paths(dir, name string, c types.Coding) ([]string, error) {
	names, err := volname.SetNames(name, c)
	if err != nil {
		return nil, err
	}
	for i := range names {
		names[i] = volname.JoinPath(dir, names[i])
	}
	return names, nil
}

// checksum hashes the first n bytes of f with a checkpoint after every
// buffer.
func (a *Analyzer) checksum(check stage.Checkpointer, f *os.File, n int64) (uint64, error) {
	h := crc64.New(table)
	r := bufio.NewReaderSize(io.LimitReader(f, n), a.bufSize)
	if err := copyChecked(check, h, r, a.bufSize); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func copyChecked(check stage.Checkpointer, h hash.Hash64, r io.Reader, bufSize int) error {
	buf := make([]byte, bufSize)
	for {
		n, err := r.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := stage.Check(check); err != nil {
			return err
		}
	}
}

// WriteCRC64 appends the checksum of its current content to every volume.
func (a *Analyzer) WriteCRC64(check stage.Checkpointer, dir, name string, c types.Coding) error {
	paths, err := a.paths(dir, name, c)
	if err != nil {
		return err
	}
	log := logger.Console().WithFields(logrus.Fields{"stage": "integrity", "name": name, "coding": c.String()})
	for i, p := range paths {
		if err := a.appendCRC(check, p); err != nil {
			log.WithError(err).Warn("integrity write failed")
			return err
		}
		a.obs.Progress(stage.PhaseIntegrity, float64(i+1)*100/float64(len(paths)))
	}
	a.obs.PhaseFinished(stage.PhaseIntegrity)
	log.Debug("checksums written")
	return nil
}

func (a *Analyzer) appendCRC(check stage.Checkpointer, path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return rserr.NewFileError("open", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return rserr.NewFileError("stat", path, err)
	}
	sum, err := a.checksum(check, f, fi.Size())
	if err != nil {
		return rserr.NewFileError("read", path, err)
	}
	if _, err := f.Seek(fi.Size(), io.SeekStart); err != nil {
		return rserr.NewFileError("write", path, err)
	}
	if err := filehelper.WriteTrailer(f, sum); err != nil {
		return rserr.NewFileError("write", path, err)
	}
	if err := f.Sync(); err != nil {
		return rserr.NewFileError("write", path, err)
	}
	return nil
}

// expectedSize is the most common size among the present volumes. Ties go to
// the size seen first.
func expectedSize(sizes []int64) int64 {
	count := make(map[int64]int)
	best, bestCount := int64(-1), 0
	for _, s := range sizes {
		if s < 0 {
			continue
		}
		count[s]++
		if count[s] > bestCount {
			best, bestCount = s, count[s]
		}
	}
	return best
}

// AnalyzeCRC64 checks every volume of the set. In fast mode only presence
// and size are checked.
func (a *Analyzer) AnalyzeCRC64(check stage.Checkpointer, dir, name string, c types.Coding, fast bool) (Report, error) {
	if err := c.Validate(); err != nil {
		return Report{}, err
	}
	paths, err := a.paths(dir, name, c)
	if err != nil {
		return Report{}, err
	}
	log := logger.Console().WithFields(logrus.Fields{"stage": "integrity", "name": name, "coding": c.String(), "fast": fast})

	sizes := make([]int64, len(paths))
	for i, p := range paths {
		if sizes[i], err = filehelper.FileSize(p); err != nil {
			return Report{}, err
		}
	}
	// A matching checksum vouches for a volume whatever its size, so the
	// size vote only counts checksummed volumes. Fast mode votes over every
	// present volume.
	rep := Report{Coding: c, Intact: make([]bool, len(paths))}
	votes := sizes
	if !fast {
		votes = make([]int64, len(paths))
		for i, p := range paths {
			ok, err := a.verify(check, p, sizes[i])
			if err != nil {
				return Report{}, err
			}
			votes[i] = -1
			if ok {
				votes[i] = sizes[i]
			}
			a.obs.Progress(stage.PhaseIntegrity, float64(i+1)*100/float64(len(paths)))
		}
	}
	want := expectedSize(votes)
	rep.VolumeSize = want
	for i := range paths {
		if err := stage.Check(check); err != nil {
			return Report{}, err
		}
		rep.Intact[i] = votes[i] >= types.TrailerSize+types.CRCSize && votes[i] == want
		if !rep.Intact[i] {
			log.WithField("volume", i).Info("volume damaged")
		}
		if fast {
			a.obs.Progress(stage.PhaseIntegrity, float64(i+1)*100/float64(len(paths)))
		}
	}

	n, m := c.DataCount, c.EccCount
	damaged, eccOK := 0, 0
	for i, ok := range rep.Intact {
		if ok {
			rep.VolList = append(rep.VolList, i)
		} else {
			damaged++
		}
		if i < n && !ok {
			rep.Stats.MissingCount++
		}
		if i >= n && ok {
			eccOK++
		}
	}
	rep.AllEccVolsOK = eccOK == m
	rep.Stats.AltEccPresentCount = eccOK
	rep.Stats.PercentDamage = float64(damaged) * 100 / float64(n+m)
	rep.Stats.PercentReserve = float64(eccOK-rep.Stats.MissingCount) * 100 / float64(m)

	a.obs.Damage(rep.Stats)
	a.obs.PhaseFinished(stage.PhaseIntegrity)
	log.WithFields(logrus.Fields{"missing": rep.Stats.MissingCount, "eccOK": eccOK}).Debug("check finished")
	return rep, nil
}

// verify reports whether the CRC-64 stored at the end of the volume matches
// its body.
func (a *Analyzer) verify(check stage.Checkpointer, path string, size int64) (bool, error) {
	if size < types.TrailerSize+types.CRCSize {
		return false, stage.Check(check)
	}
	f, err := os.Open(path)
	if err != nil {
		return false, nil
	}
	defer f.Close()
	body := size - types.CRCSize
	stored, err := filehelper.ReadTrailer(f, body)
	if err != nil {
		return false, nil
	}
	sum, err := a.checksum(check, f, body)
	if rserr.IsCancelled(err) {
		return false, err
	}
	return err == nil && sum == stored, nil
}
