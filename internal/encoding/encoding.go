// Package encoding produces ECC words from data words with a systematic
// Reed-Solomon code over GF(2^16).
package encoding

import (
	"github.com/sirupsen/logrus"

	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/matrix"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/types"

	rserr "alexhalogen/rsraid/internal/errors"
)

// Encoder owns the m x n ECC matrix in log form. The matrix is rebuilt only
// when the coding parameters change.
type Encoder struct {
	coding     types.Coding
	changed    bool
	configured bool
	threshold  int

	ecc  *matrix.Matrix
	fLog *matrix.LogMatrix
}

// New returns an unconfigured encoder. Rows are computed in parallel once
// n+m reaches threshold; zero selects matrix.DefaultParallelThreshold.
func New(threshold int) *Encoder {
	if threshold <= 0 {
		threshold = matrix.DefaultParallelThreshold
	}
	return &Encoder{threshold: threshold}
}

func (e *Encoder) Configure(c types.Coding) error {
	if err := c.Validate(); err != nil {
		e.configured = false
		return err
	}
	if c != e.coding || e.fLog == nil {
		e.changed = true
	}
	e.coding = c
	e.configured = true
	return nil
}

func (e *Encoder) Coding() types.Coding { return e.coding }

func (e *Encoder) parallel() bool {
	return e.coding.Total() >= e.threshold
}

// Prepare builds the ECC matrix when the configuration changed. A cancelled
// or failed build leaves the encoder unconfigured.
func (e *Encoder) Prepare(obs stage.Observer, check stage.Checkpointer) error {
	if !e.configured {
		return rserr.ErrNotConfigured
	}
	obs = stage.OrNop(obs)
	if !e.changed {
		obs.PhaseFinished(stage.PhaseMatrix)
		return nil
	}

	log := logger.Console().WithFields(logrus.Fields{"stage": "encode", "coding": e.coding.String()})
	b := matrix.Builder{Observer: obs, Check: check, Parallel: e.parallel()}
	ecc, err := b.EccRows(e.coding)
	if err != nil {
		e.configured = false
		e.fLog = nil
		log.WithError(err).Warn("ECC matrix build failed")
		return err
	}
	e.ecc = ecc
	e.fLog = ecc.Log()
	e.changed = false
	log.Debug("ECC matrix ready")
	obs.PhaseFinished(stage.PhaseMatrix)
	return nil
}

// Matrix returns the m x n ECC matrix built by Prepare.
func (e *Encoder) Matrix() *matrix.Matrix { return e.ecc }

// Process computes one ECC word per row from one word per data volume, with
// the data words given as logarithms.
func (e *Encoder) Process(dataLog []uint32, outEcc []uint16) {
	m := e.coding.EccCount
	matrix.ParallelRows(m, e.parallel(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			outEcc[i] = matrix.DotLog(e.fLog.Row(i), dataLog)
		}
	})
}

// ProcessSlice codes a word-slice: dataLog[j] holds K logarithms read from
// data volume j and outEcc[i] receives the K words for ECC volume n+i.
func (e *Encoder) ProcessSlice(dataLog [][]uint32, outEcc [][]uint16) {
	m := e.coding.EccCount
	matrix.ParallelRows(m, e.parallel(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			matrix.CombineLog(outEcc[i], e.fLog.Row(i), dataLog)
		}
	})
}
