// Package decoding reconstructs missing data words from any n surviving
// volumes of a set.
package decoding

import (
	"slices"

	"github.com/sirupsen/logrus"

	"alexhalogen/rsraid/internal/galois"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/matrix"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/types"

	rserr "alexhalogen/rsraid/internal/errors"
)

// Decoder holds the inverted n x n substitution matrix in log form.
//
// Input position i is fed by data volume i when that volume is available,
// otherwise by the next available ECC volume from the availability vector.
// Rows of available data volumes stay unit rows ("trivial") and are passed
// through without a dot product.
type Decoder struct {
	coding     types.Coding
	volList    []int
	changed    bool
	configured bool
	threshold  int

	inputs  []int  // volume index feeding each input position
	missing []int  // data positions that are reconstructed
	trivial []bool // per data position
	fLog    *matrix.LogMatrix
}

func New(threshold int) *Decoder {
	if threshold <= 0 {
		threshold = matrix.DefaultParallelThreshold
	}
	return &Decoder{threshold: threshold}
}

// Configure validates the coding and the availability vector. Entries are
// normalized to their absolute value; no producer emits negative indices
// today but older vectors may carry them.
func (d *Decoder) Configure(c types.Coding, availability []int) error {
	d.configured = false
	if err := c.Validate(); err != nil {
		return err
	}
	vols := make([]int, len(availability))
	for i, v := range availability {
		if v < 0 {
			v = -v
		}
		if v >= c.Total() {
			return rserr.NewConfigError("availability", "volume %d out of range for %s", v, c)
		}
		vols[i] = v
	}
	if len(vols) < c.DataCount {
		return rserr.NewConfigError("availability", "%d volumes listed, need at least %d", len(vols), c.DataCount)
	}

	if c != d.coding || !slices.Equal(vols, d.volList) || d.fLog == nil {
		d.changed = true
	}
	d.coding = c
	d.volList = vols
	d.configured = true
	return nil
}

func (d *Decoder) parallel() bool {
	return d.coding.Total() >= d.threshold
}

// Inputs returns, per input position, the volume index to read from.
func (d *Decoder) Inputs() []int { return d.inputs }

// Missing returns the data positions the decoder reconstructs, in order.
func (d *Decoder) Missing() []int { return d.missing }

// Trivial reports whether data position i is passed through.
func (d *Decoder) Trivial(i int) bool { return d.trivial[i] }

// assign works out which volume feeds every input position.
func (d *Decoder) assign() error {
	n := d.coding.DataCount
	present := make([]bool, n)
	var ecc []int
	for _, v := range d.volList {
		if v < n {
			present[v] = true
		} else if !slices.Contains(ecc, v) {
			ecc = append(ecc, v)
		}
	}

	d.inputs = make([]int, n)
	d.trivial = make([]bool, n)
	d.missing = nil
	next := 0
	for i := range n {
		if present[i] {
			d.inputs[i] = i
			d.trivial[i] = true
			continue
		}
		if next >= len(ecc) {
			return rserr.ErrTooFewVolumes
		}
		d.inputs[i] = ecc[next]
		d.missing = append(d.missing, i)
		next++
	}
	return nil
}

// Prepare rebuilds and inverts the substitution matrix when the coding or the
// availability vector changed. Progress is split between building the ECC
// rows (first half) and the inversion (second half).
func (d *Decoder) Prepare(obs stage.Observer, check stage.Checkpointer) error {
	if !d.configured {
		return rserr.ErrNotConfigured
	}
	obs = stage.OrNop(obs)
	if !d.changed {
		obs.PhaseFinished(stage.PhaseMatrix)
		return nil
	}
	log := logger.Console().WithFields(logrus.Fields{"stage": "decode", "coding": d.coding.String()})

	fail := func(err error) error {
		d.configured = false
		d.fLog = nil
		log.WithError(err).Warn("substitution matrix build failed")
		return err
	}

	if err := d.assign(); err != nil {
		return fail(err)
	}
	n := d.coding.DataCount
	s := matrix.Identity(n)
	if len(d.missing) > 0 {
		b := matrix.Builder{
			Observer: stage.Scaled{Observer: obs, Base: 0, Span: 50},
			Check:    check,
			Parallel: d.parallel(),
		}
		ecc, err := b.EccRows(d.coding)
		if err != nil {
			return fail(err)
		}
		for _, i := range d.missing {
			row := s.Row(i)
			copy(row, ecc.Row(d.inputs[i]-n))
		}

		b.Observer = stage.Scaled{Observer: obs, Base: 50, Span: 50}
		inv, err := b.Invert(s, d.trivial)
		if err != nil {
			return fail(err)
		}
		s = inv
	}
	d.fLog = s.Log()
	d.changed = false
	log.WithField("missing", d.missing).Debug("substitution matrix ready")
	obs.PhaseFinished(stage.PhaseMatrix)
	return nil
}

// Process reconstructs all n data words from the n input words given as
// logarithms. Trivial rows pass their input through.
func (d *Decoder) Process(dataEccLog []uint32, outData []uint16) {
	n := d.coding.DataCount
	matrix.ParallelRows(n, d.parallel(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if d.trivial[i] {
				outData[i] = galois.Exp(dataEccLog[i])
				continue
			}
			outData[i] = matrix.DotLog(d.fLog.Row(i), dataEccLog)
		}
	})
}

// ProcessSlice reconstructs a word-slice for the missing positions only:
// out[k] receives the words of data volume Missing()[k].
func (d *Decoder) ProcessSlice(inLog [][]uint32, out [][]uint16) {
	matrix.ParallelRows(len(d.missing), d.parallel(), func(lo, hi int) {
		for k := lo; k < hi; k++ {
			matrix.CombineLog(out[k], d.fLog.Row(d.missing[k]), inLog)
		}
	})
}
