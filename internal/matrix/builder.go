package matrix

import (
	"alexhalogen/rsraid/internal/galois"
	"alexhalogen/rsraid/internal/stage"
	"alexhalogen/rsraid/internal/types"

	rserr "alexhalogen/rsraid/internal/errors"
)

// Builder constructs the ECC rows for one of the three codec types and
// inverts decoder substitution matrices. It checks the checkpointer after
// every row and reports PhaseMatrix progress to the observer.
type Builder struct {
	Observer stage.Observer
	Check    stage.Checkpointer
	// Parallel enables row-parallel elimination.
	Parallel bool
}

// EccRows returns the m x n matrix whose row i produces ECC volume n+i.
// Together with the implicit n x n identity on top it forms an MDS code for
// the Dispersal and Cauchy types.
func (b Builder) EccRows(c types.Coding) (*Matrix, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case types.Dispersal:
		return b.dispersal(c.DataCount, c.EccCount)
	case types.Alternative:
		return b.alternative(c.DataCount, c.EccCount)
	default:
		return b.cauchy(c.DataCount, c.EccCount)
	}
}

func (b Builder) step(row, total int) error {
	stage.OrNop(b.Observer).Progress(stage.PhaseMatrix, float64(row+1)*100/float64(total))
	return stage.Check(b.Check)
}

// dispersal reduces the (n+m) x n Vandermonde matrix V[i,j] = i^j until its
// top n rows are the identity. The reduction runs on the transpose with row
// operations (column operations on V), which keeps every n-row subset
// independent.
func (b Builder) dispersal(n, m int) (*Matrix, error) {
	total := n + m
	t := New(n, total)
	for j := range n {
		row := t.Row(j)
		for i := range total {
			row[i] = galois.Pow(uint16(i), j)
		}
	}

	pivotLog := make([]uint32, total)
	for k := range n {
		p := -1
		for r := k; r < n; r++ {
			if t.Data[r*total+k] != 0 {
				p = r
				break
			}
		}
		if p < 0 {
			return nil, rserr.NewMatrixError("dispersal", k, rserr.ErrSingular)
		}
		t.SwapRows(p, k)

		pivot := t.Row(k)
		if pivot[k] != 1 {
			inv, err := galois.Inv(pivot[k])
			if err != nil {
				return nil, rserr.NewMatrixError("dispersal", k, err)
			}
			li := galois.Log(inv)
			for c, v := range pivot {
				pivot[c] = galois.MulLog(li, galois.Log(v))
			}
		}
		for c, v := range pivot {
			pivotLog[c] = galois.Log(v)
		}

		ParallelRows(n, b.Parallel, func(lo, hi int) {
			for r := lo; r < hi; r++ {
				if r == k {
					continue
				}
				row := t.Row(r)
				f := row[k]
				if f == 0 {
					continue
				}
				eliminate(row, pivotLog, galois.Log(f))
			}
		})

		if err := b.step(k, n); err != nil {
			return nil, err
		}
	}

	ecc := New(m, n)
	for i := range m {
		row := ecc.Row(i)
		for j := range n {
			row[j] = t.Data[j*total+n+i]
		}
	}
	return ecc, nil
}

// AlternativeLogs returns the first m logarithms that are coprime with the
// group order 65535 = 3*5*17*257. The powers of such a generator stay
// distinct for every exponent below the order.
func AlternativeLogs(m int) []uint32 {
	logs := make([]uint32, 0, m)
	for l := uint32(1); len(logs) < m && l < galois.Order; l++ {
		if l%3 == 0 || l%5 == 0 || l%17 == 0 || l%257 == 0 {
			continue
		}
		logs = append(logs, l)
	}
	return logs
}

func (b Builder) alternative(n, m int) (*Matrix, error) {
	logs := AlternativeLogs(m)
	if len(logs) < m {
		return nil, rserr.NewConfigError("eccCount", "only %d generator rows available, need %d", len(logs), m)
	}
	ecc := New(m, n)
	for i, l := range logs {
		row := ecc.Row(i)
		for j := range n {
			row[j] = galois.Exp(uint32((uint64(l) * uint64(j)) % galois.Order))
		}
		if err := b.step(i, m); err != nil {
			return nil, err
		}
	}
	return ecc, nil
}

func (b Builder) cauchy(n, m int) (*Matrix, error) {
	ecc := New(m, n)
	for i := range m {
		x := galois.Exp(uint32(i + n))
		row := ecc.Row(i)
		for j := range n {
			v, err := galois.Inv(x ^ galois.Exp(uint32(j)))
			if err != nil {
				return nil, rserr.NewMatrixError("cauchy", i, err)
			}
			row[j] = v
		}
		if err := b.step(i, m); err != nil {
			return nil, err
		}
	}
	return ecc, nil
}

// Invert returns the inverse of the square matrix s. Rows flagged trivial must
// be unit rows with the 1 on the diagonal; they only eliminate their column
// from the other rows. Characteristic 2 means subtraction is XOR, so there is
// no negation step. A zero diagonal is reported as ErrSingular; for an MDS
// code this cannot happen because every leading minor is a square submatrix
// of the ECC block.
func (b Builder) Invert(s *Matrix, trivial []bool) (*Matrix, error) {
	n := s.Rows
	if s.Cols != n || len(trivial) != n {
		panic("matrix: Invert needs a square matrix and one flag per row")
	}
	a := New(n, n)
	copy(a.Data, s.Data)
	inv := Identity(n)

	aLog := make([]uint32, n)
	invLog := make([]uint32, n)
	for k := range n {
		if !trivial[k] {
			d := a.Data[k*n+k]
			if d == 0 {
				return nil, rserr.NewMatrixError("invert", k, rserr.ErrSingular)
			}
			if d != 1 {
				di, _ := galois.Inv(d)
				ld := galois.Log(di)
				ar, ir := a.Row(k), inv.Row(k)
				for c := range n {
					ar[c] = galois.MulLog(ld, galois.Log(ar[c]))
					ir[c] = galois.MulLog(ld, galois.Log(ir[c]))
				}
			}
		}
		for c, v := range a.Row(k) {
			aLog[c] = galois.Log(v)
		}
		for c, v := range inv.Row(k) {
			invLog[c] = galois.Log(v)
		}

		ParallelRows(n, b.Parallel, func(lo, hi int) {
			for r := lo; r < hi; r++ {
				if r == k || trivial[r] {
					continue
				}
				f := a.Data[r*n+k]
				if f == 0 {
					continue
				}
				lf := galois.Log(f)
				eliminate(a.Row(r), aLog, lf)
				eliminate(inv.Row(r), invLog, lf)
			}
		})

		if err := b.step(k, n); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// eliminate computes row ^= f * pivot with f and pivot in the log domain.
func eliminate(row []uint16, pivotLog []uint32, lf uint32) {
	exp := galois.ExpTable()
	pivotLog = pivotLog[:len(row)]
	for c := range row {
		row[c] ^= exp[lf+pivotLog[c]]
	}
}
