// Package matrix builds and inverts the coding matrices shared by the encoder
// and the decoder.
//
// Matrices are stored flat and row-major, so a row scan touches contiguous
// memory. At and Set are bounds checked; Row hands out the backing slice for
// inner loops.
package matrix

import (
	"fmt"

	"alexhalogen/rsraid/internal/galois"
)

// Matrix is a Rows x Cols matrix of field elements.
type Matrix struct {
	Rows, Cols int
	Data       []uint16
}

func New(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]uint16, rows*cols)}
}

// Identity returns the n x n identity matrix.
func Identity(n int) *Matrix {
	m := New(n, n)
	for i := range n {
		m.Data[i*n+i] = 1
	}
	return m
}

func (m *Matrix) check(r, c int) {
	if r < 0 || r >= m.Rows || c < 0 || c >= m.Cols {
		panic(fmt.Sprintf("matrix: index (%d,%d) out of range %dx%d", r, c, m.Rows, m.Cols))
	}
}

func (m *Matrix) At(r, c int) uint16 {
	m.check(r, c)
	return m.Data[r*m.Cols+c]
}

func (m *Matrix) Set(r, c int, v uint16) {
	m.check(r, c)
	m.Data[r*m.Cols+c] = v
}

func (m *Matrix) Row(r int) []uint16 {
	m.check(r, 0)
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

func (m *Matrix) SwapRows(a, b int) {
	if a == b {
		return
	}
	ra, rb := m.Row(a), m.Row(b)
	for i := range ra {
		ra[i], rb[i] = rb[i], ra[i]
	}
}

// Mul returns m * o.
func (m *Matrix) Mul(o *Matrix) *Matrix {
	if m.Cols != o.Rows {
		panic(fmt.Sprintf("matrix: cannot multiply %dx%d by %dx%d", m.Rows, m.Cols, o.Rows, o.Cols))
	}
	p := New(m.Rows, o.Cols)
	for r := range m.Rows {
		row := m.Row(r)
		out := p.Row(r)
		for k, a := range row {
			if a == 0 {
				continue
			}
			la := galois.Log(a)
			for c, b := range o.Row(k) {
				out[c] ^= galois.MulLog(la, galois.Log(b))
			}
		}
	}
	return p
}

// LogMatrix holds log(entry) for every entry, so that a product becomes an
// index sum into the extended exp table.
type LogMatrix struct {
	Rows, Cols int
	Data       []uint32
}

func (m *Matrix) Log() *LogMatrix {
	l := &LogMatrix{Rows: m.Rows, Cols: m.Cols, Data: make([]uint32, len(m.Data))}
	for i, v := range m.Data {
		l.Data[i] = galois.Log(v)
	}
	return l
}

func (l *LogMatrix) Row(r int) []uint32 {
	if r < 0 || r >= l.Rows {
		panic(fmt.Sprintf("matrix: log row %d out of range %d", r, l.Rows))
	}
	return l.Data[r*l.Cols : (r+1)*l.Cols]
}

// DotLog returns XOR_j exp[row[j] + vecLog[j]].
func DotLog(row, vecLog []uint32) uint16 {
	exp := galois.ExpTable()
	var acc uint16
	vecLog = vecLog[:len(row)]
	for j, l := range row {
		acc ^= exp[l+vecLog[j]]
	}
	return acc
}

// CombineLog sets out = XOR_j coef[j] * in[j] over a word-slice, with coef
// and every in[j] in the log domain. Zero coefficients are skipped.
func CombineLog(out []uint16, coef []uint32, in [][]uint32) {
	clear(out)
	exp := galois.ExpTable()
	for j, lc := range coef {
		if lc == galois.LogZero {
			continue
		}
		src := in[j][:len(out)]
		for w, l := range src {
			out[w] ^= exp[lc+l]
		}
	}
}
