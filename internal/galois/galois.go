// Package galois implements GF(2^16) arithmetic with log/antilog tables.
//
// The exp table is mirrored past the multiplicative order so that the sum of
// two logarithms never needs a modulo reduction, and log(0) points into a
// zero-filled tail so that any product with zero comes out as zero without a
// branch. The encoder and decoder hot loops work directly on Log/Exp values.
package galois

import "errors"

const (
	// Polynomial is x^16 + x^12 + x^3 + x + 1.
	Polynomial = 0x1100B
	// FieldSize is the number of elements in the field.
	FieldSize = 1 << 16
	// Order is the order of the multiplicative group.
	Order = FieldSize - 1
	// LogZero is the logarithm assigned to 0.
	LogZero = 2 * Order
	// ExpSize covers log(a)+log(b) for any pair including two zeros.
	ExpSize = 4*Order + 1
)

var ErrDivideByZero = errors.New("galois: division by zero")

var (
	logTable [FieldSize]uint32
	expTable [ExpSize]uint16
)

func init() {
	x := uint32(1)
	for i := uint32(0); i < Order; i++ {
		expTable[i] = uint16(x)
		logTable[x] = i
		x <<= 1
		if x&FieldSize != 0 {
			x ^= Polynomial
		}
	}
	for i := Order; i < LogZero; i++ {
		expTable[i] = expTable[i-Order]
	}
	// expTable[LogZero:] stays zero
	logTable[0] = LogZero
}

// Log returns the discrete logarithm of a, or LogZero for a == 0.
func Log(a uint16) uint32 {
	return logTable[a]
}

// Exp returns the antilog of l. Any l >= LogZero yields 0.
func Exp(l uint32) uint16 {
	return expTable[l]
}

// ExpTable exposes the extended antilog table for inner loops.
func ExpTable() *[ExpSize]uint16 {
	return &expTable
}

func Add(a, b uint16) uint16 {
	return a ^ b
}

func Sub(a, b uint16) uint16 {
	return a ^ b
}

func Mul(a, b uint16) uint16 {
	return expTable[logTable[a]+logTable[b]]
}

// MulLog multiplies two values already in the log domain.
func MulLog(logA, logB uint32) uint16 {
	return expTable[logA+logB]
}

func Div(a, b uint16) (uint16, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return expTable[logTable[a]+Order-logTable[b]], nil
}

// Pow returns a^p. Pow(a, 0) is 1 for every a, including 0.
func Pow(a uint16, p int) uint16 {
	if p == 0 {
		return 1
	}
	if a == 0 {
		return 0
	}
	l := (uint64(logTable[a]) * uint64(p)) % Order
	return expTable[l]
}

func Inv(a uint16) (uint16, error) {
	if a == 0 {
		return 0, ErrDivideByZero
	}
	return expTable[Order-logTable[a]], nil
}

// LogWords converts src into the log domain, writing into dst.
func LogWords(dst []uint32, src []uint16) {
	dst = dst[:len(src)]
	for i, w := range src {
		dst[i] = logTable[w]
	}
}
