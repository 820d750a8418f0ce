package filehelper

// Memset sets n bytes of a starting at offset to c, clipped to len(a).
func Memset(a []byte, c byte, n int, offset int) {
	count := n
	if len(a)-offset < n {
		count = len(a) - offset
	}
	for i := offset; i < offset+count; i++ {
		a[i] = c
	}
}

// RoundEven rounds n up to the next multiple of the word size.
func RoundEven(n int64) int64 {
	return n + n&1
}

// CeilDiv returns ceil(a / b) for positive b.
func CeilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
