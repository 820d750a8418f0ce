// Package sysmem reports the memory currently available to size I/O buffers.
package sysmem

// Fallback is returned when the platform cannot report free memory.
const Fallback uint64 = 256 << 20

// FreeMemory returns the currently free physical memory in bytes.
func FreeMemory() uint64 {
	if free, ok := freeMemory(); ok && free > 0 {
		return free
	}
	return Fallback
}
