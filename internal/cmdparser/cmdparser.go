// Package cmdparser converts volume index lists between their command line
// form "[0, 1, 4]" and availability vectors.
package cmdparser

import (
	"strconv"
	"strings"

	"alexhalogen/rsraid/internal/logger"
)

// CSVToIntArr parses "[a, b, ...]" into non-negative integers. It returns nil
// for malformed input and an empty slice for "[]".
func CSVToIntArr(line string) []int {
	if len(line) < 2 {
		return nil
	}

	if line[0] != '[' || line[len(line)-1] != ']' {
		return nil
	}

	if len(line) == 2 {
		return []int{}
	}

	line = line[1 : len(line)-1]
	pos := strings.Split(line, ",")
	ret := make([]int, len(pos))

	for i, s := range pos {
		val, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			logger.Console().WithError(err).Debug("bad volume number")
			return nil
		}
		if val < 0 {
			logger.Console().Debugf("negative volume number: %d", val)
			return nil
		}
		ret[i] = val
	}
	return ret
}

// AvailabilityToCSV formats an availability vector the way CSVToIntArr
// reads it.
func AvailabilityToCSV(vols []int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseAvailability parses a volume list and checks every index against the
// set size.
func ParseAvailability(line string, total int) ([]int, bool) {
	vols := CSVToIntArr(line)
	if vols == nil {
		return nil, false
	}
	for _, v := range vols {
		if v >= total {
			return nil, false
		}
	}
	return vols, true
}
