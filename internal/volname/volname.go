// Package volname packs the coding parameters of a volume into its file name.
//
// A volume name is a 13 character prefix followed by "." and the name of the
// protected file:
//
//	<type><volume %04X><data count %04X><ecc count %04X>.<name>
//
// with type '@' (Dispersal), 'A' (Alternative) or 'C' (Cauchy).
package volname

import (
	"fmt"
	"path/filepath"
	"strconv"

	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/types"
)

const (
	PrefixLen   = 13
	MaxField    = 0xFFFF
	maxFileName = 255
	// MaxNameLen is the longest protected file name whose volume names still
	// fit the usual 255 byte file name limit.
	MaxNameLen  = maxFileName - PrefixLen - 1
	fieldDigits = 4
)

// Volume is the decoded metadata of a volume file name.
type Volume struct {
	Index  int
	Coding types.Coding
	Name   string
}

func prefixChar(t types.CodecType) (byte, bool) {
	switch t {
	case types.Dispersal:
		return '@', true
	case types.Alternative:
		return 'A', true
	case types.Cauchy:
		return 'C', true
	}
	return 0, false
}

func codecOf(c byte) (types.CodecType, bool) {
	switch c {
	case '@':
		return types.Dispersal, true
	case 'A', 'a':
		return types.Alternative, true
	case 'C', 'c':
		return types.Cauchy, true
	}
	return 0, false
}

// Pack builds the volume file name for volume vol of the set protecting name.
func Pack(name string, vol, n, m int, t types.CodecType) (string, error) {
	p, ok := prefixChar(t)
	if !ok {
		return "", rserr.NewConfigError("codecType", "unknown codec type %d", int(t))
	}
	for _, f := range []struct {
		field string
		v     int
	}{{"volume", vol}, {"dataCount", n}, {"eccCount", m}} {
		if f.v < 0 || f.v > MaxField {
			return "", rserr.NewConfigError(f.field, "%d does not fit in 4 hex digits", f.v)
		}
	}
	if name == "" {
		return "", rserr.NewConfigError("name", "empty file name")
	}
	if len(name) > MaxNameLen {
		return "", rserr.NewConfigError("name", "%d bytes, at most %d allowed", len(name), MaxNameLen)
	}
	return fmt.Sprintf("%c%04X%04X%04X.%s", p, vol, n, m, name), nil
}

// Unpack parses a volume file name. Hex digits are accepted in either case.
func Unpack(fileName string) (Volume, bool) {
	if len(fileName) < PrefixLen+2 || fileName[PrefixLen] != '.' {
		return Volume{}, false
	}
	t, ok := codecOf(fileName[0])
	if !ok {
		return Volume{}, false
	}
	var f [3]int
	for i := range f {
		s := fileName[1+i*fieldDigits : 1+(i+1)*fieldDigits]
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return Volume{}, false
		}
		f[i] = int(v)
	}
	return Volume{
		Index:  f[0],
		Coding: types.Coding{DataCount: f[1], EccCount: f[2], Type: t},
		Name:   fileName[PrefixLen+1:],
	}, true
}

// SetNames returns the file names of all volumes, data volumes first.
func SetNames(name string, c types.Coding) ([]string, error) {
	names := make([]string, c.Total())
	for i := range names {
		v, err := Pack(name, i, c.DataCount, c.EccCount, c.Type)
		if err != nil {
			return nil, err
		}
		names[i] = v
	}
	return names, nil
}

// SplitPath separates a path into its directory and file name.
func SplitPath(path string) (dir, file string) {
	dir, file = filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	return filepath.Clean(dir), file
}

func JoinPath(dir, file string) string {
	return filepath.Join(dir, file)
}
