package types

import (
	"fmt"
	"strings"

	rserr "alexhalogen/rsraid/internal/errors"
)

// CodecType selects how the ECC rows of the coding matrix are built.
type CodecType int

const (
	Dispersal   CodecType = iota // Vandermonde reduced to systematic form
	Alternative                  // powers of field generators, half the field
	Cauchy                       // Cauchy rows, no pivoting needed
)

const (
	MaxVolumes            = 65535
	MaxAlternativeVolumes = 32768

	TrailerSize = 8 // little-endian uint64 real payload length
	CRCSize     = 8 // little-endian uint64 CRC-64, after an integrity write
	WordSize    = 2
)

func (t CodecType) String() string {
	switch t {
	case Dispersal:
		return "dispersal"
	case Alternative:
		return "alternative"
	case Cauchy:
		return "cauchy"
	default:
		return fmt.Sprintf("codec(%d)", int(t))
	}
}

func (t CodecType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *CodecType) UnmarshalText(b []byte) error {
	v, err := ParseCodecType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MaxVolumes returns the ceiling on n+m for the codec type.
func (t CodecType) MaxVolumes() int {
	if t == Alternative {
		return MaxAlternativeVolumes
	}
	return MaxVolumes
}

func ParseCodecType(s string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dispersal", "vandermonde", "@":
		return Dispersal, nil
	case "alternative", "a":
		return Alternative, nil
	case "cauchy", "c":
		return Cauchy, nil
	}
	return 0, rserr.NewConfigError("codecType", "unknown codec type %q", s)
}

// Coding is the (n, m, type) triple that identifies a volume set.
type Coding struct {
	DataCount int       `yaml:"data"` // number of data volumes
	EccCount  int       `yaml:"ecc"`  // number of ecc volumes
	Type      CodecType `yaml:"type"`
}

func (c Coding) Total() int {
	return c.DataCount + c.EccCount
}

func (c Coding) Validate() error {
	if c.DataCount <= 0 {
		return rserr.NewConfigError("dataCount", "must be positive, got %d", c.DataCount)
	}
	if c.EccCount <= 0 {
		return rserr.NewConfigError("eccCount", "must be positive, got %d", c.EccCount)
	}
	if c.Type < Dispersal || c.Type > Cauchy {
		return rserr.NewConfigError("codecType", "unknown codec type %d", int(c.Type))
	}
	if c.Total() > c.Type.MaxVolumes() {
		return rserr.NewConfigError("volumes", "%s allows at most %d volumes, got %d",
			c.Type, c.Type.MaxVolumes(), c.Total())
	}
	return nil
}

func (c Coding) String() string {
	return fmt.Sprintf("%s(%d+%d)", c.Type, c.DataCount, c.EccCount)
}
