package stage

// Phase identifies what a stage is currently reporting progress for.
type Phase int

const (
	PhaseMatrix Phase = iota // matrix forming / inversion
	PhaseOpen                // opening volume streams
	PhaseCode                // word coding
	PhaseClose               // closing volume streams
	PhaseSplit
	PhaseGlue
	PhaseIntegrity
)

func (p Phase) String() string {
	switch p {
	case PhaseMatrix:
		return "matrix"
	case PhaseOpen:
		return "open"
	case PhaseCode:
		return "code"
	case PhaseClose:
		return "close"
	case PhaseSplit:
		return "split"
	case PhaseGlue:
		return "glue"
	case PhaseIntegrity:
		return "integrity"
	}
	return "unknown"
}

// DamageStats is what the integrity analyzer reports after a check.
type DamageStats struct {
	MissingCount       int     `yaml:"missing"`
	AltEccPresentCount int     `yaml:"eccPresent"`
	PercentDamage      float64 `yaml:"percentDamage"`
	PercentReserve     float64 `yaml:"percentReserve"`
}

// Observer receives events from the stages. Implementations must be safe for
// concurrent use; Progress is called from hot loops and should not block.
type Observer interface {
	Progress(phase Phase, percent float64)
	PhaseFinished(phase Phase)
	Damage(stats DamageStats)
	Logf(format string, args ...any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Progress(Phase, float64) {}
func (Nop) PhaseFinished(Phase)     {}
func (Nop) Damage(DamageStats)      {}
func (Nop) Logf(string, ...any)     {}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop{}
	}
	return o
}

// Scaled maps a sub-range of progress onto the parent's 0..100 range, so a
// builder can report its first and second stage with its own percentages.
type Scaled struct {
	Observer
	Base, Span float64
}

func (s Scaled) Progress(phase Phase, percent float64) {
	s.Observer.Progress(phase, s.Base+percent*s.Span/100)
}
