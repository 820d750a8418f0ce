package orchestrator

// State is the stage the orchestrator is currently running.
type State int

const (
	Idle State = iota
	Splitting
	Encoding
	IntegrityWriting
	IntegrityChecking
	Decoding
	Gluing
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Splitting:
		return "splitting"
	case Encoding:
		return "encoding"
	case IntegrityWriting:
		return "integrity-writing"
	case IntegrityChecking:
		return "integrity-checking"
	case Decoding:
		return "decoding"
	case Gluing:
		return "gluing"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Operation is one of the four workflows.
type Operation int

const (
	Protect Operation = iota
	Recover
	Repair
	Test
)

func (op Operation) String() string {
	switch op {
	case Protect:
		return "protect"
	case Recover:
		return "recover"
	case Repair:
		return "repair"
	case Test:
		return "test"
	}
	return "unknown"
}
