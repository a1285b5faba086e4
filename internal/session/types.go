package session

import (
	"srcgrep/internal/domain"
)

// token identifies one issued query. Tokens only ever increase.
type token uint64

// state is the session's tagged variant; exactly one is current.
type state interface {
	phase() Phase
}

type idle struct{}

type running struct {
	tok token
}

type settled struct {
	tok     token
	results []domain.AggregatedFileResult
}

type failed struct {
	tok  token
	kind ErrorKind
	err  error
}

func (idle) phase() Phase    { return PhaseIdle }
func (running) phase() Phase { return PhaseRunning }
func (settled) phase() Phase { return PhaseSettled }
func (failed) phase() Phase  { return PhaseFailed }

// Phase names the current state without its payload
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseSettled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseSettled:
		return "settled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a failed search for the presentation layer
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorTransport
	ErrorTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "transport"
	case ErrorTimeout:
		return "timeout"
	default:
		return ""
	}
}

// View is the read model handed to the presentation layer
type View struct {
	QueryText string
	IsRunning bool
	Results   []domain.AggregatedFileResult // nil unless the latest query settled
	Error     ErrorKind
	Err       error
}

// Stats counts session outcomes for diagnosing races
type Stats struct {
	Issued  int
	Settled int
	Failed  int
	Stale   int // responses discarded because a newer query superseded them
	Aborted int // in-flight requests cancelled by a newer query or a clear
}
