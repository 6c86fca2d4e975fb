package territory

import (
	"errors"
	"fmt"
)

// Failure classes for the destructive pipeline operations. Callers match them
// with errors.Is; the concrete cause stays available through Unwrap.
var (
	ErrSourceMissing    = errors.New("boundary source missing")
	ErrConversionFailed = errors.New("boundary conversion failed")
	ErrWriteFailed      = errors.New("datastore write failed")
)

// Phases of a transactional replacement, used in logs and PhaseError.
const (
	PhaseClear  = "clear"
	PhaseLoad   = "load"
	PhaseSwap   = "swap"
	PhaseAssign = "assign"
	PhaseVerify = "verify"
	PhaseTx     = "transaction"
)

// PhaseFunc observes a phase that finished. detail is a short summary for
// the run journal.
type PhaseFunc func(phase, detail string)

// Report calls fn if it is set.
func (fn PhaseFunc) Report(phase, detail string) {
	if fn != nil {
		fn(phase, detail)
	}
}

// PhaseError records which phase of an operation failed.
type PhaseError struct {
	Op    string // "ingest", "import", "assign"
	Phase string
	Kind  error // one of the Err* sentinels
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s phase: %v: %v", e.Op, e.Phase, e.Kind, e.Err)
}

// Unwrap exposes both the failure class and the underlying cause.
func (e *PhaseError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// WriteFailed wraps err as a write failure in the given phase.
func WriteFailed(op, phase string, err error) error {
	return &PhaseError{Op: op, Phase: phase, Kind: ErrWriteFailed, Err: err}
}

// FailedPhase returns the phase recorded in err, or "" if none.
func FailedPhase(err error) string {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}
