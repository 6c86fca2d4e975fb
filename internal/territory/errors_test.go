package territory

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestWriteFailed_MatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WriteFailed("ingest", PhaseLoad, cause)

	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSourceMissing)
	assert.Contains(t, err.Error(), "load phase")
}

func TestFailedPhase_ThroughErisWrap(t *testing.T) {
	err := eris.Wrap(WriteFailed("assign", PhaseVerify, errors.New("count mismatch")), "assign run")
	assert.Equal(t, PhaseVerify, FailedPhase(err))
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestPhaseFunc_Report(t *testing.T) {
	var got []string
	fn := PhaseFunc(func(phase, detail string) { got = append(got, phase+":"+detail) })
	fn.Report(PhaseSwap, "inserted 2 boundaries")
	assert.Equal(t, []string{"swap:inserted 2 boundaries"}, got)

	var none PhaseFunc
	assert.NotPanics(t, func() { none.Report(PhaseClear, "ignored") })
}

func TestFailedPhase_None(t *testing.T) {
	assert.Equal(t, "", FailedPhase(errors.New("plain")))
	assert.Equal(t, "", FailedPhase(nil))
}
