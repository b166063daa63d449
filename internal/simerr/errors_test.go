package simerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicates_MatchWrapped(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"iteration", NewIterationNotFinished(3, 9, 10, 0, 0), IsIterationNotFinished},
		{"state", NewInvalidSimulationState("voxel", "1,2,3", 4), IsInvalidSimulationState},
		{"seed", NewInvalidSeed("1,1,1", "empty"), IsInvalidSeed},
		{"tile", NewIrregularTile("0,0,0"), IsIrregularTile},
		{"overflow", NewViewFactorOverflow(2, 1.2), IsViewFactorOverflow},
		{"counter", NewCounterMisuse("processed_voxel_count", -1), IsCounterMisuse},
		{"terminated", NewSimulationTerminated(10), IsSimulationTerminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestPredicates_DoNotCrossMatch(t *testing.T) {
	err := NewIterationNotFinished(1, 0, 1, 0, 0)
	assert.False(t, IsInvalidSimulationState(err))
	assert.False(t, IsCounterMisuse(err))
}

func TestErrorsIs_ByCode(t *testing.T) {
	err := fmt.Errorf("tick: %w", NewIterationNotFinished(1, 0, 1, 0, 0))
	assert.ErrorIs(t, err, &Error{Code: CodeIterationNotFinished})
	assert.NotErrorIs(t, err, &Error{Code: CodeCounterMisuse})
}

func TestNewIterationNotFinished_Details(t *testing.T) {
	err := NewIterationNotFinished(5, 9, 10, 2, 2)
	assert.Equal(t, "ITERATION_NOT_FINISHED: generation 5 not drained", err.Error())
	assert.Equal(t, "9", err.Details["processed_voxels"])
	assert.Equal(t, "10", err.Details["scheduled_voxels"])
}
