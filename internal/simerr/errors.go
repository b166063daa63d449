// Package simerr defines the structured errors shared by the simulation
// packages.
package simerr

import (
	"errors"
	"fmt"
)

// Error is a simulation error with a stable code for programmatic handling.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Details contains additional context (generation, key, counts).
	Details map[string]string
}

// Code categorizes simulation errors.
type Code string

const (
	// CodeIterationNotFinished indicates the barrier found undrained work.
	// Recoverable: the next trigger tick retries.
	CodeIterationNotFinished Code = "ITERATION_NOT_FINISHED"

	// CodeInvalidSimulationState indicates a work item names state that is
	// not persisted. The message is left unacknowledged.
	CodeInvalidSimulationState Code = "INVALID_SIMULATION_STATE"

	// CodeInvalidSeed indicates a plane seed that cannot start a flood fill.
	CodeInvalidSeed Code = "INVALID_SEED"

	// CodeIrregularTile indicates a plane tile without a member at one of
	// its corners while strict tiling is enabled.
	CodeIrregularTile Code = "IRREGULAR_TILE"

	// CodeViewFactorOverflow indicates a plane whose view factors sum past 1.
	CodeViewFactorOverflow Code = "VIEW_FACTOR_OVERFLOW"

	// CodeCounterMisuse indicates a counter mutation outside the barrier.
	CodeCounterMisuse Code = "COUNTER_MISUSE"

	// CodeSimulationTerminated indicates the generation limit was reached.
	CodeSimulationTerminated Code = "SIMULATION_TERMINATED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so errors.Is(err, &Error{Code: ...}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// HasCode returns true if err wraps an *Error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsIterationNotFinished returns true if the barrier found undrained work.
func IsIterationNotFinished(err error) bool {
	return HasCode(err, CodeIterationNotFinished)
}

// IsInvalidSimulationState returns true if a work item referenced missing state.
func IsInvalidSimulationState(err error) bool {
	return HasCode(err, CodeInvalidSimulationState)
}

// IsInvalidSeed returns true if a plane seed was rejected.
func IsInvalidSeed(err error) bool {
	return HasCode(err, CodeInvalidSeed)
}

// IsIrregularTile returns true if strict tiling rejected a tile.
func IsIrregularTile(err error) bool {
	return HasCode(err, CodeIrregularTile)
}

// IsViewFactorOverflow returns true if a plane's view factors sum past 1.
func IsViewFactorOverflow(err error) bool {
	return HasCode(err, CodeViewFactorOverflow)
}

// IsCounterMisuse returns true if a counter mutation was rejected.
func IsCounterMisuse(err error) bool {
	return HasCode(err, CodeCounterMisuse)
}

// IsSimulationTerminated returns true if the generation limit was reached.
func IsSimulationTerminated(err error) bool {
	return HasCode(err, CodeSimulationTerminated)
}

// NewIterationNotFinished reports outstanding work for a generation.
func NewIterationNotFinished(generation, processedVoxels, scheduledVoxels, processedPlanes, scheduledPlanes int64) *Error {
	return &Error{
		Code:    CodeIterationNotFinished,
		Message: fmt.Sprintf("generation %d not drained", generation),
		Details: map[string]string{
			"generation":       fmt.Sprintf("%d", generation),
			"processed_voxels": fmt.Sprintf("%d", processedVoxels),
			"scheduled_voxels": fmt.Sprintf("%d", scheduledVoxels),
			"processed_planes": fmt.Sprintf("%d", processedPlanes),
			"scheduled_planes": fmt.Sprintf("%d", scheduledPlanes),
		},
	}
}

// NewInvalidSimulationState reports a work item naming missing state.
func NewInvalidSimulationState(topic, key string, generation int64) *Error {
	return &Error{
		Code:    CodeInvalidSimulationState,
		Message: fmt.Sprintf("no persisted state for %s %s at generation %d", topic, key, generation),
		Details: map[string]string{
			"topic":      topic,
			"key":        key,
			"generation": fmt.Sprintf("%d", generation),
		},
	}
}

// NewInvalidSeed reports a seed that cannot start a flood fill.
func NewInvalidSeed(seed, reason string) *Error {
	return &Error{
		Code:    CodeInvalidSeed,
		Message: fmt.Sprintf("seed %s: %s", seed, reason),
		Details: map[string]string{"seed": seed},
	}
}

// NewIrregularTile reports a tile missing a corner member.
func NewIrregularTile(corner string) *Error {
	return &Error{
		Code:    CodeIrregularTile,
		Message: fmt.Sprintf("tile has no member at corner %s", corner),
		Details: map[string]string{"corner": corner},
	}
}

// NewViewFactorOverflow reports a plane whose view factors sum past 1.
func NewViewFactorOverflow(planeID int64, sum float64) *Error {
	return &Error{
		Code:    CodeViewFactorOverflow,
		Message: fmt.Sprintf("view factors of plane %d sum to %.6f", planeID, sum),
		Details: map[string]string{
			"plane": fmt.Sprintf("%d", planeID),
			"sum":   fmt.Sprintf("%g", sum),
		},
	}
}

// NewCounterMisuse reports a rejected counter mutation.
func NewCounterMisuse(counter string, delta int64) *Error {
	return &Error{
		Code:    CodeCounterMisuse,
		Message: fmt.Sprintf("counter %s cannot change by %d outside the barrier", counter, delta),
		Details: map[string]string{
			"counter": counter,
			"delta":   fmt.Sprintf("%d", delta),
		},
	}
}

// NewSimulationTerminated reports that the generation limit was reached.
func NewSimulationTerminated(generation int64) *Error {
	return &Error{
		Code:    CodeSimulationTerminated,
		Message: fmt.Sprintf("simulation terminated at generation %d", generation),
		Details: map[string]string{"generation": fmt.Sprintf("%d", generation)},
	}
}
