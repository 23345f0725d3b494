// Package pipeline moves one feed date from its source into the durable
// store and, in the load pass, from the durable store into the warehouse.
package pipeline

import (
	"errors"
	"fmt"
)

// Stage is how far one feed date got.
type Stage string

const (
	StagePending  Stage = "PENDING"
	StageStaged   Stage = "STAGED"
	StageUploaded Stage = "UPLOADED"
	StageLoaded   Stage = "LOADED"
	StageDone     Stage = "DONE"
	StageFailed   Stage = "FAILED"
)

var ErrIllegalTransition = errors.New("illegal stage transition")

var transitions = map[Stage][]Stage{
	StagePending:  {StageStaged, StageLoaded, StageFailed},
	StageStaged:   {StageUploaded, StageFailed},
	StageUploaded: {StageDone, StageFailed},
	StageLoaded:   {StageDone, StageFailed},
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Advance returns next if the move from s is legal. The fetch pass goes
// PENDING, STAGED, UPLOADED, DONE; the load pass goes PENDING, LOADED, DONE.
func (s Stage) Advance(next Stage) (Stage, error) {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
}
