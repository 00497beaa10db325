// Package stage implements the one-directional setup state machine.
package stage

import (
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

var (
	// ErrTerminal is returned when advancing past the complete stage.
	ErrTerminal = errors.New("stage: complete accepts no further transitions")
	// ErrStageMismatch is returned when a confirmation names a stage other
	// than the workspace's current one.
	ErrStageMismatch = errors.New("stage: confirmation does not match current stage")
	// ErrUnknownStage is returned for values outside the known stages.
	ErrUnknownStage = errors.New("stage: unknown stage")
)

var order = []domain.Stage{
	domain.StageIntent,
	domain.StageDataScoping,
	domain.StageExecution,
	domain.StageTeamBuilding,
	domain.StageComplete,
}

// Initial is the stage a new workspace starts in.
func Initial() domain.Stage {
	return order[0]
}

// Next returns the stage that follows s.
func Next(s domain.Stage) (domain.Stage, error) {
	for i, st := range order {
		if st != s {
			continue
		}
		if i == len(order)-1 {
			return "", ErrTerminal
		}
		return order[i+1], nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
}

// Advance validates that confirming stage from is legal for a workspace
// currently in current, and returns the stage it moves to.
func Advance(current, from domain.Stage) (domain.Stage, error) {
	if !from.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, from)
	}
	if current == domain.StageComplete {
		return "", ErrTerminal
	}
	if current != from {
		return "", fmt.Errorf("%w: current=%s confirmed=%s", ErrStageMismatch, current, from)
	}
	return Next(from)
}

// IsTerminal reports whether s accepts no further transitions.
func IsTerminal(s domain.Stage) bool {
	return s == domain.StageComplete
}

// Index returns the position of s in the stage order, or -1.
func Index(s domain.Stage) int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}
