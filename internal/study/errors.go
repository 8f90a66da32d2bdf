package study

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSetup is returned by every operation that needs a completed Setup.
	ErrNotSetup = errors.New("this method can't be used until setup is called")

	// ErrAlreadySetup is returned by a second Setup on the same instance.
	ErrAlreadySetup = errors.New("setup has already been called; reset first")

	// ErrInvalidConfig wraps a study definition that fails the setup schema.
	ErrInvalidConfig = errors.New("invalid study config")

	// ErrUnknownVariation is returned when testing.variationName names no
	// configured variation.
	ErrUnknownVariation = errors.New("unknown variation")

	// ErrNoVariation signals that weighted choice found no bucket.
	ErrNoVariation = errors.New("no variation could be chosen")

	// ErrUnknownEnding is returned by EndStudy for a name that is neither
	// configured nor built in.
	ErrUnknownEnding = errors.New("unknown ending")

	// ErrEndingConflict is wrapped by ConflictError.
	ErrEndingConflict = errors.New("study is already ending")

	// ErrStudyEnded is returned by telemetry operations after the study ended.
	ErrStudyEnded = errors.New("study has ended")
)

// ConflictError is returned when EndStudy loses the race, or is called again
// with a different reason after the study ended.
type ConflictError struct {
	Requested string
	Current   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("endStudy(%q): study is already ending with %q", e.Requested, e.Current)
}

func (e *ConflictError) Unwrap() error { return ErrEndingConflict }
