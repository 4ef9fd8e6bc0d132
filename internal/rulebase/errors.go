package rulebase

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

var (
	// ErrNotFound is returned when the rulebase path does not exist.
	ErrNotFound = errors.New("rulebase not found")

	// ErrNoFiles is returned when a directory holds no CUE files.
	ErrNoFiles = errors.New("no CUE files found")

	// ErrUnknownRule is returned when a persisted activation names a rule
	// the rulebase does not declare.
	ErrUnknownRule = errors.New("unknown rule")
)

// CompileError is a rulebase validation error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
