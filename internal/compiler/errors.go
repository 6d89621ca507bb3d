package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Plan document error codes (E101-E109).
const (
	ErrCodePlanShape   = "E101" // malformed plan document
	ErrCodeFloat       = "E102" // floats are not valid arguments
	ErrCodeNull        = "E103" // null is not a valid argument
	ErrCodeLibrarySlot = "E104" // library slot not required by the unit
	ErrCodeFormat      = "E105" // unrecognised plan file format
)

// CompileError reports a plan document that cannot be turned into requests.
// CUE sources carry a token position; YAML sources carry file and line.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
	File    string
	Line    int
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Code:    ErrCodePlanShape,
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
