package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes shared by every package and surfaced in CLI json output.
const (
	CodeUnknownUnit         = "E201"
	CodeDuplicateUnit       = "E202"
	CodeSchemaMismatch      = "E203"
	CodeCyclicDependency    = "E204"
	CodeDanglingReference   = "E205"
	CodeTransientSubmission = "E301"
	CodeRejectedSubmission  = "E302"
	CodeNotFound            = "E401"
)

// Sentinel classes a chain client wraps its errors in. The engine retries
// ErrTransient and ErrReorgOrTimeout, and treats ErrRejected as fatal.
//
// A bare ErrReorgOrTimeout means the transaction may still be pending: the
// engine keeps waiting on the same hash. The client additionally wraps
// ErrDropped once the node no longer knows the transaction, and only then
// is the deployment sent again.
var (
	ErrTransient      = errors.New("transient submission failure")
	ErrRejected       = errors.New("submission rejected")
	ErrReorgOrTimeout = errors.New("confirmation reorg or timeout")
	ErrDropped        = errors.New("transaction dropped")
)

// Coded is implemented by every error in the taxonomy.
type Coded interface {
	error
	Code() string
}

// CodeOf returns the taxonomy code of err, or "" when err is not coded.
func CodeOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// UnknownUnitError reports a unit name absent from the artifact registry.
type UnknownUnitError struct {
	Name string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown unit %q", e.Name)
}

// Code implements Coded.
func (e *UnknownUnitError) Code() string { return CodeUnknownUnit }

// DuplicateUnitError reports a second, different definition under a name
// that is already taken (in the registry or within one plan).
type DuplicateUnitError struct {
	Name   string
	Detail string
}

func (e *DuplicateUnitError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("duplicate unit %q: %s", e.Name, e.Detail)
	}
	return fmt.Sprintf("duplicate unit %q", e.Name)
}

// Code implements Coded.
func (e *DuplicateUnitError) Code() string { return CodeDuplicateUnit }

// SchemaMismatchError reports a literal argument that does not fit the
// constructor schema. Position is the zero-based argument index; Path
// narrows it down for nested arrays ("args[0][2]").
type SchemaMismatchError struct {
	Unit     string
	Position int
	Path     string
	Expected string
	Got      string
}

func (e *SchemaMismatchError) Error() string {
	path := e.Path
	if path == "" {
		path = fmt.Sprintf("args[%d]", e.Position)
	}
	return fmt.Sprintf("unit %q: %s: expected %s, got %s", e.Unit, path, e.Expected, e.Got)
}

// Code implements Coded.
func (e *SchemaMismatchError) Code() string { return CodeSchemaMismatch }

// CyclicDependencyError reports a reference cycle. Units is the cycle as a
// closed path: [A, B, A].
type CyclicDependencyError struct {
	Units []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Units, " → "))
}

// Code implements Coded.
func (e *CyclicDependencyError) Code() string { return CodeCyclicDependency }

// DanglingReferenceError reports a reference to a unit that is neither in
// the plan nor in the manifest.
type DanglingReferenceError struct {
	From string
	Ref  string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("unit %q references %q, which is not in the plan or the manifest", e.From, e.Ref)
}

// Code implements Coded.
func (e *DanglingReferenceError) Code() string { return CodeDanglingReference }

// TransientSubmissionError is surfaced only when the retry budget is spent.
type TransientSubmissionError struct {
	Unit     string
	Attempts int
	Err      error
}

func (e *TransientSubmissionError) Error() string {
	return fmt.Sprintf("unit %q: giving up after %d attempts: %v", e.Unit, e.Attempts, e.Err)
}

func (e *TransientSubmissionError) Unwrap() error { return e.Err }

// Code implements Coded.
func (e *TransientSubmissionError) Code() string { return CodeTransientSubmission }

// RejectedSubmissionError is fatal for the unit and everything depending on it.
type RejectedSubmissionError struct {
	Unit string
	Err  error
}

func (e *RejectedSubmissionError) Error() string {
	return fmt.Sprintf("unit %q: rejected: %v", e.Unit, e.Err)
}

func (e *RejectedSubmissionError) Unwrap() error { return e.Err }

// Code implements Coded.
func (e *RejectedSubmissionError) Code() string { return CodeRejectedSubmission }

// NotFoundError is returned by manifest stores for a missing (network, unit).
type NotFoundError struct {
	Network string
	Unit    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no deployment of %q on network %q", e.Unit, e.Network)
}

// Code implements Coded.
func (e *NotFoundError) Code() string { return CodeNotFound }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
