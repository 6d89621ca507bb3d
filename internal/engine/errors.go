package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a failure the engine itself detects while running a plan,
// as opposed to one reported by the chain client.
//
// Input errors (OUT_OF_ORDER, DUPLICATE_REQUEST) abort Run before anything
// is submitted. The others fail a single unit and end up in its Outcome.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string

	// Unit is the request the error is about.
	Unit string

	// Details contains additional context, such as the address of a
	// deployment that confirmed on chain but could not be recorded.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeOutOfOrder: a request appears before one of its dependencies.
	ErrCodeOutOfOrder RuntimeErrorCode = "OUT_OF_ORDER"

	// ErrCodeDuplicateRequest: two requests share a name.
	ErrCodeDuplicateRequest RuntimeErrorCode = "DUPLICATE_REQUEST"

	// ErrCodeUnresolved: a reference has no address in the run or the manifest.
	ErrCodeUnresolved RuntimeErrorCode = "UNRESOLVED_REFERENCE"

	// ErrCodeManifest: reading or writing the manifest failed.
	ErrCodeManifest RuntimeErrorCode = "MANIFEST"
)

func (e *RuntimeError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s: %s (unit=%s)", e.Code, e.Message, e.Unit)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsManifestError reports whether err is a manifest read or write failure.
func IsManifestError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeManifest
	}
	return false
}

func newOutOfOrderError(unit, dep string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeOutOfOrder,
		Message: fmt.Sprintf("depends on %q, which is not ordered before it", dep),
		Unit:    unit,
	}
}

func newUnresolvedError(unit, ref string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnresolved,
		Message: fmt.Sprintf("no address for %q in this run or the manifest", ref),
		Unit:    unit,
	}
}

func newManifestError(unit string, err error, details map[string]string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeManifest,
		Message: err.Error(),
		Unit:    unit,
		Details: details,
	}
}
