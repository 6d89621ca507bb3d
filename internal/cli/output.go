package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/roach88/deploydag/internal/compiler"
	"github.com/roach88/deploydag/internal/engine"
	"github.com/roach88/deploydag/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Every unit Deployed, Reused or Skipped
	ExitFailure      = 1 // At least one unit Failed, or the run was interrupted
	ExitCommandError = 2 // Invalid plan, config, artifacts or manifest
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok", "failed" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E203", "E001", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// errorCode picks the code reported for err.
func errorCode(err error) string {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return ce.Code
	}
	if code := ir.CodeOf(err); code != "" {
		return code
	}
	return ErrCodeGeneric
}

// errorDetails exposes the structured fields of taxonomy errors in json
// output.
func errorDetails(err error) any {
	var (
		schema   *ir.SchemaMismatchError
		cycle    *ir.CyclicDependencyError
		dangling *ir.DanglingReferenceError
		compile  *compiler.CompileError
	)
	switch {
	case errors.As(err, &schema):
		return map[string]any{"unit": schema.Unit, "position": schema.Position, "path": schema.Path, "expected": schema.Expected, "got": schema.Got}
	case errors.As(err, &cycle):
		return map[string]any{"cycle": cycle.Units}
	case errors.As(err, &dangling):
		return map[string]any{"from": dangling.From, "ref": dangling.Ref}
	case errors.As(err, &compile):
		if compile.Line > 0 {
			return map[string]any{"file": compile.File, "line": compile.Line, "field": compile.Field}
		}
		if compile.Pos.IsValid() {
			return map[string]any{"file": compile.Pos.Filename(), "line": compile.Pos.Line(), "field": compile.Field}
		}
	}
	return nil
}

// commandError reports err and returns the ExitError for it. Every error
// that stops a command before deployment starts exits with
// ExitCommandError.
func commandError(f *OutputFormatter, message string, err error) error {
	_ = f.Error(errorCode(err), err.Error(), errorDetails(err))
	return WrapExitError(ExitCommandError, message, err)
}

// reportView is the json shape of an engine report.
type reportView struct {
	RunID    string         `json:"run_id"`
	Network  string         `json:"network"`
	DryRun   bool           `json:"dry_run,omitempty"`
	Outcomes []outcomeView  `json:"outcomes"`
	Counts   map[string]int `json:"counts"`
}

type outcomeView struct {
	ir.Outcome
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func newReportView(r *engine.Report, dryRun bool) reportView {
	v := reportView{RunID: r.RunID, Network: r.Network, DryRun: dryRun, Counts: map[string]int{}}
	for _, o := range r.Outcomes {
		ov := outcomeView{Outcome: o}
		if o.Err != nil {
			ov.Error = o.Err.Error()
			ov.Code = ir.CodeOf(o.Err)
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	for status, n := range r.Counts() {
		v.Counts[strings.ToLower(string(status))] = n
	}
	return v
}

// printReport writes one line per unit: "<unit>  Deployed 0x...".
func printReport(f *OutputFormatter, r *engine.Report, dryRun bool) error {
	if f.Format == "json" {
		status := "ok"
		if r.Failed() {
			status = "failed"
		}
		return f.encode(CLIResponse{Status: status, Data: newReportView(r, dryRun)})
	}

	header := "Network: " + r.Network
	if dryRun {
		header += " (dry run)"
	}
	fmt.Fprintln(f.Writer, header)
	fmt.Fprintf(f.Writer, "Run: %s\n\n", r.RunID)

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for _, o := range r.Outcomes {
		line := o.Line()
		if o.Status == ir.StatusSkipped && o.BlockedBy != "" {
			line += " (" + o.BlockedBy + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\n", o.Unit, line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	c := r.Counts()
	_, err := fmt.Fprintf(f.Writer, "\n%d deployed, %d reused, %d failed, %d skipped\n",
		c[ir.StatusDeployed], c[ir.StatusReused], c[ir.StatusFailed], c[ir.StatusSkipped])
	return err
}
