// Package compiler turns declarative plan documents into typed, validated
// deployment requests.
//
// A plan document lists the units to deploy:
//
//	name: amm
//	network: testnet
//	units:
//	  - unit: CSwapFactory
//	    args: [deployer()]
//	  - unit: CSwapRouter
//	    args: [ref(CSwapFactory), ref(WETH9)]
//
// Arguments are literals or symbolic references. ref(Name) resolves to the
// deployed address of the request called Name; deployer() resolves to the
// signer's address. YAML (.yaml, .yml) and CUE (.cue) sources are accepted.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/roach88/deploydag/internal/ir"
)

// Format names a plan source syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", &CompileError{
			Code:    ErrCodeFormat,
			Field:   "file",
			Message: fmt.Sprintf("unrecognised plan format %q (want .yaml, .yml or .cue)", filepath.Ext(path)),
		}
	}
}

// UnitLookup is the subset of the artifact registry the loader needs.
type UnitLookup interface {
	Lookup(name string) (ir.Unit, error)
}

// LoadFile reads and compiles a plan file.
func LoadFile(path string, units UnitLookup) (ir.Plan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return ir.Plan{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return LoadBytes(path, format, data, units)
}

// LoadBytes compiles plan source. name is used for error positions and as
// the plan name when the document does not set one.
func LoadBytes(name string, format Format, data []byte, units UnitLookup) (ir.Plan, error) {
	var (
		doc *document
		err error
	)
	switch format {
	case FormatYAML:
		doc, err = decodeYAML(name, data)
	case FormatCUE:
		doc, err = decodeCUE(name, data)
	default:
		return ir.Plan{}, &CompileError{Code: ErrCodeFormat, Field: "format", Message: fmt.Sprintf("unknown format %q", format)}
	}
	if err != nil {
		return ir.Plan{}, err
	}

	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	return compile(doc, units)
}

// document is the format-neutral plan shape produced by the decoders.
type document struct {
	Name    string
	Network string
	Units   []entry
}

// entry is one unit of a plan document, arguments still unvalidated.
type entry struct {
	Unit      string
	As        string
	Args      ir.IRArray
	Libraries map[string]string

	// where locates the entry for error messages.
	file string
	line int
}

func (e entry) name() string {
	if e.As != "" {
		return e.As
	}
	return e.Unit
}

var (
	refPattern      = regexp.MustCompile(`^ref\(\s*([A-Za-z_$][A-Za-z0-9_$.\-]*)\s*\)$`)
	deployerPattern = regexp.MustCompile(`^deployer\(\s*\)$`)
)

// parseSymbol recognises ref(Name) and deployer() in a string literal.
func parseSymbol(s string) ir.IRValue {
	trimmed := strings.TrimSpace(s)
	if m := refPattern.FindStringSubmatch(trimmed); m != nil {
		return ir.IRRef{Unit: m[1]}
	}
	if deployerPattern.MatchString(trimmed) {
		return ir.IRDeployer{}
	}
	return ir.IRString(s)
}

// compile validates every entry against the registry and builds the plan.
func compile(doc *document, units UnitLookup) (ir.Plan, error) {
	if len(doc.Units) == 0 {
		return ir.Plan{}, &CompileError{Code: ErrCodePlanShape, Field: "units", Message: "at least one unit is required"}
	}

	plan := ir.Plan{
		Name:     doc.Name,
		Network:  doc.Network,
		Requests: make([]ir.Request, 0, len(doc.Units)),
	}
	seen := make(map[string]bool, len(doc.Units))

	for i, e := range doc.Units {
		if e.Unit == "" {
			return ir.Plan{}, &CompileError{
				Code: ErrCodePlanShape, Field: fmt.Sprintf("units[%d].unit", i),
				Message: "unit is required", File: e.file, Line: e.line,
			}
		}

		unit, err := units.Lookup(e.Unit)
		if err != nil {
			return ir.Plan{}, err
		}

		name := e.name()
		if seen[name] {
			return ir.Plan{}, &ir.DuplicateUnitError{
				Name:   name,
				Detail: fmt.Sprintf("requested twice in plan %q (use \"as\" to deploy %s again under another name)", doc.Name, e.Unit),
			}
		}
		seen[name] = true

		args, err := ValidateArgs(name, unit.Constructor, e.Args)
		if err != nil {
			return ir.Plan{}, err
		}

		for slot := range e.Libraries {
			if !containsString(unit.Libraries, slot) {
				return ir.Plan{}, &CompileError{
					Code:    ErrCodeLibrarySlot,
					Field:   fmt.Sprintf("units[%d].libraries.%s", i, slot),
					Message: fmt.Sprintf("%s does not link a library named %s (slots: %s)", unit.Name, slot, strings.Join(unit.Libraries, ", ")),
					File:    e.file,
					Line:    e.line,
				}
			}
		}

		plan.Requests = append(plan.Requests, ir.Request{
			Name:      name,
			Unit:      unit,
			Args:      args,
			Libraries: e.Libraries,
		})
	}
	return plan, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
