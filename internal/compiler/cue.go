package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/deploydag/internal/ir"
)

// planSchema closes the document shape: unknown fields are errors.
const planSchema = `
#Plan: {
	name?:    string
	network?: string
	units: [...#Unit]
}

#Unit: {
	unit:  string
	as?:   string
	args?: [...]
	libraries?: [string]: string
}
`

func decodeCUE(file string, data []byte) (*document, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(planSchema, cue.Filename("plan-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	src := ctx.CompileBytes(data, cue.Filename(file))
	if err := src.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Plan")).Unify(src)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	doc := &document{}
	var err error
	if doc.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}
	if doc.Network, err = optionalString(v, "network"); err != nil {
		return nil, err
	}

	units, err := v.LookupPath(cue.ParsePath("units")).List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; units.Next(); i++ {
		e, err := cueEntry(units.Value(), i)
		if err != nil {
			return nil, err
		}
		doc.Units = append(doc.Units, e)
	}
	return doc, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func cueEntry(v cue.Value, i int) (entry, error) {
	pos := v.Pos()
	e := entry{file: pos.Filename(), line: pos.Line()}

	var err error
	if e.Unit, err = optionalString(v, "unit"); err != nil {
		return e, err
	}
	if e.As, err = optionalString(v, "as"); err != nil {
		return e, err
	}

	if libs := v.LookupPath(cue.ParsePath("libraries")); libs.Exists() {
		iter, err := libs.Fields()
		if err != nil {
			return e, formatCUEError(err)
		}
		e.Libraries = make(map[string]string)
		for iter.Next() {
			provider, err := iter.Value().String()
			if err != nil {
				return e, formatCUEError(err)
			}
			e.Libraries[iter.Selector().Unquoted()] = provider
		}
	}

	e.Args = ir.IRArray{}
	if args := v.LookupPath(cue.ParsePath("args")); args.Exists() {
		iter, err := args.List()
		if err != nil {
			return e, formatCUEError(err)
		}
		for j := 0; iter.Next(); j++ {
			val, err := cueValue(iter.Value(), fmt.Sprintf("units[%d].args[%d]", i, j))
			if err != nil {
				return e, err
			}
			e.Args = append(e.Args, val)
		}
	}
	return e, nil
}

// cueValue converts one concrete CUE argument into an IR value.
func cueValue(v cue.Value, field string) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return parseSymbol(s), nil

	case cue.IntKind:
		if i, err := v.Int64(); err == nil {
			return ir.IRInt(i), nil
		}
		n, err := v.Int(nil)
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(n.String()), nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for j := 0; iter.Next(); j++ {
			elem, err := cueValue(iter.Value(), fmt.Sprintf("%s[%d]", field, j))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Code:    ErrCodeFloat,
			Field:   field,
			Message: "floats are not supported, write integers in base units",
			Pos:     v.Pos(),
		}

	case cue.NullKind:
		return nil, &CompileError{Code: ErrCodeNull, Field: field, Message: "null is not a valid argument", Pos: v.Pos()}

	default:
		return nil, &CompileError{
			Code:    ErrCodePlanShape,
			Field:   field,
			Message: fmt.Sprintf("%s values are not valid arguments", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}
