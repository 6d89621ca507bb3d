package compiler

import (
	"fmt"
	"regexp"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/roach88/deploydag/internal/ir"
)

// yamlPlan mirrors the document on disk. Arguments stay as nodes so that
// big integers and floats can be told apart before yaml.v3 converts them.
type yamlPlan struct {
	Name    string     `yaml:"name"`
	Network string     `yaml:"network"`
	Units   []yamlUnit `yaml:"units"`
}

type yamlUnit struct {
	Unit      string            `yaml:"unit"`
	As        string            `yaml:"as"`
	Args      []yaml.Node       `yaml:"args"`
	Libraries map[string]string `yaml:"libraries"`
}

var integerLiteral = regexp.MustCompile(`^[-+]?[0-9][0-9_]*$`)

func decodeYAML(file string, data []byte) (*document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &CompileError{Code: ErrCodePlanShape, Field: "yaml", Message: err.Error(), File: file}
	}

	var raw yamlPlan
	if err := root.Decode(&raw); err != nil {
		return nil, &CompileError{Code: ErrCodePlanShape, Field: "yaml", Message: err.Error(), File: file}
	}

	lines := unitLines(&root)
	doc := &document{Name: raw.Name, Network: raw.Network}
	for i, u := range raw.Units {
		e := entry{
			Unit:      u.Unit,
			As:        u.As,
			Libraries: u.Libraries,
			Args:      make(ir.IRArray, 0, len(u.Args)),
			file:      file,
		}
		if i < len(lines) {
			e.line = lines[i]
		}
		for j := range u.Args {
			v, err := yamlValue(&u.Args[j])
			if err != nil {
				return nil, &CompileError{
					Code:    err.code,
					Field:   fmt.Sprintf("units[%d].args[%d]", i, j),
					Message: err.msg,
					File:    file,
					Line:    err.line,
				}
			}
			e.Args = append(e.Args, v)
		}
		doc.Units = append(doc.Units, e)
	}
	return doc, nil
}

// unitLines returns the source line of each entry under "units".
func unitLines(root *yaml.Node) []int {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != "units" || m.Content[i+1].Kind != yaml.SequenceNode {
			continue
		}
		var lines []int
		for _, n := range m.Content[i+1].Content {
			lines = append(lines, n.Line)
		}
		return lines
	}
	return nil
}

type valueError struct {
	code string
	msg  string
	line int
}

// yamlValue converts one argument node into an IR value.
func yamlValue(n *yaml.Node) (ir.IRValue, *valueError) {
	switch n.Kind {
	case yaml.AliasNode:
		return yamlValue(n.Alias)

	case yaml.SequenceNode:
		arr := make(ir.IRArray, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil

	case yaml.ScalarNode:
		return yamlScalar(n)

	default:
		return nil, &valueError{code: ErrCodePlanShape, msg: "mappings are not valid arguments", line: n.Line}
	}
}

func yamlScalar(n *yaml.Node) (ir.IRValue, *valueError) {
	switch n.ShortTag() {
	case "!!str":
		return parseSymbol(n.Value), nil

	case "!!int":
		i, err := cast.ToInt64E(n.Value)
		if err != nil {
			// Out of int64 range, validated later against the param type.
			return ir.IRString(n.Value), nil
		}
		return ir.IRInt(i), nil

	case "!!float":
		// yaml.v3 tags integers beyond uint64 as floats.
		if integerLiteral.MatchString(n.Value) {
			return ir.IRString(n.Value), nil
		}
		return nil, &valueError{
			code: ErrCodeFloat,
			msg:  fmt.Sprintf("%s: floats are not supported, write integers in base units", n.Value),
			line: n.Line,
		}

	case "!!bool":
		b, err := cast.ToBoolE(n.Value)
		if err != nil {
			return nil, &valueError{code: ErrCodePlanShape, msg: err.Error(), line: n.Line}
		}
		return ir.IRBool(b), nil

	case "!!null":
		return nil, &valueError{code: ErrCodeNull, msg: "null is not a valid argument", line: n.Line}

	default:
		return ir.IRString(n.Value), nil
	}
}
