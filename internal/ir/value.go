package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// IRValue is a sealed interface representing constructor argument values.
// Only IRNull, IRString, IRInt, IRBool, IRArray, IRObject, IRRef and
// IRDeployer implement this.
// NO IRFloat - floats are forbidden in IR (they break determinism and have no
// ABI counterpart). Integers wider than int64 travel as decimal IRString.
type IRValue interface {
	irValue() // Sealed - only these types implement it
}

// IRNull represents a JSON null value in the IR.
type IRNull struct{}

func (IRNull) irValue() {}

// MarshalJSON implements json.Marshaler for IRNull.
func (IRNull) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// IRString represents a string value in the IR.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integer value in the IR.
type IRInt int64

func (IRInt) irValue() {}

// IRBool represents a boolean value in the IR.
type IRBool bool

func (IRBool) irValue() {}

// IRArray represents an array of IRValue elements.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject represents a map of string keys to IRValue elements.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// IRRef is the symbolic reference ref(Unit): the deployed address of another
// unit, either from the current run or from the manifest.
type IRRef struct {
	Unit string
}

func (IRRef) irValue() {}

// String renders the reference in plan syntax.
func (r IRRef) String() string {
	return "ref(" + r.Unit + ")"
}

// IRDeployer is the symbolic reference deployer(): the signer's address.
type IRDeployer struct{}

func (IRDeployer) irValue() {}

// String renders the reference in plan syntax.
func (IRDeployer) String() string {
	return "deployer()"
}

// Refs returns every unit named by an IRRef inside v, depth-first, in
// argument order. Duplicates are preserved.
func Refs(v IRValue) []string {
	var out []string
	walkRefs(v, func(r IRRef) { out = append(out, r.Unit) })
	return out
}

func walkRefs(v IRValue, fn func(IRRef)) {
	switch val := v.(type) {
	case IRRef:
		fn(val)
	case IRArray:
		for _, elem := range val {
			walkRefs(elem, fn)
		}
	case IRObject:
		for _, k := range val.SortedKeys() {
			walkRefs(val[k], fn)
		}
	}
}

// IsResolved reports whether v contains no symbolic references.
func IsResolved(v IRValue) bool {
	switch val := v.(type) {
	case IRRef, IRDeployer:
		return false
	case IRArray:
		for _, elem := range val {
			if !IsResolved(elem) {
				return false
			}
		}
	case IRObject:
		for _, elem := range val {
			if !IsResolved(elem) {
				return false
			}
		}
	}
	return true
}

// Substitute returns a copy of v with every IRRef and IRDeployer replaced by
// the address returned from resolve. The first resolve error aborts.
func Substitute(v IRValue, resolve func(IRValue) (string, error)) (IRValue, error) {
	switch val := v.(type) {
	case IRRef, IRDeployer:
		addr, err := resolve(val)
		if err != nil {
			return nil, err
		}
		return IRString(addr), nil
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			sub, err := Substitute(elem, resolve)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case IRObject:
		out := make(IRObject, len(val))
		for k, elem := range val {
			sub, err := Substitute(elem, resolve)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	default:
		return v, nil
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// If all compared units are equal, shorter string comes first
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for IRObject.
func (obj *IRObject) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*obj = make(IRObject, len(raw))
	for k, v := range raw {
		val, err := unmarshalIRValue(v)
		if err != nil {
			return fmt.Errorf("IRObject key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for IRArray.
func (arr *IRArray) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*arr = make(IRArray, len(raw))
	for i, v := range raw {
		val, err := unmarshalIRValue(v)
		if err != nil {
			return fmt.Errorf("IRArray index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

// unmarshalIRValue decodes a JSON value into the appropriate IRValue type.
// Floats are rejected. Objects of the form {"$ref":"X"} and {"$deployer":true}
// decode back into symbolic references.
func unmarshalIRValue(data []byte) (IRValue, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return IRString(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return IRBool(b), nil

	case 'n':
		return IRNull{}, nil

	case '[':
		var arr IRArray
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var obj IRObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		if len(obj) == 1 {
			if unit, ok := obj[refKey].(IRString); ok {
				return IRRef{Unit: string(unit)}, nil
			}
			if _, ok := obj[deployerKey].(IRBool); ok {
				return IRDeployer{}, nil
			}
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats not allowed in IR: %s", string(data))
		}
		return IRInt(i), nil
	}
}

const (
	refKey      = "$ref"
	deployerKey = "$deployer"
)

// MarshalJSON implements json.Marshaler for IRObject with sorted keys (RFC 8785 ordering).
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func (obj IRObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalIRValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for IRArray.
func (arr IRArray) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalIRValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for IRRef.
func (r IRRef) MarshalJSON() ([]byte, error) {
	return IRObject{refKey: IRString(r.Unit)}.MarshalJSON()
}

// MarshalJSON implements json.Marshaler for IRDeployer.
func (d IRDeployer) MarshalJSON() ([]byte, error) {
	return IRObject{deployerKey: IRBool(true)}.MarshalJSON()
}

// MarshalIRValue marshals an IRValue to JSON bytes.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func MarshalIRValue(v IRValue) ([]byte, error) {
	switch val := v.(type) {
	case IRNull:
		return []byte("null"), nil
	case IRString:
		return json.Marshal(string(val))
	case IRInt:
		return json.Marshal(int64(val))
	case IRBool:
		return json.Marshal(bool(val))
	case IRArray:
		return val.MarshalJSON()
	case IRObject:
		return val.MarshalJSON()
	case IRRef:
		return val.MarshalJSON()
	case IRDeployer:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown IRValue type: %T", v)
	}
}

// FormatValue renders v the way a plan author would write it. Used in
// human-readable output; not a serialization format.
func FormatValue(v IRValue) string {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return fmt.Sprintf("%d", int64(val))
	case IRBool:
		return fmt.Sprintf("%t", bool(val))
	case IRRef:
		return val.String()
	case IRDeployer:
		return val.String()
	case IRArray:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = FormatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case IRNull:
		return "null"
	default:
		b, err := MarshalIRValue(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
