package compiler

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/deploydag/internal/ir"
)

// ValidateArgs checks literal arguments against a constructor schema and
// returns them normalised: integers become IRInt when they fit in int64 and
// decimal strings otherwise, hex is lower-cased.
//
// Symbolic references are accepted only where an address is expected.
// Any mismatch is reported as *ir.SchemaMismatchError.
func ValidateArgs(unit string, params []ir.Param, args ir.IRArray) (ir.IRArray, error) {
	if len(args) != len(params) {
		return nil, &ir.SchemaMismatchError{
			Unit:     unit,
			Position: min(len(args), len(params)),
			Path:     "args",
			Expected: fmt.Sprintf("%d arguments (%s)", len(params), paramList(params)),
			Got:      fmt.Sprintf("%d", len(args)),
		}
	}

	out := make(ir.IRArray, len(args))
	for i, p := range params {
		typ, err := abi.NewType(p.Type, "", nil)
		if err != nil {
			return nil, fmt.Errorf("unit %q: parameter %d has unsupported type %q: %w", unit, i, p.Type, err)
		}
		v := &argValidator{unit: unit, position: i}
		norm, err := v.check(typ, args[i], fmt.Sprintf("args[%d]", i))
		if err != nil {
			return nil, err
		}
		out[i] = norm
	}
	return out, nil
}

func paramList(params []ir.Param) string {
	types := make([]string, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	return strings.Join(types, ", ")
}

type argValidator struct {
	unit     string
	position int
}

func (a *argValidator) mismatch(path string, t abi.Type, got ir.IRValue) error {
	return &ir.SchemaMismatchError{
		Unit:     a.unit,
		Position: a.position,
		Path:     path,
		Expected: t.String(),
		Got:      describe(got),
	}
}

func (a *argValidator) check(t abi.Type, v ir.IRValue, path string) (ir.IRValue, error) {
	switch t.T {
	case abi.AddressTy:
		switch val := v.(type) {
		case ir.IRRef, ir.IRDeployer:
			return v, nil
		case ir.IRString:
			if common.IsHexAddress(string(val)) {
				return val, nil
			}
		}
		return nil, a.mismatch(path, t, v)

	case abi.UintTy, abi.IntTy:
		n, ok := toBigInt(v)
		if !ok || !intFits(n, t.T == abi.IntTy, t.Size) {
			return nil, a.mismatch(path, t, v)
		}
		if n.IsInt64() {
			return ir.IRInt(n.Int64()), nil
		}
		return ir.IRString(n.String()), nil

	case abi.BoolTy:
		if b, ok := v.(ir.IRBool); ok {
			return b, nil
		}
		return nil, a.mismatch(path, t, v)

	case abi.StringTy:
		if s, ok := v.(ir.IRString); ok {
			return s, nil
		}
		return nil, a.mismatch(path, t, v)

	case abi.BytesTy, abi.FixedBytesTy:
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, a.mismatch(path, t, v)
		}
		b, ok := decodeHex(string(s))
		if !ok || (t.T == abi.FixedBytesTy && len(b) != t.Size) {
			return nil, a.mismatch(path, t, v)
		}
		return ir.IRString("0x" + hex.EncodeToString(b)), nil

	case abi.SliceTy, abi.ArrayTy:
		arr, ok := v.(ir.IRArray)
		if !ok || (t.T == abi.ArrayTy && len(arr) != t.Size) {
			return nil, a.mismatch(path, t, v)
		}
		out := make(ir.IRArray, len(arr))
		for i, elem := range arr {
			norm, err := a.check(*t.Elem, elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil

	default:
		return nil, &ir.SchemaMismatchError{
			Unit:     a.unit,
			Position: a.position,
			Path:     path,
			Expected: t.String(),
			Got:      "a value (this parameter type cannot be given in a plan)",
		}
	}
}

// toBigInt accepts IRInt and decimal or 0x-hex strings.
func toBigInt(v ir.IRValue) (*big.Int, bool) {
	switch val := v.(type) {
	case ir.IRInt:
		return big.NewInt(int64(val)), true
	case ir.IRString:
		s := strings.ReplaceAll(strings.TrimSpace(string(val)), "_", "")
		if s == "" {
			return nil, false
		}
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			// SetString with base 0 treats a leading zero as octal.
			n, ok = new(big.Int).SetString(s, 10)
		}
		return n, ok
	}
	return nil, false
}

func intFits(n *big.Int, signed bool, bits int) bool {
	if !signed {
		return n.Sign() >= 0 && n.BitLen() <= bits
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	lower := new(big.Int).Neg(limit)
	return n.Cmp(lower) >= 0 && n.Cmp(limit) < 0
}

func decodeHex(s string) ([]byte, bool) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, false
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, false
	}
	return b, true
}

// describe renders a value for a mismatch message.
func describe(v ir.IRValue) string {
	switch val := v.(type) {
	case ir.IRString:
		return fmt.Sprintf("string %q", string(val))
	case ir.IRInt:
		return fmt.Sprintf("integer %d", int64(val))
	case ir.IRBool:
		return fmt.Sprintf("bool %t", bool(val))
	case ir.IRArray:
		return fmt.Sprintf("array of %d", len(val))
	case ir.IRRef:
		return val.String()
	case ir.IRDeployer:
		return val.String()
	case nil:
		return "nothing"
	default:
		return fmt.Sprintf("%T", v)
	}
}
