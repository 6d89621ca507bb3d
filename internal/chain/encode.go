package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/deploydag/internal/ir"
)

// LinkBytecode substitutes library addresses into a unit's creation
// bytecode at the offsets recorded in its link references. Every slot the
// unit declares must have a link.
func LinkBytecode(unit ir.Unit, links []ir.LibraryLink) ([]byte, error) {
	code := strings.TrimPrefix(unit.Bytecode, "0x")
	if code == "" {
		return nil, fmt.Errorf("unit %s has no bytecode", unit.Name)
	}

	bySlot := make(map[string]string, len(links))
	for _, l := range links {
		bySlot[l.Slot] = l.Address
	}

	buf := []byte(code)
	for _, slot := range unit.Libraries {
		addr, ok := bySlot[slot]
		if !ok {
			return nil, fmt.Errorf("unit %s: library %s is not linked", unit.Name, slot)
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("unit %s: library %s has invalid address %q", unit.Name, slot, addr)
		}
		addrHex := hex.EncodeToString(common.HexToAddress(addr).Bytes())

		for _, off := range unit.LinkRefs[slot] {
			if off.Length != common.AddressLength {
				return nil, fmt.Errorf("unit %s: library %s placeholder is %d bytes, want %d", unit.Name, slot, off.Length, common.AddressLength)
			}
			start := 2 * off.Start
			end := start + 2*off.Length
			if start < 0 || end > len(buf) {
				return nil, fmt.Errorf("unit %s: library %s offset %d out of range", unit.Name, slot, off.Start)
			}
			copy(buf[start:end], addrHex)
		}
	}

	if i := strings.Index(string(buf), "__$"); i >= 0 {
		return nil, fmt.Errorf("unit %s: unlinked library placeholder at byte %d", unit.Name, i/2)
	}

	out, err := hex.DecodeString(string(buf))
	if err != nil {
		return nil, fmt.Errorf("unit %s: decode bytecode: %w", unit.Name, err)
	}
	return out, nil
}

// PackConstructor ABI-encodes resolved constructor arguments.
func PackConstructor(params []ir.Param, args ir.IRArray) ([]byte, error) {
	if len(params) != len(args) {
		return nil, fmt.Errorf("constructor takes %d arguments, got %d", len(params), len(args))
	}
	if len(params) == 0 {
		return nil, nil
	}

	arguments := make(abi.Arguments, len(params))
	values := make([]any, len(params))
	for i, p := range params {
		typ, err := abi.NewType(p.Type, "", nil)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		arguments[i] = abi.Argument{Name: p.Name, Type: typ}

		v, err := goValue(typ, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, p.Type, err)
		}
		values[i] = v
	}
	return arguments.Pack(values...)
}

var bigIntType = reflect.TypeOf(&big.Int{})

// goValue converts a resolved IR value into the Go value abi.Arguments.Pack
// expects for t.
func goValue(t abi.Type, v ir.IRValue) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := v.(ir.IRString)
		if !ok || !common.IsHexAddress(string(s)) {
			return nil, fmt.Errorf("want resolved address, got %s", ir.FormatValue(v))
		}
		return common.HexToAddress(string(s)), nil

	case abi.UintTy, abi.IntTy:
		n, err := bigValue(v)
		if err != nil {
			return nil, err
		}
		goType := t.GetType()
		if goType == bigIntType {
			return n, nil
		}
		rv := reflect.New(goType).Elem()
		switch goType.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			rv.SetUint(n.Uint64())
		default:
			rv.SetInt(n.Int64())
		}
		return rv.Interface(), nil

	case abi.BoolTy:
		b, ok := v.(ir.IRBool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %s", ir.FormatValue(v))
		}
		return bool(b), nil

	case abi.StringTy:
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("want string, got %s", ir.FormatValue(v))
		}
		return string(s), nil

	case abi.BytesTy, abi.FixedBytesTy:
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("want hex bytes, got %s", ir.FormatValue(v))
		}
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(string(s), "0x"), "0X"))
		if err != nil {
			return nil, fmt.Errorf("decode bytes: %w", err)
		}
		if t.T == abi.BytesTy {
			return b, nil
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("want %d bytes, got %d", t.Size, len(b))
		}
		rv := reflect.New(t.GetType()).Elem()
		reflect.Copy(rv, reflect.ValueOf(b))
		return rv.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		arr, ok := v.(ir.IRArray)
		if !ok {
			return nil, fmt.Errorf("want array, got %s", ir.FormatValue(v))
		}
		var rv reflect.Value
		if t.T == abi.SliceTy {
			rv = reflect.MakeSlice(t.GetType(), len(arr), len(arr))
		} else {
			if len(arr) != t.Size {
				return nil, fmt.Errorf("want %d elements, got %d", t.Size, len(arr))
			}
			rv = reflect.New(t.GetType()).Elem()
		}
		for i, elem := range arr {
			ev, err := goValue(*t.Elem, elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			rv.Index(i).Set(reflect.ValueOf(ev))
		}
		return rv.Interface(), nil

	default:
		return nil, fmt.Errorf("unsupported type %s", t.String())
	}
}

func bigValue(v ir.IRValue) (*big.Int, error) {
	switch val := v.(type) {
	case ir.IRInt:
		return big.NewInt(int64(val)), nil
	case ir.IRString:
		n, ok := new(big.Int).SetString(string(val), 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", string(val))
		}
		return n, nil
	}
	return nil, fmt.Errorf("want integer, got %s", ir.FormatValue(v))
}
