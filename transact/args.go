package transact

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/vestingops/allotctl/chain/evm"
)

// ParseArgs converts command line strings into the Go values abi.Pack expects for the inputs
// of method. Integers accept decimal notation with exponents ("1e21") or 0x prefixed hex.
// Errors wrap ErrEncoding.
func ParseArgs(method abi.Method, raw []string) ([]any, error) {
	if len(raw) != len(method.Inputs) {
		return nil, stepError(StepEncode, ErrEncoding,
			fmt.Errorf("%s takes %d arguments, got %d", method.Sig, len(method.Inputs), len(raw)))
	}

	args := make([]any, len(raw))
	for i, input := range method.Inputs {
		v, err := parseArg(input.Type, raw[i])
		if err != nil {
			return nil, stepError(StepEncode, ErrEncoding, fmt.Errorf("argument %s (%s): %w", inputName(input, i), input.Type, err))
		}
		args[i] = v
	}

	return args, nil
}

// checkArgs checks the *big.Int arguments of a call against the integer inputs of method.
func checkArgs(method abi.Method, args []any) error {
	for i, arg := range args {
		if i >= len(method.Inputs) {
			break
		}
		input := method.Inputs[i]
		if input.Type.T != abi.IntTy && input.Type.T != abi.UintTy {
			continue
		}

		n, ok := arg.(*big.Int)
		if !ok {
			continue
		}
		if n == nil {
			return fmt.Errorf("argument %s (%s) is nil", inputName(input, i), input.Type)
		}
		if err := checkIntRange(input.Type, n); err != nil {
			return fmt.Errorf("argument %s: %w", inputName(input, i), err)
		}
	}

	return nil
}

func inputName(input abi.Argument, i int) string {
	if input.Name == "" {
		return strconv.Itoa(i)
	}

	return input.Name
}

func parseArg(t abi.Type, s string) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return evm.ParseAddress(s)
	case abi.BoolTy:
		return strconv.ParseBool(strings.TrimSpace(s))
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(strings.TrimSpace(s))
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))

		return arr.Interface(), nil
	case abi.IntTy, abi.UintTy:
		return parseInteger(t, s)
	default:
		return nil, fmt.Errorf("unsupported argument type %s", t)
	}
}

func parseInteger(t abi.Type, s string) (any, error) {
	s = strings.TrimSpace(s)

	var n *big.Int
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex integer %q", s)
		}
		n = v
	} else {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		if !d.IsInteger() {
			return nil, fmt.Errorf("%s is not an integer", s)
		}
		n = d.BigInt()
	}

	if err := checkIntRange(t, n); err != nil {
		return nil, err
	}

	goType := t.GetType()
	if goType.Kind() == reflect.Ptr {
		return n, nil // *big.Int for sizes other than 8, 16, 32 and 64
	}

	v := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		v.SetUint(n.Uint64())
	} else {
		v.SetInt(n.Int64())
	}

	return v.Interface(), nil
}

func checkIntRange(t abi.Type, n *big.Int) error {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return fmt.Errorf("%s is negative", n)
		}
		if n.BitLen() > t.Size {
			return fmt.Errorf("%s overflows %s", n, t)
		}

		return nil
	}

	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1)) //nolint:gosec // abi sizes are at most 256
	minValue := new(big.Int).Neg(limit)
	if n.Cmp(minValue) < 0 || n.Cmp(limit) >= 0 {
		return fmt.Errorf("%s overflows %s", n, t)
	}

	return nil
}
