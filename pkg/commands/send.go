package commands

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/vestingops/allotctl/pkg/commands/flags"
	"github.com/vestingops/allotctl/pkg/commands/text"
	"github.com/vestingops/allotctl/transact"
)

var (
	sendShort = "Send a transaction calling any contract function"

	sendLong = text.LongDesc(`
		Encodes a call of the named function with the given arguments, estimates gas as the
		sender, signs, broadcasts and waits until the transaction is mined.

		Integers accept decimal, exponent (1e18) or 0x prefixed hex notation. Bytes are 0x
		prefixed hex.
	`)

	sendExample = text.Examples(`
		allotctl send setAllotment 0xdef0000000000000000000000000000000000000 1000
	`)

	callShort = "Call a read-only contract function"

	callLong = text.LongDesc(`
		Runs an eth_call of the named function at the latest block and prints the decoded
		outputs, one per line.
	`)

	callExample = text.Examples(`
		allotctl call owner
		allotctl call getAllotment 0xdef0000000000000000000000000000000000000
	`)
)

// newSendCmd creates the "send" command.
func newSendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "send <method> [args...]",
		Short:   sendShort,
		Long:    sendLong,
		Example: sendExample,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, a, args[0], args[1:])
		},
	}

	flags.From(cmd)

	return cmd
}

// runSend executes the send command logic.
func runSend(cmd *cobra.Command, a *app, method string, rawArgs []string) error {
	cfg, err := a.loadConfig(cmd, true, true)
	if err != nil {
		return err
	}

	contract, err := a.bindContract(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}

	args, err := methodArgs(contract, method, rawArgs)
	if err != nil {
		return err
	}

	from, err := sender(cmd, contract)
	if err != nil {
		return err
	}

	res, err := contract.Transact(cmd.Context(), from, method, args...)
	if res != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Transaction hash: %s  Block: %s  Gas used: %d\n",
			res.Hash().Hex(), res.Receipt.BlockNumber, res.Receipt.GasUsed)
	}

	return err
}

// newCallCmd creates the "call" command.
func newCallCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "call <method> [args...]",
		Short:   callShort,
		Long:    callLong,
		Example: callExample,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, a, args[0], args[1:])
		},
	}

	return cmd
}

// runCall executes the call command logic.
func runCall(cmd *cobra.Command, a *app, method string, rawArgs []string) error {
	cfg, err := a.loadConfig(cmd, true, false)
	if err != nil {
		return err
	}

	contract, err := a.bindContract(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}

	args, err := methodArgs(contract, method, rawArgs)
	if err != nil {
		return err
	}

	out, err := contract.Call(cmd.Context(), method, args...)
	if err != nil {
		return err
	}

	outputs := contract.ABI.Methods[method].Outputs
	for i, v := range out {
		if i < len(outputs) && outputs[i].Name != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", outputs[i].Name, formatValue(v))
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
	}

	return nil
}

// methodArgs converts the command line arguments of method.
func methodArgs(contract *transact.Contract, method string, raw []string) ([]any, error) {
	m, ok := contract.ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%s: %w: contract has no method %q", transact.StepEncode, transact.ErrEncoding, method)
	}

	return transact.ParseArgs(m, raw)
}

// formatValue renders a decoded ABI value.
func formatValue(v any) string {
	switch val := v.(type) {
	case common.Address:
		return val.Hex()
	case *big.Int:
		return val.String()
	case []byte:
		return hexutil.Encode(val)
	case common.Hash:
		return val.Hex()
	case []common.Address:
		parts := make([]string, len(val))
		for i, addr := range val {
			parts[i] = addr.Hex()
		}

		return "[" + strings.Join(parts, " ") + "]"
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)

		return hexutil.Encode(b)
	}

	return fmt.Sprint(v)
}
