package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/vestingops/allotctl/allotment"
	"github.com/vestingops/allotctl/pkg/commands/flags"
	"github.com/vestingops/allotctl/pkg/commands/text"
	"github.com/vestingops/allotctl/transact"
)

var (
	setAllotmentShort = "Set the allotment of a beneficiary"

	setAllotmentLong = text.LongDesc(`
		Signs and broadcasts a single setAllotment transaction, waits until it is mined and
		reads the allotment back.

		The gas is estimated as the sender, which must be the address of the signing key. The
		amount is given in whole tokens and scaled by --decimals (default: contract.decimals).

		With --dry-run the transaction is signed and printed but not broadcast. It is still
		checked against the chain id the node reports.
	`)

	setAllotmentExample = text.Examples(`
		# Allot 1000 base units
		allotctl set-allotment 0xdef0000000000000000000000000000000000000 1000

		# Allot 1.5 tokens of an 18 decimals token
		allotctl set-allotment 0xdef0000000000000000000000000000000000000 1.5 --decimals 18

		# Sign without broadcasting
		allotctl set-allotment 0xdef0000000000000000000000000000000000000 1000 --dry-run
	`)
)

type setAllotmentFlags struct {
	decimals int32
	dryRun   bool
}

// newSetAllotmentCmd creates the "set-allotment" command.
func newSetAllotmentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "set-allotment <beneficiary> <amount>",
		Short:   setAllotmentShort,
		Long:    setAllotmentLong,
		Example: setAllotmentExample,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := setAllotmentFlags{
				decimals: flags.MustInt32(cmd.Flags().GetInt32("decimals")),
				dryRun:   flags.MustBool(cmd.Flags().GetBool("dry-run")),
			}

			return runSetAllotment(cmd, a, args, f)
		},
	}

	flags.From(cmd)
	flags.Decimals(cmd)
	cmd.Flags().Bool("dry-run", false, "Sign the transaction and print it without broadcasting")

	return cmd
}

// runSetAllotment executes the set-allotment command logic.
func runSetAllotment(cmd *cobra.Command, a *app, args []string, f setAllotmentFlags) error {
	ctx := cmd.Context()

	cfg, err := a.loadConfig(cmd, true, true)
	if err != nil {
		return err
	}

	beneficiary, err := parseAddressArg("beneficiary", args[0])
	if err != nil {
		return err
	}

	decimals := f.decimals
	if decimals < 0 {
		decimals = cfg.Contract.Decimals
	}
	amount, err := allotment.ParseAmount(args[1], decimals)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", transact.StepEncode, transact.ErrEncoding, err)
	}

	contract, err := a.bindContract(ctx, cfg, true)
	if err != nil {
		return err
	}

	updater, err := a.newUpdater(contract, cfg.Contract)
	if err != nil {
		return err
	}

	from, err := sender(cmd, contract)
	if err != nil {
		return err
	}

	if f.dryRun {
		tx, err := contract.Prepare(ctx, from, cfg.Contract.Methods.Set, beneficiary, amount)
		if err != nil {
			return err
		}
		if err := contract.CheckChainID(ctx, tx); err != nil {
			return err
		}

		raw, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("%s: %w: %w", transact.StepSign, transact.ErrEncoding, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Transaction hash: %s\n", tx.Hash().Hex())
		fmt.Fprintf(cmd.OutOrStdout(), "Raw transaction: %s\n", hexutil.Encode(raw))

		return nil
	}

	outcome, err := updater.Set(ctx, from, beneficiary, amount)
	if outcome != nil {
		fmt.Fprintln(cmd.OutOrStdout(), outcome.String())
	}

	return err
}
