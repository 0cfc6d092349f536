package commands

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vestingops/allotctl/pkg/commands/text"
)

var (
	getAllotmentShort = "Read the allotment of a beneficiary"

	getAllotmentLong = text.LongDesc(`
		Reads the allotment the contract records for a beneficiary at the latest block.

		No signing credential is needed.
	`)

	getAllotmentExample = text.Examples(`
		allotctl get-allotment 0xdef0000000000000000000000000000000000000
	`)
)

// newGetAllotmentCmd creates the "get-allotment" command.
func newGetAllotmentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "get-allotment <beneficiary>",
		Short:   getAllotmentShort,
		Long:    getAllotmentLong,
		Example: getAllotmentExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGetAllotment(cmd, a, args[0])
		},
	}

	return cmd
}

// runGetAllotment executes the get-allotment command logic.
func runGetAllotment(cmd *cobra.Command, a *app, rawBeneficiary string) error {
	cfg, err := a.loadConfig(cmd, true, false)
	if err != nil {
		return err
	}

	beneficiary, err := parseAddressArg("beneficiary", rawBeneficiary)
	if err != nil {
		return err
	}

	contract, err := a.bindContract(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}

	updater, err := a.newUpdater(contract, cfg.Contract)
	if err != nil {
		return err
	}

	value, err := updater.Get(cmd.Context(), beneficiary)
	if err != nil {
		return err
	}

	if cfg.Contract.Decimals > 0 {
		human := decimal.NewFromBigInt(value, -cfg.Contract.Decimals)
		fmt.Fprintf(cmd.OutOrStdout(), "Allotment: %s (%s)\n", value, human)

		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Allotment: %s\n", value)

	return nil
}
