package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	chainsel "github.com/smartcontractkit/chain-selectors"
	"github.com/spf13/cobra"

	"github.com/vestingops/allotctl/deployment"
	"github.com/vestingops/allotctl/pkg/commands/text"
)

var (
	addressesShort = "List the contracts recorded in the address book"

	addressesLong = text.LongDesc(`
		Prints every address recorded in contract.address_book_path, ordered by chain selector
		and address. Use --chain-selector to restrict the output to one chain.

		Each --address-book is merged into the listing, e.g. the book of a new deployment
		next to the existing one. An address recorded in two books is an error.
	`)

	addressesExample = text.Examples(`
		allotctl addresses
		allotctl addresses --chain-selector 5009297550715157269
		allotctl addresses --address-book deployments/sepolia-v2.json
	`)

	configShort = "Print the effective configuration with secrets redacted"
)

// newAddressesCmd creates the "addresses" command.
func newAddressesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "addresses",
		Short:   addressesShort,
		Long:    addressesLong,
		Example: addressesExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selector, err := cmd.Flags().GetUint64("chain-selector")
			if err != nil {
				return err
			}
			extra, err := cmd.Flags().GetStringArray("address-book")
			if err != nil {
				return err
			}

			return runAddresses(cmd, a, selector, extra)
		},
	}

	cmd.Flags().Uint64("chain-selector", 0, "Only list the addresses of this chain selector")
	cmd.Flags().StringArray("address-book", nil, "Merge another address book into the listing (repeatable)")

	return cmd
}

// runAddresses executes the addresses command logic.
func runAddresses(cmd *cobra.Command, a *app, selector uint64, extra []string) error {
	cfg, err := a.loadConfig(cmd, false, false)
	if err != nil {
		return err
	}

	paths := extra
	if cfg.Contract.AddressBookPath != "" {
		paths = append([]string{cfg.Contract.AddressBookPath}, extra...)
	}
	if len(paths) == 0 {
		return errors.New("contract.address_book_path is not configured and no --address-book was given")
	}

	book := deployment.NewMemoryAddressBook()
	for _, path := range paths {
		other, err := a.deps.AddressBookLoader(path)
		if err != nil {
			return err
		}
		if err := book.Merge(other); err != nil {
			return fmt.Errorf("failed to merge address book %s: %w", path, err)
		}
	}

	rows := make([][]string, 0)
	for _, e := range book.Entries() {
		if selector != 0 && e.ChainSelector != selector {
			continue
		}
		rows = append(rows, []string{
			strconv.FormatUint(e.ChainSelector, 10),
			chainName(e.ChainSelector),
			e.Address.Hex(),
			string(e.TypeAndVersion.Type),
			e.TypeAndVersion.Version.String(),
		})
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No addresses recorded")

		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Chain selector", "Chain", "Address", "Type", "Version"})
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()

	return nil
}

func chainName(selector uint64) string {
	chain, ok := chainsel.ChainBySelector(selector)
	if !ok || chain.Name == "" {
		return "unknown"
	}

	return chain.Name
}

// newConfigCmd creates the "config" command.
func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: configShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd, false, false)
			if err != nil {
				return err
			}

			dump, err := cfg.Redacted()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dump)

			return cfg.Validate(false)
		},
	}
}
