// Package flags provides the flags shared by several allotctl commands.
//
// Command-specific flags are defined locally in the command file.
package flags

import (
	"github.com/spf13/cobra"
)

// MustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func MustString(s string, _ error) string { return s }

// MustBool returns the bool value, ignoring the error.
// Safe to use with registered flags where GetBool cannot fail.
func MustBool(b bool, _ error) bool { return b }

// MustInt32 returns the int32 value, ignoring the error.
// Safe to use with registered flags where GetInt32 cannot fail.
func MustInt32(i int32, _ error) int32 { return i }

// From adds the --from flag naming the transaction sender. An empty value means the address of
// the signing key.
// Retrieve the value with cmd.Flags().GetString("from").
//
// Usage:
//
//	flags.From(cmd)
//	// later in RunE:
//	from, _ := cmd.Flags().GetString("from")
func From(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Sender address (default: address of the signing key)")
}

// Decimals adds the --decimals flag scaling human readable amounts. The default of -1 means
// the contract.decimals config value.
// Retrieve the value with cmd.Flags().GetInt32("decimals").
func Decimals(cmd *cobra.Command) {
	cmd.Flags().Int32("decimals", -1, "Decimals of the amount (default: contract.decimals)")
}
