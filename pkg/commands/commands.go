// Package commands provides the allotctl CLI.
//
// The root command is built from a Config whose Deps can be overridden for testing:
//
//	cmd := commands.NewCommand(commands.Config{
//	    Logger: lggr,
//	    Deps:   commands.Deps{ProviderFactory: myFactory},
//	})
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/vestingops/allotctl/allotment"
	"github.com/vestingops/allotctl/chain/evm"
	"github.com/vestingops/allotctl/deployment"
	"github.com/vestingops/allotctl/pkg/commands/flags"
	"github.com/vestingops/allotctl/pkg/commands/text"
	"github.com/vestingops/allotctl/pkg/config"
	"github.com/vestingops/allotctl/pkg/logger"
	"github.com/vestingops/allotctl/transact"
)

const defaultConfigPath = "allotctl.yml"

var (
	rootShort = "Update vesting allotments on an EVM chain"

	rootLong = text.LongDesc(`
		allotctl submits a single signed transaction to a vesting contract and reads the
		updated state back.

		The network is discovered from the node, the contract address is resolved from the
		build artifact or the address book recorded for that network, and the transaction is
		signed locally or with an AWS KMS key.

		Configuration is read from the file given by --config and from ALLOTCTL_* environment
		variables. Secrets should only be provided through the environment.
	`)
)

// Config holds the configuration for the allotctl commands.
type Config struct {
	// Logger is the logger to use for command output. When nil, a CLI logger is created at the
	// level given by --log-level.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

// NewCommand creates the allotctl root command with all subcommands.
func NewCommand(cfg Config) *cobra.Command {
	a := &app{deps: cfg.deps(), lggr: cfg.Logger}

	cmd := &cobra.Command{
		Use:               "allotctl",
		Short:             rootShort,
		Long:              rootLong,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the config file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newSetAllotmentCmd(a))
	cmd.AddCommand(newGetAllotmentCmd(a))
	cmd.AddCommand(newSendCmd(a))
	cmd.AddCommand(newCallCmd(a))
	cmd.AddCommand(newAddressesCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	deps *Deps
	lggr logger.Logger
}

func (a *app) init(cmd *cobra.Command, _ []string) error {
	if a.lggr != nil {
		return nil
	}

	level, err := zapcore.ParseLevel(flags.MustString(cmd.Flags().GetString("log-level")))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	lggr, err := a.deps.LoggerFactory(level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.lggr = lggr

	return nil
}

// loadConfig loads the config given by --config. The config is validated unless validate is
// false; needSigner additionally requires a signing credential.
func (a *app) loadConfig(cmd *cobra.Command, validate, needSigner bool) (*config.Config, error) {
	path := flags.MustString(cmd.Flags().GetString("config"))

	cfg, err := a.deps.ConfigLoader(path)
	if err != nil {
		return nil, err
	}

	if validate {
		if err := cfg.Validate(needSigner); err != nil {
			return nil, err
		}
	}

	if dump, err := cfg.Redacted(); err == nil {
		a.lggr.Debugf("Loaded config from %s:\n%s", path, dump)
	}

	return cfg, nil
}

// bindContract connects to the node and resolves the contract on the network it serves.
func (a *app) bindContract(ctx context.Context, cfg *config.Config, needSigner bool) (*transact.Contract, error) {
	contractABI, resolver, err := a.contractSource(cfg)
	if err != nil {
		return nil, err
	}

	p, err := a.deps.ProviderFactory(cfg, a.lggr, needSigner)
	if err != nil {
		return nil, err
	}

	chain, err := transact.Connect(ctx, p)
	if err != nil {
		return nil, err
	}

	return transact.Bind(ctx, chain, resolver, contractABI, a.lggr)
}

// contractSource loads the contract ABI and chains the configured deployment registries: an
// explicit address first, then the artifact networks, then the address book.
func (a *app) contractSource(cfg *config.Config) (abi.ABI, deployment.Resolver, error) {
	cc := cfg.Contract

	var (
		contractABI abi.ABI
		haveABI     bool
		resolvers   []deployment.Resolver
	)

	if cc.Address != "" {
		addr, err := evm.ParseAddress(cc.Address)
		if err != nil {
			return abi.ABI{}, nil, fmt.Errorf("%s: %w: contract.address: %w", transact.StepResolve, transact.ErrResolution, err)
		}
		resolvers = append(resolvers, deployment.StaticResolver{Address: addr})
	}

	if cc.ArtifactPath != "" {
		artifact, err := a.deps.ArtifactLoader(cc.ArtifactPath)
		if err != nil {
			return abi.ABI{}, nil, fmt.Errorf("%s: %w: %w", transact.StepResolve, transact.ErrResolution, err)
		}
		contractABI, haveABI = artifact.ABI(), true
		resolvers = append(resolvers, deployment.ArtifactResolver{
			Artifact:  artifact,
			NetworkID: cfg.ArtifactNetworkID(),
		})
	}

	if cc.ABIPath != "" {
		parsed, err := a.deps.ABILoader(cc.ABIPath)
		if err != nil {
			return abi.ABI{}, nil, fmt.Errorf("%s: %w: %w", transact.StepEncode, transact.ErrEncoding, err)
		}
		contractABI, haveABI = parsed, true
	}

	if cc.AddressBookPath != "" {
		book, err := a.deps.AddressBookLoader(cc.AddressBookPath)
		if err != nil {
			return abi.ABI{}, nil, fmt.Errorf("%s: %w: %w", transact.StepResolve, transact.ErrResolution, err)
		}

		var version *semver.Version
		if cc.Version != "" {
			version, err = semver.NewVersion(cc.Version)
			if err != nil {
				return abi.ABI{}, nil, fmt.Errorf("%s: %w: contract.version: %w", transact.StepResolve, transact.ErrResolution, err)
			}
		}

		resolvers = append(resolvers, deployment.AddressBookResolver{
			Book:    book,
			Type:    deployment.ContractType(cc.Type),
			Version: version,
		})
	}

	if !haveABI {
		return abi.ABI{}, nil, fmt.Errorf("%s: %w: no contract abi configured", transact.StepEncode, transact.ErrEncoding)
	}

	return contractABI, deployment.FirstOf(resolvers...), nil
}

// newUpdater binds the allotment functions named in the config.
func (a *app) newUpdater(contract *transact.Contract, cc config.ContractConfig) (*allotment.Updater, error) {
	return allotment.NewUpdater(contract, a.lggr,
		allotment.WithMethods(allotment.Methods{
			Set:   cc.Methods.Set,
			Get:   cc.Methods.Get,
			Owner: cc.Methods.Owner,
		}),
		allotment.WithOwnerCheck(cc.OwnerCheck),
	)
}

// sender returns the --from address, defaulting to the address of the signing key.
func sender(cmd *cobra.Command, contract *transact.Contract) (common.Address, error) {
	from := flags.MustString(cmd.Flags().GetString("from"))
	if from == "" {
		key := contract.Chain().DeployerKey
		if key == nil {
			return common.Address{}, fmt.Errorf("%s: %w: no signing key configured", transact.StepSign, transact.ErrSigning)
		}

		return key.From, nil
	}

	addr, err := parseAddressArg("--from", from)
	if err != nil {
		return common.Address{}, err
	}

	return addr, nil
}

// parseAddressArg parses a command line address.
func parseAddressArg(name, s string) (common.Address, error) {
	addr, err := evm.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w: %s: %w", transact.StepEncode, transact.ErrEncoding, name, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: %w: %s: %w", transact.StepEncode, transact.ErrEncoding, name,
			errors.New("zero address"))
	}

	return addr, nil
}
