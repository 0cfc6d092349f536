package commands

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap/zapcore"

	"github.com/vestingops/allotctl/chain/evm"
	"github.com/vestingops/allotctl/chain/evm/provider"
	"github.com/vestingops/allotctl/deployment"
	"github.com/vestingops/allotctl/pkg/config"
	"github.com/vestingops/allotctl/pkg/logger"
	"github.com/vestingops/allotctl/transact"
)

// ConfigLoaderFunc loads the configuration from the file at path and the environment.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// ProviderFactoryFunc builds the provider that connects to the node. Without needSigner the
// provider may sign with a throwaway key, read-only commands never broadcast.
type ProviderFactoryFunc func(cfg *config.Config, lggr logger.Logger, needSigner bool) (transact.ChainProvider, error)

// ArtifactLoaderFunc loads a build artifact.
type ArtifactLoaderFunc func(path string) (*deployment.Artifact, error)

// ABILoaderFunc loads a bare contract ABI.
type ABILoaderFunc func(path string) (abi.ABI, error)

// AddressBookLoaderFunc loads an address book.
type AddressBookLoaderFunc func(path string) (*deployment.AddressBookMap, error)

// LoggerFactoryFunc creates the command logger at the --log-level level.
type LoggerFactoryFunc func(level zapcore.Level) (logger.Logger, error)

// Deps holds the injectable dependencies of the allotctl commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// ProviderFactory builds the chain provider.
	// Default: a provider.RPCChainProvider over the configured RPCs
	ProviderFactory ProviderFactoryFunc

	// ArtifactLoader loads the build artifact of contract.artifact_path.
	// Default: deployment.LoadArtifact
	ArtifactLoader ArtifactLoaderFunc

	// ABILoader loads the ABI of contract.abi_path.
	// Default: reads and parses the JSON file
	ABILoader ABILoaderFunc

	// AddressBookLoader loads the address book of contract.address_book_path.
	// Default: deployment.LoadAddressBook
	AddressBookLoader AddressBookLoaderFunc

	// LoggerFactory creates the logger when Config.Logger is nil.
	// Default: logger.NewCLILogger
	LoggerFactory LoggerFactoryFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.ProviderFactory == nil {
		d.ProviderFactory = defaultProviderFactory
	}
	if d.ArtifactLoader == nil {
		d.ArtifactLoader = deployment.LoadArtifact
	}
	if d.ABILoader == nil {
		d.ABILoader = defaultABILoader
	}
	if d.AddressBookLoader == nil {
		d.AddressBookLoader = deployment.LoadAddressBook
	}
	if d.LoggerFactory == nil {
		d.LoggerFactory = logger.NewCLILogger
	}
}

// defaultABILoader reads a JSON ABI file.
func defaultABILoader(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to open abi: %w", err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse abi %s: %w", path, err)
	}

	return parsed, nil
}

// defaultProviderFactory connects over the configured RPCs and confirms with receipt polling.
func defaultProviderFactory(cfg *config.Config, lggr logger.Logger, needSigner bool) (transact.ChainProvider, error) {
	signerGen, err := signerGenerator(cfg.Signer, needSigner)
	if err != nil {
		return nil, err
	}

	rpcs, err := cfg.EVMRPCs()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", transact.StepConnect, transact.ErrNetwork, err)
	}

	return provider.NewRPCChainProvider(provider.RPCChainProviderConfig{
		SignerGen:      signerGen,
		RPCs:           rpcs,
		ConfirmFunctor: provider.ConfirmFuncGeth(cfg.Network.ConfirmTimeout, provider.WithTickInterval(cfg.Network.PollInterval)),
		ChainID:        cfg.PinnedChainID(),
		ClientOpts:     []func(*evm.MultiClient){evm.WithRetryConfig(cfg.EVMRetryConfig())},
		Logger:         lggr,
	}), nil
}

// signerGenerator picks the signing credential. A raw key wins over KMS; Validate rejects
// configs that set both.
func signerGenerator(sc config.SignerConfig, needSigner bool) (provider.SignerGenerator, error) {
	switch {
	case sc.PrivateKey != "":
		return provider.TransactorFromRaw(sc.PrivateKey, provider.WithGasLimit(sc.GasLimit)), nil
	case sc.KMS.KeyID != "":
		gen, err := provider.TransactorFromKMS(sc.KMS.KeyID, sc.KMS.KeyRegion, sc.KMS.AWSProfile,
			provider.WithGasLimit(sc.GasLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", transact.StepConnect, transact.ErrSigning, err)
		}

		return gen, nil
	case needSigner:
		return nil, fmt.Errorf("%s: %w: no signing credential configured", transact.StepConnect, transact.ErrSigning)
	default:
		return provider.TransactorRandom(), nil
	}
}
