package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/vestingops/allotctl/chain/evm"
	"github.com/vestingops/allotctl/pkg/logger"
)

// RPCChainProviderConfig holds the configuration to initialize the RPCChainProvider.
type RPCChainProviderConfig struct {
	// Required: A generator for the signing key. Use TransactorFromRaw to create a signer from
	// a private key, or TransactorFromKMS to create a signer from a KMS key.
	SignerGen SignerGenerator
	// Required: At least one RPC must be provided to connect to the EVM node.
	RPCs []evm.RPC
	// Required: ConfirmFunctor is a type that generates a confirmation function for transactions.
	// Use ConfirmFuncGeth unless you need something else.
	ConfirmFunctor ConfirmFunctor
	// Optional: ChainID pins the chain id transactions are signed for. When nil the chain id
	// reported by the node is used. A pinned chain id that differs from the node's is not an
	// error here; it is caught before broadcasting.
	ChainID *big.Int
	// Optional: ClientOpts are additional options to configure the MultiClient used by the
	// RPCChainProvider, such as retry configuration.
	ClientOpts []func(client *evm.MultiClient)
	// Optional: Logger is the logger to use for the RPCChainProvider. If not provided, a default
	// logger will be used.
	Logger logger.Logger
}

// validate checks if the RPCChainProviderConfig is valid.
func (c RPCChainProviderConfig) validate() error {
	if c.SignerGen == nil {
		return errors.New("signer generator is required")
	}
	if c.ConfirmFunctor == nil {
		return errors.New("confirm functor is required")
	}
	if len(c.RPCs) == 0 {
		return errors.New("at least one RPC is required")
	}
	if c.ChainID != nil && c.ChainID.Sign() <= 0 {
		return fmt.Errorf("pinned chain ID must be positive, got %s", c.ChainID)
	}

	return nil
}

// RPCChainProvider connects to an EVM node over JSON-RPC and discovers the network it serves.
type RPCChainProvider struct {
	config RPCChainProviderConfig

	chain *evm.Chain
}

// NewRPCChainProvider creates a new RPCChainProvider with the given configuration.
func NewRPCChainProvider(config RPCChainProviderConfig) *RPCChainProvider {
	return &RPCChainProvider{
		config: config,
	}
}

// Initialize dials the configured RPCs, asks the node for its chain id, derives the chain
// selector and sets up the signer and confirm function. Signer failures wrap
// evm.ErrInvalidSigner.
func (p *RPCChainProvider) Initialize(ctx context.Context) (evm.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil // Already initialized
	}

	if p.config.Logger == nil {
		lggr, err := logger.New()
		if err != nil {
			return evm.Chain{}, fmt.Errorf("failed to create default logger: %w", err)
		}
		p.config.Logger = lggr
	}

	if err := p.config.validate(); err != nil {
		return evm.Chain{}, fmt.Errorf("failed to validate provider config: %w", err)
	}

	client, err := evm.NewMultiClient(p.config.Logger, p.config.RPCs, p.config.ClientOpts...)
	if err != nil {
		return evm.Chain{}, fmt.Errorf("failed to create multi-client: %w", err)
	}

	nodeChainID, err := client.ChainID(ctx)
	if err != nil {
		return evm.Chain{}, fmt.Errorf("failed to get chain ID from node: %w", err)
	}

	signingChainID := nodeChainID
	if p.config.ChainID != nil {
		signingChainID = p.config.ChainID
		if signingChainID.Cmp(nodeChainID) != 0 {
			p.config.Logger.Warnw("Pinned chain ID differs from the node's chain ID",
				"pinnedChainID", signingChainID.String(), "nodeChainID", nodeChainID.String(),
			)
		}
	}

	selector := evm.SelectorForChainID(nodeChainID)

	signer, err := p.config.SignerGen.Generate(signingChainID)
	if err != nil {
		return evm.Chain{}, fmt.Errorf("failed to generate signer: %w: %w", evm.ErrInvalidSigner, err)
	}

	chain := evm.Chain{
		Selector:    selector,
		ChainID:     nodeChainID,
		Client:      client,
		DeployerKey: signer,
	}

	confirmFunc, err := p.config.ConfirmFunctor.Generate(chain.Name(), client, signer.From)
	if err != nil {
		return evm.Chain{}, fmt.Errorf("failed to generate confirm function: %w", err)
	}
	chain.Confirm = confirmFunc

	p.config.Logger.Infow("Connected to chain",
		"chain", chain.String(), "selector", selector, "signer", signer.From.Hex(),
	)

	p.chain = &chain

	return chain, nil
}
