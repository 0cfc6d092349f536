package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/vestingops/allotctl/chain/evm"
)

var (
	// simChainID is the chain ID for the simulated EVM chain. This is always set to 1337 across
	// all instances of EVM Simulated Chains.
	simChainID = params.AllDevChainProtocolChanges.ChainID
	// prefundAmountWei is 1,000,000 Ether in wei.
	prefundAmountWei = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(params.Ether))
)

// SimChainProviderConfig holds the configuration to initialize the SimChainProvider.
type SimChainProviderConfig struct {
	// Optional: DeployerKey is the prefunded key the chain signs with. A random key is
	// generated when nil.
	DeployerKey *ecdsa.PrivateKey
	// Optional: BlockTime configures the time between blocks being committed. By default, this is
	// set to 0s, meaning that blocks are only committed by the Confirm function of the chain.
	BlockTime time.Duration
}

// SimChainProvider manages a simulated EVM chain that is backed by go-ethereum's in memory
// simulated backend. It is intended for tests.
type SimChainProvider struct {
	t      *testing.T
	config SimChainProviderConfig

	mu      sync.Mutex // serializes commits
	backend *simulated.Backend
	chain   *evm.Chain
}

// NewSimChainProvider creates a new SimChainProvider with the given configuration.
func NewSimChainProvider(t *testing.T, config SimChainProviderConfig) *SimChainProvider {
	t.Helper()

	return &SimChainProvider{
		t:      t,
		config: config,
	}
}

// Initialize sets up the simulated chain with a prefunded deployer account. The Confirm
// function of the returned chain commits a block before waiting for the receipt.
func (p *SimChainProvider) Initialize(ctx context.Context) (evm.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil // Already initialized
	}

	key := p.config.DeployerKey
	if key == nil {
		var err error
		key, err = crypto.GenerateKey()
		require.NoError(p.t, err, "failed to generate deployer key")
	}

	deployerKey, err := bind.NewKeyedTransactorWithChainID(key, simChainID)
	require.NoError(p.t, err)

	genesis := types.GenesisAlloc{
		deployerKey.From: {Balance: prefundAmountWei},
	}

	p.backend = simulated.NewBackend(genesis, simulated.WithBlockGasLimit(50000000))
	p.commit() // Commit the genesis block
	p.t.Cleanup(func() { _ = p.backend.Close() })

	if p.config.BlockTime > 0 {
		p.startAutoMine(p.config.BlockTime)
	}

	client := p.backend.Client()
	chainName := fmt.Sprintf("simulated-%s", simChainID)

	confirm, err := ConfirmFuncGeth(time.Minute, WithTickInterval(10*time.Millisecond)).
		Generate(chainName, client, deployerKey.From)
	if err != nil {
		return evm.Chain{}, err
	}

	p.chain = &evm.Chain{
		Selector:    evm.SelectorForChainID(simChainID),
		ChainID:     new(big.Int).Set(simChainID),
		Client:      client,
		DeployerKey: deployerKey,
		Confirm: func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
			// Ensure the transaction is mined by committing a new block
			p.commit()

			return confirm(ctx, tx)
		},
	}

	return *p.chain, nil
}

// Backend returns the simulated backend. You must call Initialize first.
func (p *SimChainProvider) Backend() *simulated.Backend {
	return p.backend
}

func (p *SimChainProvider) commit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.backend.Commit()
}

// startAutoMine commits a block every blockTime until the test is done.
func (p *SimChainProvider) startAutoMine(blockTime time.Duration) {
	ctx := p.t.Context()
	ticker := time.NewTicker(blockTime)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.commit()
			case <-ctx.Done():
				return
			}
		}
	}()
}
