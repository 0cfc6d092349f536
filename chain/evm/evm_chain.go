package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	chainsel "github.com/smartcontractkit/chain-selectors"
)

var (
	// ErrConfirmTimeout is returned by a ConfirmFunc when the transaction was not found in a block
	// before the confirmation timeout. The transaction may still be mined later.
	ErrConfirmTimeout = errors.New("timed out waiting for transaction to be mined")
	// ErrTxReverted is returned by a ConfirmFunc together with the receipt of a transaction that
	// was mined with a failed status.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrInvalidSigner is returned when the signing credential cannot produce a signer.
	ErrInvalidSigner = errors.New("invalid signer")
)

// ConfirmFunc waits for a broadcast transaction to be included in a block and returns its
// receipt. It blocks until the receipt is found, the context is done or the confirmation
// timeout of the implementation elapses. A reverted transaction yields both the receipt and an
// error wrapping ErrTxReverted.
type ConfirmFunc func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// ReceiptReader looks up the receipt of a mined transaction. It returns ethereum.NotFound
// while the transaction is pending.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// OnchainClient is the set of node calls needed to build, send and confirm a contract call.
type OnchainClient interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.TransactionSender
	ReceiptReader

	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	// ChainID returns the chain id the connected node reports (eth_chainId).
	ChainID(ctx context.Context) (*big.Int, error)
}

// Chain represents a connected EVM network together with the key used to sign transactions
// on it.
type Chain struct {
	// Selector is the chain-selector of the network, or 0 when the chain id is not registered
	// in chain-selectors (e.g. private devnets).
	Selector uint64
	// ChainID is the network identity reported by the node at connection time.
	ChainID *big.Int

	Client OnchainClient
	// DeployerKey signs for the chain id it was generated with, which is not necessarily
	// ChainID.
	DeployerKey *bind.TransactOpts
	Confirm     ConfirmFunc
}

// String returns chain name and chain id "<name> (<chain id>)"
func (c Chain) String() string {
	return fmt.Sprintf("%s (%s)", c.Name(), c.chainIDString())
}

// Name returns the name of the chain. Chains unknown to chain-selectors are named after their
// chain id.
func (c Chain) Name() string {
	if info, ok := chainsel.ChainBySelector(c.Selector); ok && info.Name != "" {
		return info.Name
	}

	return "chain-" + c.chainIDString()
}

func (c Chain) chainIDString() string {
	if c.ChainID == nil {
		return "0"
	}

	return c.ChainID.String()
}

// SelectorForChainID returns the chain selector registered for an EVM chain id, or 0 when the
// chain id is unknown to chain-selectors.
func SelectorForChainID(chainID *big.Int) uint64 {
	if chainID == nil || !chainID.IsUint64() {
		return 0
	}

	selector, err := chainsel.SelectorFromChainId(chainID.Uint64())
	if err != nil {
		return 0
	}

	return selector
}
