package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vestingops/allotctl/chain/evm"
)

// ConfirmFunctor is an interface for creating a confirmation function for transactions on the
// EVM chain.
type ConfirmFunctor interface {
	// Generate returns a function that confirms transactions on the EVM chain. chainName is
	// only used in error messages.
	Generate(chainName string, client evm.OnchainClient, from common.Address) (evm.ConfirmFunc, error)
}

// ConfirmFuncGeth returns a ConfirmFunctor that polls eth_getTransactionReceipt until the
// transaction is mined or waitMinedTimeout elapses.
func ConfirmFuncGeth(waitMinedTimeout time.Duration, opts ...func(*confirmFuncGeth)) ConfirmFunctor {
	cf := &confirmFuncGeth{
		tickInterval:     1 * time.Second, // the same value we have in bind.WaitMined hardcoded in "go-ethereum"
		waitMinedTimeout: waitMinedTimeout,
	}
	for _, o := range opts {
		o(cf)
	}

	return cf
}

// WithTickInterval sets the receipt polling interval. A non-positive interval keeps the
// default.
func WithTickInterval(interval time.Duration) func(*confirmFuncGeth) {
	return func(o *confirmFuncGeth) {
		if interval > 0 {
			o.tickInterval = interval
		}
	}
}

type confirmFuncGeth struct {
	tickInterval     time.Duration
	waitMinedTimeout time.Duration
}

// Generate returns a function that confirms transactions using the Geth client.
func (g *confirmFuncGeth) Generate(
	chainName string, client evm.OnchainClient, from common.Address,
) (evm.ConfirmFunc, error) {
	if g.waitMinedTimeout <= 0 {
		return nil, fmt.Errorf("wait mined timeout must be positive, got %s", g.waitMinedTimeout)
	}

	return func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		if tx == nil {
			return nil, fmt.Errorf("tx was nil, nothing to confirm for chain %s", chainName)
		}

		ctxTimeout, cancel := context.WithTimeout(ctx, g.waitMinedTimeout)
		defer cancel()

		receipt, err := WaitMinedWithInterval(ctxTimeout, g.tickInterval, client, tx.Hash())
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("tx %s not mined on chain %s after %s: %w: %w",
					tx.Hash().Hex(), chainName, g.waitMinedTimeout, evm.ErrConfirmTimeout, err,
				)
			}

			return nil, fmt.Errorf("tx %s failed to confirm on chain %s: %w",
				tx.Hash().Hex(), chainName, err,
			)
		}
		if receipt == nil {
			return nil, fmt.Errorf("receipt was nil for tx %s on chain %s",
				tx.Hash().Hex(), chainName,
			)
		}

		if receipt.Status == types.ReceiptStatusFailed {
			if reason := revertReason(ctx, client, from, tx, receipt); reason != "" {
				return receipt, fmt.Errorf("tx %s on chain %s: %w: %s",
					tx.Hash().Hex(), chainName, evm.ErrTxReverted, reason,
				)
			}

			return receipt, fmt.Errorf("tx %s on chain %s: %w, could not decode error reason",
				tx.Hash().Hex(), chainName, evm.ErrTxReverted,
			)
		}

		return receipt, nil
	}, nil
}

// revertReason replays a reverted transaction as an eth_call at the block it was mined in and
// returns the decoded reason, or "" when the node gives none.
func revertReason(
	ctx context.Context, caller ethereum.ContractCaller, from common.Address, tx *types.Transaction, receipt *types.Receipt,
) string {
	call := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Data:     tx.Data(),
		Value:    tx.Value(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
	}

	_, err := caller.CallContract(ctx, call, receipt.BlockNumber)
	if err == nil {
		return ""
	}

	return evm.RevertReason(err)
}

// WaitMinedWithInterval polls for the receipt of txHash every tick, which confirms faster than
// bind.WaitMined on networks with instant blocks.
func WaitMinedWithInterval(ctx context.Context, tick time.Duration, b evm.ReceiptReader, txHash common.Hash) (*types.Receipt, error) {
	queryTicker := time.NewTicker(tick)
	defer queryTicker.Stop()
	for {
		receipt, err := b.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-queryTicker.C:
		}
	}
}
