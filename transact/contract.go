// Package transact builds, signs, broadcasts and verifies a single contract call on an EVM
// chain. Each step fails with an error wrapping one of the package's error kinds.
package transact

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vestingops/allotctl/chain/evm"
	"github.com/vestingops/allotctl/deployment"
	"github.com/vestingops/allotctl/pkg/logger"
)

// ChainProvider connects to a chain. provider.RPCChainProvider and provider.SimChainProvider
// implement it.
type ChainProvider interface {
	Initialize(ctx context.Context) (evm.Chain, error)
}

// Connect initializes the provider. A credential that cannot produce a signer is reported as
// ErrSigning, any other failure as ErrNetwork.
func Connect(ctx context.Context, p ChainProvider) (evm.Chain, error) {
	chain, err := p.Initialize(ctx)
	if err != nil {
		if errors.Is(err, evm.ErrInvalidSigner) {
			return evm.Chain{}, stepError(StepConnect, ErrSigning, err)
		}

		return evm.Chain{}, stepError(StepConnect, ErrNetwork, err)
	}

	return chain, nil
}

// Contract is a contract interface bound to its address on a connected chain.
type Contract struct {
	Address common.Address
	ABI     abi.ABI

	chain evm.Chain
	lggr  logger.Logger
}

// Result is the outcome of a mined transaction.
type Result struct {
	Tx      *types.Transaction
	Receipt *types.Receipt
}

// Hash returns the transaction hash.
func (r *Result) Hash() common.Hash {
	return r.Tx.Hash()
}

// Bind resolves the address of the contract on the connected chain. The chain must have been
// connected first so the network identity is known.
func Bind(
	ctx context.Context, chain evm.Chain, resolver deployment.Resolver, contractABI abi.ABI, lggr logger.Logger,
) (*Contract, error) {
	if chain.Client == nil || chain.ChainID == nil {
		return nil, stepError(StepResolve, ErrNetwork, errors.New("chain is not connected"))
	}
	if resolver == nil {
		return nil, stepError(StepResolve, ErrResolution, errors.New("no resolver configured"))
	}

	addr, err := resolver.Resolve(ctx, chain)
	if err != nil {
		return nil, stepError(StepResolve, ErrResolution, fmt.Errorf("chain %s: %w", chain.String(), err))
	}

	lggr = lggr.Named("Contract")
	lggr.Infow("Resolved contract address", "chain", chain.String(), "address", addr.Hex())

	return &Contract{
		Address: addr,
		ABI:     contractABI,
		chain:   chain,
		lggr:    lggr,
	}, nil
}

// HasMethod reports whether the ABI declares method.
func (c *Contract) HasMethod(method string) bool {
	_, ok := c.ABI.Methods[method]

	return ok
}

// Chain returns the chain the contract is bound on.
func (c *Contract) Chain() evm.Chain {
	return c.chain
}

// Prepare encodes the call, estimates gas as sender, fetches the gas price and the pending
// nonce of sender, and signs. The returned transaction is not broadcast.
//
// The signing key must belong to sender; the estimate would otherwise not describe the
// transaction that gets signed.
func (c *Contract) Prepare(ctx context.Context, sender common.Address, method string, args ...any) (*types.Transaction, error) {
	opts := c.chain.DeployerKey
	if opts == nil || opts.Signer == nil {
		return nil, stepError(StepSign, ErrSigning, errors.New("no signing key configured"))
	}
	if opts.From != sender {
		return nil, stepError(StepSign, ErrSigning,
			fmt.Errorf("signing key belongs to %s, not to sender %s", opts.From.Hex(), sender.Hex()))
	}

	data, err := c.pack(method, args)
	if err != nil {
		return nil, err
	}

	gasLimit, err := c.chain.Client.EstimateGas(ctx, ethereum.CallMsg{
		From: sender,
		To:   &c.Address,
		Data: data,
	})
	if err != nil {
		return nil, stepError(StepEstimate, ErrEstimation, fmt.Errorf("%s from %s: %s", method, sender.Hex(), evm.RevertReason(err)))
	}
	if opts.GasLimit != 0 {
		c.lggr.Debugw("Using pinned gas limit", "estimated", gasLimit, "pinned", opts.GasLimit)
		gasLimit = opts.GasLimit
	}

	gasPrice := opts.GasPrice
	if gasPrice == nil {
		gasPrice, err = c.chain.Client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, stepError(StepGasPrice, ErrNetwork, err)
		}
	}

	nonce, err := c.chain.Client.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, stepError(StepNonce, ErrNetwork, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.Address,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := opts.Signer(sender, tx)
	if err != nil {
		return nil, stepError(StepSign, ErrSigning, err)
	}

	c.lggr.Infow("Signed transaction",
		"method", method, "from", sender.Hex(), "nonce", nonce,
		"gas", gasLimit, "gasPrice", gasPrice.String(), "hash", signed.Hash().Hex(),
	)

	return signed, nil
}

// Broadcast checks the transaction is signed for the chain the node serves, submits it and
// waits for its receipt. A mined but failed transaction returns the receipt and ErrReverted.
func (c *Contract) Broadcast(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if c.chain.Confirm == nil {
		return nil, stepError(StepConfirm, ErrNetwork, errors.New("no confirm function configured"))
	}

	if err := c.CheckChainID(ctx, tx); err != nil {
		return nil, err
	}

	if err := c.chain.Client.SendTransaction(ctx, tx); err != nil {
		return nil, stepError(StepSend, ErrSubmission, fmt.Errorf("tx %s: %w", tx.Hash().Hex(), err))
	}
	c.lggr.Infow("Transaction sent", "hash", tx.Hash().Hex())

	receipt, err := c.chain.Confirm(ctx, tx)
	if err != nil {
		switch {
		case errors.Is(err, evm.ErrTxReverted):
			return receipt, stepError(StepConfirm, ErrReverted, err)
		case errors.Is(err, evm.ErrConfirmTimeout),
			errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, context.Canceled):
			return nil, stepError(StepConfirm, ErrConfirmationTimeout,
				fmt.Errorf("tx %s was broadcast, outcome unknown: %w", tx.Hash().Hex(), err))
		default:
			return nil, stepError(StepConfirm, ErrNetwork, err)
		}
	}

	c.lggr.Infow("Transaction mined",
		"hash", tx.Hash().Hex(), "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed,
	)

	return receipt, nil
}

// CheckChainID fails with ErrChainMismatch unless tx is signed for the chain id the node
// currently reports.
func (c *Contract) CheckChainID(ctx context.Context, tx *types.Transaction) error {
	nodeChainID, err := c.chain.Client.ChainID(ctx)
	if err != nil {
		return stepError(StepChainID, ErrNetwork, err)
	}
	if tx.ChainId().Cmp(nodeChainID) != 0 {
		return stepError(StepChainID, ErrChainMismatch,
			fmt.Errorf("transaction is signed for chain id %s, node serves %s", tx.ChainId(), nodeChainID))
	}

	return nil
}

// Transact prepares and broadcasts a call of method.
func (c *Contract) Transact(ctx context.Context, sender common.Address, method string, args ...any) (*Result, error) {
	tx, err := c.Prepare(ctx, sender, method, args...)
	if err != nil {
		return nil, err
	}

	receipt, err := c.Broadcast(ctx, tx)
	if err != nil {
		if receipt != nil {
			return &Result{Tx: tx, Receipt: receipt}, err
		}

		return nil, err
	}

	return &Result{Tx: tx, Receipt: receipt}, nil
}

// Call runs a read-only eth_call of method against the latest block and decodes its outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.pack(method, args)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{To: &c.Address, Data: data}
	if c.chain.DeployerKey != nil {
		msg.From = c.chain.DeployerKey.From
	}

	out, err := c.chain.Client.CallContract(ctx, msg, nil)
	if err != nil {
		if isRevert(err) {
			return nil, stepError(StepCall, ErrReverted, fmt.Errorf("%s: %s", method, evm.RevertReason(err)))
		}

		return nil, stepError(StepCall, ErrNetwork, fmt.Errorf("%s: %w", method, err))
	}

	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, stepError(StepDecode, ErrEncoding, fmt.Errorf("%s: %w", method, err))
	}

	return values, nil
}

// pack encodes a call of method. Integer arguments must fit the declared input type, abi.Pack
// would otherwise encode them modulo 2^256.
func (c *Contract) pack(method string, args []any) ([]byte, error) {
	if m, ok := c.ABI.Methods[method]; ok {
		if err := checkArgs(m, args); err != nil {
			return nil, stepError(StepEncode, ErrEncoding, fmt.Errorf("%s: %w", method, err))
		}
	}

	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, stepError(StepEncode, ErrEncoding, fmt.Errorf("%s: %w", method, err))
	}

	return data, nil
}

// isRevert reports whether a call error comes from execution rather than from the transport.
func isRevert(err error) bool {
	if data, derr := evm.ErrorData(err); derr == nil && data != "" {
		return true
	}

	return strings.Contains(err.Error(), "execution reverted")
}
